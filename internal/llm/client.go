package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/docuchat/docuchat/internal/auth"
	"github.com/docuchat/docuchat/internal/models"
)

// Client is the completion-service contract the orchestration depends on.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
	CompleteStream(ctx context.Context, req Request) (<-chan Fragment, error)
}

// RetryConfig defines retry behavior for transient completion failures.
type RetryConfig struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultRetryConfig returns sensible defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
}

// HTTPClient talks to an OpenAI-wire-compatible chat completions endpoint.
// The deployment handle is interpolated into the URL per call.
type HTTPClient struct {
	baseURL     string
	apiVersion  string
	credentials auth.TokenProvider
	httpClient  *http.Client
	retryConfig RetryConfig
	logger      *logrus.Logger
}

// Config configures the HTTP completion client.
type Config struct {
	BaseURL     string
	APIVersion  string
	Timeout     time.Duration
	Credentials auth.TokenProvider
	Retry       *RetryConfig
	Logger      *logrus.Logger
}

// NewHTTPClient creates a completion client.
func NewHTTPClient(cfg Config) *HTTPClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	retry := DefaultRetryConfig()
	if cfg.Retry != nil {
		retry = *cfg.Retry
	}
	return &HTTPClient{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiVersion:  cfg.APIVersion,
		credentials: cfg.Credentials,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		retryConfig: retry,
		logger:      cfg.Logger,
	}
}

// Complete sends a blocking completion request.
func (c *HTTPClient) Complete(ctx context.Context, req Request) (*Response, error) {
	resp, err := c.makeAPICall(ctx, req, false)
	if err != nil {
		return nil, models.WrapRemote("llm.Client.Complete", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, models.WrapRemote("llm.Client.Complete", fmt.Errorf("failed to read response: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, models.WrapRemote("llm.Client.Complete",
			fmt.Errorf("completion service error: %d - %s", resp.StatusCode, string(body)))
	}

	var apiResp wireResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, models.WrapRemote("llm.Client.Complete", fmt.Errorf("failed to parse response: %w", err))
	}
	if len(apiResp.Choices) == 0 {
		return nil, models.WrapRemote("llm.Client.Complete", fmt.Errorf("completion returned no choices"))
	}

	return &Response{
		Content:      apiResp.Choices[0].Message.Content,
		FinishReason: apiResp.Choices[0].FinishReason,
		Usage:        apiResp.Usage,
	}, nil
}

// CompleteStream sends a streaming completion request. Fragments arrive in
// generation order; the channel closes after a Done or Err fragment. The
// remote stream is abandoned promptly when ctx is cancelled.
func (c *HTTPClient) CompleteStream(ctx context.Context, req Request) (<-chan Fragment, error) {
	resp, err := c.makeAPICall(ctx, req, true)
	if err != nil {
		return nil, models.WrapRemote("llm.Client.CompleteStream", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		return nil, models.WrapRemote("llm.Client.CompleteStream",
			fmt.Errorf("completion service error: %d - %s", resp.StatusCode, string(body)))
	}

	ch := make(chan Fragment)
	go func() {
		defer func() { _ = resp.Body.Close() }()
		defer close(ch)

		reader := bufio.NewReader(resp.Body)
		for {
			line, err := reader.ReadBytes('\n')
			if err != nil {
				if err == io.EOF {
					c.emit(ctx, ch, Fragment{Done: true})
				} else if ctx.Err() != nil {
					// Consumer stopped; nothing to report.
				} else {
					c.emit(ctx, ch, Fragment{Err: models.WrapRemote("llm.Client.CompleteStream", err)})
				}
				return
			}

			line = bytes.TrimSpace(line)
			if !bytes.HasPrefix(line, []byte("data: ")) {
				continue
			}
			line = bytes.TrimPrefix(line, []byte("data: "))

			if string(line) == "[DONE]" {
				c.emit(ctx, ch, Fragment{Done: true})
				return
			}

			var streamResp wireStreamResponse
			if err := json.Unmarshal(line, &streamResp); err != nil {
				continue
			}
			if len(streamResp.Choices) == 0 {
				continue
			}
			if delta := streamResp.Choices[0].Delta.Content; delta != "" {
				if !c.emit(ctx, ch, Fragment{Text: delta}) {
					return
				}
			}
		}
	}()

	return ch, nil
}

// emit forwards a fragment unless the consumer has gone away.
func (c *HTTPClient) emit(ctx context.Context, ch chan<- Fragment, f Fragment) bool {
	select {
	case ch <- f:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *HTTPClient) makeAPICall(ctx context.Context, req Request, stream bool) (*http.Response, error) {
	wireReq := wireRequest{
		Messages:    make([]wireMessage, len(req.Messages)),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		N:           1,
		Stream:      stream,
	}
	for i, m := range req.Messages {
		wireReq.Messages[i] = wireMessage{Role: m.Role, Content: m.Content}
	}

	body, err := json.Marshal(wireReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/openai/deployments/%s/chat/completions", c.baseURL, req.Deployment)
	if c.apiVersion != "" {
		url += "?api-version=" + c.apiVersion
	}

	var lastErr error
	for attempt := 0; attempt <= c.retryConfig.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.calculateBackoff(attempt)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")

		if c.credentials != nil {
			tok, err := c.credentials.Token(ctx)
			if err != nil {
				return nil, fmt.Errorf("failed to obtain credential: %w", err)
			}
			httpReq.Header.Set("Authorization", "Bearer "+tok.Value)
		}

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			_ = resp.Body.Close()
			lastErr = fmt.Errorf("retryable error: status %d", resp.StatusCode)
			continue
		}

		return resp, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (c *HTTPClient) calculateBackoff(attempt int) time.Duration {
	delay := c.retryConfig.InitialDelay
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * c.retryConfig.Multiplier)
		if delay > c.retryConfig.MaxDelay {
			delay = c.retryConfig.MaxDelay
			break
		}
	}
	jitter := time.Duration(rand.Float64() * float64(delay) * 0.1) // #nosec G404
	return delay + jitter
}
