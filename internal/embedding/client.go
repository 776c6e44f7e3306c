// Package embedding converts query text into fixed-length vectors for
// similarity search.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/docuchat/docuchat/internal/auth"
	"github.com/docuchat/docuchat/internal/models"
)

// Embedder is the contract the retrieval stage consumes. Failures
// propagate up; there is no silent fallback to lexical-only search.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// HTTPClient talks to an OpenAI-wire-compatible embeddings deployment.
type HTTPClient struct {
	baseURL     string
	deployment  string
	apiVersion  string
	credentials auth.TokenProvider
	httpClient  *http.Client
	logger      *logrus.Logger
}

// Config configures the embedding client.
type Config struct {
	BaseURL     string
	Deployment  string
	APIVersion  string
	Timeout     time.Duration
	Credentials auth.TokenProvider
	Logger      *logrus.Logger
}

// NewHTTPClient creates an embedding client.
func NewHTTPClient(cfg Config) *HTTPClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &HTTPClient{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		deployment:  cfg.Deployment,
		apiVersion:  cfg.APIVersion,
		credentials: cfg.Credentials,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		logger:      cfg.Logger,
	}
}

type wireRequest struct {
	Input string `json:"input"`
}

type wireResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// EmbedQuery returns the vector for one query string.
func (c *HTTPClient) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(wireRequest{Input: text})
	if err != nil {
		return nil, models.WrapRemote("embedding.Client.EmbedQuery", fmt.Errorf("failed to marshal request: %w", err))
	}

	url := fmt.Sprintf("%s/openai/deployments/%s/embeddings", c.baseURL, c.deployment)
	if c.apiVersion != "" {
		url += "?api-version=" + c.apiVersion
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, models.WrapRemote("embedding.Client.EmbedQuery", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	if c.credentials != nil {
		tok, err := c.credentials.Token(ctx)
		if err != nil {
			return nil, models.WrapRemote("embedding.Client.EmbedQuery", fmt.Errorf("failed to obtain credential: %w", err))
		}
		httpReq.Header.Set("Authorization", "Bearer "+tok.Value)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, models.WrapRemote("embedding.Client.EmbedQuery", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, models.WrapRemote("embedding.Client.EmbedQuery", fmt.Errorf("failed to read response: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, models.WrapRemote("embedding.Client.EmbedQuery",
			fmt.Errorf("embedding service error: %d - %s", resp.StatusCode, string(respBody)))
	}

	var apiResp wireResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, models.WrapRemote("embedding.Client.EmbedQuery", fmt.Errorf("failed to parse response: %w", err))
	}
	if len(apiResp.Data) == 0 || len(apiResp.Data[0].Embedding) == 0 {
		return nil, models.WrapRemote("embedding.Client.EmbedQuery", fmt.Errorf("embedding response carried no vector"))
	}

	c.logger.WithField("dimensions", len(apiResp.Data[0].Embedding)).Debug("Query embedded")
	return apiResp.Data[0].Embedding, nil
}
