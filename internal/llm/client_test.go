package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/docuchat/docuchat/internal/auth"
	"github.com/docuchat/docuchat/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*HTTPClient, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := NewHTTPClient(Config{
		BaseURL:     srv.URL,
		APIVersion:  "2024-02-01",
		Credentials: auth.StaticProvider{Key: "test-key"},
		Retry:       &RetryConfig{MaxRetries: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1},
	})
	return client, srv
}

func TestComplete(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/openai/deployments/gpt-4/chat/completions", r.URL.Path)
		assert.Equal(t, "2024-02-01", r.URL.Query().Get("api-version"))
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req wireRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.False(t, req.Stream)
		assert.Equal(t, 1, req.N)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, models.RoleSystem, req.Messages[0].Role)

		_ = json.NewEncoder(w).Encode(wireResponse{
			ID: "cmpl-1",
			Choices: []wireChoice{{
				Message:      wireMessage{Role: models.RoleAssistant, Content: "Health plan cardio coverage"},
				FinishReason: "stop",
			}},
			Usage: Usage{PromptTokens: 40, CompletionTokens: 5, TotalTokens: 45},
		})
	})

	resp, err := client.Complete(context.Background(), Request{
		Deployment: "gpt-4",
		Messages: []models.Turn{
			{Role: models.RoleSystem, Content: "Generate a search query."},
			{Role: models.RoleUser, Content: "does my plan cover cardio?"},
		},
		Temperature: 0,
		MaxTokens:   100,
	})
	require.NoError(t, err)
	assert.Equal(t, "Health plan cardio coverage", resp.Content)
	assert.Equal(t, 45, resp.Usage.TotalTokens)
}

func TestCompleteRemoteError(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"bad request"}`, http.StatusBadRequest)
	})

	_, err := client.Complete(context.Background(), Request{Deployment: "gpt-4"})
	require.Error(t, err)
	assert.Equal(t, models.CategoryRemoteService, models.CategoryOf(err))
}

func TestCompleteRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "upstream overloaded", http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(wireResponse{
			Choices: []wireChoice{{Message: wireMessage{Content: "ok"}, FinishReason: "stop"}},
		})
	})

	resp, err := client.Complete(context.Background(), Request{Deployment: "gpt-4"})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, int32(2), calls.Load())
}

func sseChunk(content string) string {
	resp := wireStreamResponse{Choices: []wireStreamChoice{{Delta: wireMessage{Content: content}}}}
	b, _ := json.Marshal(resp)
	return "data: " + string(b) + "\n\n"
}

func TestCompleteStream(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req wireRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, chunk := range []string{"Hel", "lo"} {
			fmt.Fprint(w, sseChunk(chunk))
			flusher.Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	})

	ch, err := client.CompleteStream(context.Background(), Request{Deployment: "gpt-4"})
	require.NoError(t, err)

	var got strings.Builder
	var done bool
	for f := range ch {
		require.NoError(t, f.Err)
		if f.Done {
			done = true
			continue
		}
		got.WriteString(f.Text)
	}
	assert.True(t, done)
	assert.Equal(t, "Hello", got.String())
}

func TestCompleteStreamConsumerCancellation(t *testing.T) {
	release := make(chan struct{})
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		fmt.Fprint(w, sseChunk("first"))
		flusher.Flush()
		<-release
	})
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := client.CompleteStream(ctx, Request{Deployment: "gpt-4"})
	require.NoError(t, err)

	f := <-ch
	assert.Equal(t, "first", f.Text)

	cancel()
	// Producer observes cancellation and closes the channel.
	for range ch {
	}
}
