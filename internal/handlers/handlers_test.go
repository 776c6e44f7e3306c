package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	logrustest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docuchat/docuchat/internal/chat"
	"github.com/docuchat/docuchat/internal/ledger"
	"github.com/docuchat/docuchat/internal/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// scriptedApproach replays a fixed event sequence and records the request.
type scriptedApproach struct {
	events  []chat.Event
	err     error
	lastReq chat.TurnRequest
}

func (s *scriptedApproach) Run(ctx context.Context, req chat.TurnRequest) (<-chan chat.Event, error) {
	s.lastReq = req
	if s.err != nil {
		return nil, s.err
	}
	out := make(chan chat.Event, len(s.events))
	for _, ev := range s.events {
		out <- ev
	}
	close(out)
	return out, nil
}

func turnRouter(approach chat.Approach) *gin.Engine {
	h := NewChatHandler(map[models.ApproachKind]chat.Approach{
		models.ApproachChat:      approach,
		models.ApproachDocSearch: approach,
	}, quietLogger())
	r := gin.New()
	r.POST("/chat", h.Turn)
	r.POST("/docsearch", h.Turn)
	return r
}

func postJSON(t *testing.T, r *gin.Engine, path string, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestTurnStreamsFragmentsThenMetadata(t *testing.T) {
	approach := &scriptedApproach{events: []chat.Event{
		{Fragment: "Hel"},
		{Fragment: "lo"},
		{Result: &chat.Result{Answer: "Hello", DataPoints: []string{"a.pdf: text"}, Thoughts: "Searched for:<br>q"}},
	}}
	r := turnRouter(approach)

	rec := postJSON(t, r, "/docsearch", `{
		"approach": "docsearch",
		"loginUser": "alice",
		"history": [{"role": "user", "content": "hi"}],
		"conversationId": "conv-1",
		"timestamp": "2026-08-28T10:00:00Z",
		"conversation_title": ""
	}`)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.HasPrefix(body, "Hello\n"))
	assert.True(t, strings.HasSuffix(body, chat.EndOfResponse))

	metaJSON := strings.TrimSuffix(strings.TrimPrefix(body, "Hello\n"), chat.EndOfResponse)
	var meta chat.Result
	require.NoError(t, json.Unmarshal([]byte(metaJSON), &meta))
	assert.Equal(t, "Hello", meta.Answer)
	assert.Equal(t, []string{"a.pdf: text"}, meta.DataPoints)

	assert.Equal(t, "alice", approach.lastReq.User)
	assert.Equal(t, "conv-1", approach.lastReq.ConversationID)
}

func TestTurnAppliesOverrideDefaults(t *testing.T) {
	approach := &scriptedApproach{events: []chat.Event{{Result: &chat.Result{Answer: ""}}}}
	r := turnRouter(approach)

	rec := postJSON(t, r, "/chat", `{
		"approach": "chat",
		"history": [{"role": "user", "content": "hi"}],
		"overrides": {"temperature": 0.7}
	}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "anonymous", approach.lastReq.User)
	assert.Equal(t, "gpt-35-turbo", approach.lastReq.Overrides.Model)
	assert.Equal(t, 3, approach.lastReq.Overrides.Top)
	assert.InDelta(t, 0.7, approach.lastReq.Overrides.Temperature, 0.001)
}

func TestTurnRejectsUnknownApproach(t *testing.T) {
	r := turnRouter(&scriptedApproach{})

	rec := postJSON(t, r, "/chat", `{"approach": "ask", "history": []}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTurnSurfacesValidationFailure(t *testing.T) {
	approach := &scriptedApproach{err: &models.Error{
		Category: models.CategoryInvalidRequest,
		Op:       "chat.TurnRequest",
		Message:  "history is empty",
	}}
	r := turnRouter(approach)

	rec := postJSON(t, r, "/chat", `{"approach": "chat", "history": []}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_request")
}

func TestTurnRemoteFailureMapsToBadGateway(t *testing.T) {
	approach := &scriptedApproach{events: []chat.Event{
		{Err: models.WrapRemote("search.Client.Search", context.DeadlineExceeded)},
	}}
	r := turnRouter(approach)

	rec := postJSON(t, r, "/docsearch", `{"approach": "docsearch", "history": [{"role":"user","content":"hi"}]}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "remote_service")
}

func TestTurnMidStreamFailureReportsInBand(t *testing.T) {
	approach := &scriptedApproach{events: []chat.Event{
		{Fragment: "par"},
		{Err: models.WrapRemote("llm.HTTPClient.CompleteStream", io.ErrUnexpectedEOF)},
	}}
	r := turnRouter(approach)

	rec := postJSON(t, r, "/chat", `{"approach": "chat", "history": [{"role":"user","content":"hi"}]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.HasPrefix(body, "par\n"))
	assert.Contains(t, body, "remote_service")
	assert.True(t, strings.HasSuffix(body, chat.EndOfResponse))
}

func conversationRouter(t *testing.T) (*gin.Engine, *ledger.Ledger) {
	t.Helper()
	led := ledger.New(ledger.NewMemoryStore(), nil, nil, "docuchat", quietLogger())
	h := NewConversationHandler(led, quietLogger())
	r := gin.New()
	r.POST("/", h.List)
	r.POST("/conversationcontent", h.Content)
	r.POST("/delete", h.Delete)
	return r, led
}

func recordTurn(t *testing.T, led *ledger.Ledger, conversationID string) {
	t.Helper()
	require.NoError(t, led.Record(context.Background(), ledger.Entry{
		ConversationID: conversationID,
		User:           "alice",
		Approach:       models.ApproachChat,
		Input:          "hi",
		Response:       "hello",
		Title:          "Greetings",
		Timestamp:      "2026-08-28T10:00:00Z",
	}))
}

func TestListReturnsNullForUnknownUser(t *testing.T) {
	r, _ := conversationRouter(t)

	rec := postJSON(t, r, "/", `{"loginUser": "nobody"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "null", strings.TrimSpace(rec.Body.String()))
}

func TestListReturnsSummaries(t *testing.T) {
	r, led := conversationRouter(t)
	recordTurn(t, led, "conv-1")

	rec := postJSON(t, r, "/", `{"loginUser": "alice"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var payload struct {
		UserID        string                       `json:"user_id"`
		Conversations []models.ConversationSummary `json:"conversations"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, "alice", payload.UserID)
	require.Len(t, payload.Conversations, 1)
	assert.Equal(t, "Greetings", payload.Conversations[0].Title)
}

func TestContentReturnsTurnsOrNull(t *testing.T) {
	r, led := conversationRouter(t)
	recordTurn(t, led, "conv-1")

	rec := postJSON(t, r, "/conversationcontent", `{"conversation_id": "conv-1", "approach": "chat"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var payload struct {
		ConversationID string        `json:"conversation_id"`
		Conversations  []models.Turn `json:"conversations"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, "conv-1", payload.ConversationID)
	require.Len(t, payload.Conversations, 2)
	assert.Equal(t, "hello", payload.Conversations[1].Content)

	rec = postJSON(t, r, "/conversationcontent", `{"conversation_id": "missing", "approach": "chat"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "null", strings.TrimSpace(rec.Body.String()))
}

func TestDeleteReportsSuccess(t *testing.T) {
	r, led := conversationRouter(t)
	recordTurn(t, led, "conv-1")

	rec := postJSON(t, r, "/delete", `{"conversation_id": "conv-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success": true}`, rec.Body.String())

	rec = postJSON(t, r, "/delete", `{"conversation_id": "conv-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success": false}`, rec.Body.String())
}

// brokenStore fails every read so handler error paths can be observed.
type brokenStore struct {
	*ledger.MemoryStore
}

func (s *brokenStore) Get(ctx context.Context, conversationID, botName string) (*models.ConversationRecord, error) {
	return nil, models.WrapPersistence("ledger.PostgresStore.Get", io.ErrClosedPipe)
}

func (s *brokenStore) GetContent(ctx context.Context, conversationID string, approach models.ApproachKind, botName string) (*models.ConversationRecord, error) {
	return nil, models.WrapPersistence("ledger.PostgresStore.GetContent", io.ErrClosedPipe)
}

func TestConversationFailureLogsCarryUsername(t *testing.T) {
	logger, hook := logrustest.NewNullLogger()
	led := ledger.New(&brokenStore{ledger.NewMemoryStore()}, nil, nil, "docuchat", logger)
	h := NewConversationHandler(led, logger)
	r := gin.New()
	r.POST("/conversationcontent", h.Content)
	r.POST("/delete", h.Delete)

	rec := postJSON(t, r, "/conversationcontent", `{"conversation_id": "conv-1", "approach": "chat"}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "anonymous", hook.LastEntry().Data["user"])

	hook.Reset()
	rec = postJSON(t, r, "/delete", `{"conversation_id": "conv-1", "loginUser": "bob"}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "bob", hook.LastEntry().Data["user"])
}

func TestHealthReportsDependencyFailure(t *testing.T) {
	h := NewHealthHandler(map[string]HealthChecker{
		"database": func(ctx context.Context) error { return nil },
		"redis":    func(ctx context.Context) error { return io.ErrClosedPipe },
	})
	r := gin.New()
	r.GET("/health", h.Health)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "unhealthy")

	ok := NewHealthHandler(nil)
	r2 := gin.New()
	r2.GET("/health", ok.Health)
	rec2 := httptest.NewRecorder()
	r2.ServeHTTP(rec2, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec2.Code)
}
