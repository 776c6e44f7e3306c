// Package handlers exposes the conversation pipeline over HTTP.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/docuchat/docuchat/internal/chat"
	"github.com/docuchat/docuchat/internal/models"
)

// ChatHandler serves the /chat and /docsearch turn endpoints.
type ChatHandler struct {
	approaches map[models.ApproachKind]chat.Approach
	logger     *logrus.Logger
}

// NewChatHandler creates the turn handler over the configured approaches.
func NewChatHandler(approaches map[models.ApproachKind]chat.Approach, logger *logrus.Logger) *ChatHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &ChatHandler{approaches: approaches, logger: logger}
}

// turnPayload is the wire shape of a turn request. Overrides stay raw so
// absent fields keep their defaults instead of zeroing them.
type turnPayload struct {
	Approach          string          `json:"approach"`
	LoginUser         string          `json:"loginUser"`
	History           []models.Turn   `json:"history"`
	Overrides         json.RawMessage `json:"overrides"`
	ConversationID    string          `json:"conversationId"`
	Timestamp         string          `json:"timestamp"`
	ConversationTitle string          `json:"conversation_title"`
}

// Turn runs one conversation turn, streaming raw text fragments followed
// by one JSON metadata fragment and the termination marker.
// POST /chat, POST /docsearch
func (h *ChatHandler) Turn(c *gin.Context) {
	var payload turnPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user := fallbackUser(payload.LoginUser)

	approachKind, err := models.ParseApproach(payload.Approach)
	if err != nil {
		h.fail(c, user, err)
		return
	}
	approach, ok := h.approaches[approachKind]
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown approach"})
		return
	}

	overrides := models.DefaultOverrides()
	if len(payload.Overrides) > 0 {
		if err := json.Unmarshal(payload.Overrides, &overrides); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	events, err := approach.Run(c.Request.Context(), chat.TurnRequest{
		User:           user,
		History:        payload.History,
		Overrides:      overrides,
		ConversationID: payload.ConversationID,
		Timestamp:      payload.Timestamp,
		Title:          payload.ConversationTitle,
	})
	if err != nil {
		h.fail(c, user, err)
		return
	}

	h.stream(c, user, events)
}

// stream forwards fragments as they arrive, then the metadata fragment
// and the termination marker. Once the first fragment is on the wire the
// status is committed, so later failures are reported in-band.
func (h *ChatHandler) stream(c *gin.Context, user string, events <-chan chat.Event) {
	flusher, canFlush := c.Writer.(http.Flusher)
	started := false
	start := func() {
		if !started {
			started = true
			c.Writer.Header().Set("Content-Type", "text/plain; charset=utf-8")
			c.Writer.WriteHeader(http.StatusOK)
		}
	}

	for ev := range events {
		switch {
		case ev.Err != nil:
			h.logError(user, ev.Err)
			if !started {
				h.fail(c, user, ev.Err)
				return
			}
			payload, _ := json.Marshal(gin.H{"error": ev.Err.Error(), "category": models.CategoryOf(ev.Err)})
			c.Writer.Write([]byte("\n"))
			c.Writer.Write(payload)
			c.Writer.Write([]byte(chat.EndOfResponse))
			return
		case ev.Result != nil:
			start()
			meta, err := json.Marshal(ev.Result)
			if err != nil {
				h.logError(user, err)
				return
			}
			c.Writer.Write([]byte("\n"))
			c.Writer.Write(meta)
			c.Writer.Write([]byte(chat.EndOfResponse))
			if canFlush {
				flusher.Flush()
			}
		default:
			start()
			c.Writer.Write([]byte(ev.Fragment))
			if canFlush {
				flusher.Flush()
			}
		}
	}
}

func (h *ChatHandler) fail(c *gin.Context, user string, err error) {
	h.logError(user, err)
	category := models.CategoryOf(err)
	c.JSON(statusForCategory(category), gin.H{
		"error":    err.Error(),
		"category": category,
	})
}

func (h *ChatHandler) logError(user string, err error) {
	h.logger.WithError(err).WithFields(logrus.Fields{
		"user":     user,
		"category": models.CategoryOf(err),
	}).Error("Turn request failed")
}

func statusForCategory(category models.Category) int {
	switch category {
	case models.CategoryInvalidRequest, models.CategoryBudgetExhausted:
		return http.StatusBadRequest
	case models.CategoryNotFound:
		return http.StatusNotFound
	case models.CategoryRemoteService:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
