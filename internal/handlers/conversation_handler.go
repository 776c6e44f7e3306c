package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/docuchat/docuchat/internal/ledger"
	"github.com/docuchat/docuchat/internal/models"
)

// ConversationHandler serves the conversation history read and delete
// endpoints.
type ConversationHandler struct {
	ledger *ledger.Ledger
	logger *logrus.Logger
}

// NewConversationHandler creates the history handler.
func NewConversationHandler(led *ledger.Ledger, logger *logrus.Logger) *ConversationHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &ConversationHandler{ledger: led, logger: logger}
}

// List returns the caller's conversation summaries, or null when none
// exist.
// POST /
func (h *ConversationHandler) List(c *gin.Context) {
	var payload struct {
		LoginUser string `json:"loginUser"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	user := fallbackUser(payload.LoginUser)

	summaries, err := h.ledger.ListConversations(c.Request.Context(), user)
	if err != nil {
		h.fail(c, user, err)
		return
	}
	if summaries == nil {
		c.JSON(http.StatusOK, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user_id":       user,
		"conversations": summaries,
	})
}

// Content returns one conversation's full turn list, or null when it
// does not exist.
// POST /conversationcontent
func (h *ConversationHandler) Content(c *gin.Context) {
	var payload struct {
		ConversationID string `json:"conversation_id"`
		Approach       string `json:"approach"`
		LoginUser      string `json:"loginUser"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	user := fallbackUser(payload.LoginUser)
	approach, err := models.ParseApproach(payload.Approach)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rec, err := h.ledger.GetConversation(c.Request.Context(), payload.ConversationID, approach)
	if err != nil {
		if models.IsNotFound(err) {
			c.JSON(http.StatusOK, nil)
			return
		}
		h.fail(c, user, err)
		return
	}
	if len(rec.Messages) == 0 {
		c.JSON(http.StatusOK, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"conversation_id": rec.ConversationID,
		"approach":        rec.Approach,
		"conversations":   rec.Messages,
	})
}

// Delete removes every record for a conversation id.
// POST /delete
func (h *ConversationHandler) Delete(c *gin.Context) {
	var payload struct {
		ConversationID string `json:"conversation_id"`
		LoginUser      string `json:"loginUser"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.ledger.Delete(c.Request.Context(), payload.ConversationID); err != nil {
		if models.IsNotFound(err) {
			c.JSON(http.StatusOK, gin.H{"success": false})
			return
		}
		h.fail(c, fallbackUser(payload.LoginUser), err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// fallbackUser substitutes the anonymized username when the caller sent
// none, so failure logs always carry a user tag.
func fallbackUser(loginUser string) string {
	if loginUser == "" {
		return "anonymous"
	}
	return loginUser
}

func (h *ConversationHandler) fail(c *gin.Context, user string, err error) {
	category := models.CategoryOf(err)
	h.logger.WithError(err).WithFields(logrus.Fields{
		"user":     user,
		"category": category,
	}).Error("Conversation request failed")
	c.JSON(statusForCategory(category), gin.H{
		"error":    err.Error(),
		"category": category,
	})
}
