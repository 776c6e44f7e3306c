// Package models holds the shared domain types for the document-chat
// service: conversation turns, per-request overrides, retrieved passages,
// durable conversation records and the error taxonomy used across stages.
package models

import (
	"fmt"
	"strings"
	"time"
)

// Chat roles as they appear on the wire and in stored records.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleBot       = "bot"
)

// Turn is one user or assistant message in a conversation. Immutable once
// recorded.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ApproachKind is the closed set of conversation approaches. Behavior that
// branches on the approach switches exhaustively on this type.
type ApproachKind string

const (
	ApproachChat      ApproachKind = "chat"
	ApproachDocSearch ApproachKind = "docsearch"
)

// ParseApproach validates a wire-level approach string.
func ParseApproach(s string) (ApproachKind, error) {
	switch ApproachKind(s) {
	case ApproachChat, ApproachDocSearch:
		return ApproachKind(s), nil
	default:
		return "", &Error{
			Category: CategoryInvalidRequest,
			Op:       "models.ParseApproach",
			Message:  fmt.Sprintf("unknown approach %q", s),
		}
	}
}

// ResponderRole returns the role stored for the generated side of a turn
// pair: the chat approach records an assistant, document search records a
// bot.
func (a ApproachKind) ResponderRole() string {
	switch a {
	case ApproachChat:
		return RoleAssistant
	case ApproachDocSearch:
		return RoleBot
	}
	return RoleAssistant
}

// Overrides are the per-request tunables. Unknown models and out-of-range
// values are rejected once, at the request boundary.
type Overrides struct {
	Model            string  `json:"gptModel"`
	SystemPrompt     string  `json:"systemPrompt"`
	Temperature      float64 `json:"temperature"`
	Top              int     `json:"top"`
	ExcludeCategory  string  `json:"excludeCategory"`
	SemanticCaptions bool    `json:"semanticCaptions"`
	SemanticRanker   bool    `json:"semanticRanker"`
}

// DefaultOverrides returns the values used when a request omits a field.
func DefaultOverrides() Overrides {
	return Overrides{
		Model:       "gpt-35-turbo",
		Temperature: 0.0,
		Top:         3,
	}
}

// Validate checks range constraints. The model name itself is validated
// against the profile registry by the caller.
func (o *Overrides) Validate() error {
	if strings.TrimSpace(o.Model) == "" {
		return &Error{
			Category: CategoryInvalidRequest,
			Op:       "models.Overrides.Validate",
			Message:  "model is required",
		}
	}
	if o.Temperature < 0 || o.Temperature > 2 {
		return &Error{
			Category: CategoryInvalidRequest,
			Op:       "models.Overrides.Validate",
			Message:  fmt.Sprintf("temperature %v out of range [0,2]", o.Temperature),
		}
	}
	if o.Top < 1 {
		return &Error{
			Category: CategoryInvalidRequest,
			Op:       "models.Overrides.Validate",
			Message:  fmt.Sprintf("top must be >= 1, got %d", o.Top),
		}
	}
	return nil
}

// RetrievedPassage is a snippet of indexed source content plus the stable
// label used to cite it.
type RetrievedPassage struct {
	SourceLabel string `json:"source_label"`
	Text        string `json:"text"`
}

// String renders the passage the way it appears in prompts and data points.
func (p RetrievedPassage) String() string {
	return p.SourceLabel + ": " + p.Text
}

// ConversationRecord is the durable record of one conversation. Messages
// always hold complete user/responder pairs after a successful write.
type ConversationRecord struct {
	ID             string       `json:"id"`
	ConversationID string       `json:"conversation_id"`
	Approach       ApproachKind `json:"approach"`
	User           string       `json:"user"`
	Tokens         int          `json:"tokens"`
	Timestamp      string       `json:"timestamp"`
	Title          string       `json:"conversation_title"`
	BotName        string       `json:"bot_name"`
	Query          string       `json:"query,omitempty"`
	Messages       []Turn       `json:"messages"`

	// Version guards the read-modify-write append: the store only commits
	// an update when the stored version still matches.
	Version int64 `json:"-"`

	CreatedAt time.Time `json:"-"`
}

// ConversationSummary is the list-view projection of a record.
type ConversationSummary struct {
	ConversationID string       `json:"conversation_id"`
	Approach       ApproachKind `json:"approach"`
	Title          string       `json:"title"`
	Timestamp      string       `json:"timestamp"`
}
