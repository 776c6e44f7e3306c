// Package chat implements the conversation approaches: plain chat and
// retrieval-grounded document search. Each approach runs one turn as a
// pipeline of remote calls and streams the generated answer back while
// accumulating it for persistence.
package chat

import (
	"context"
	"strings"

	"github.com/docuchat/docuchat/internal/models"
)

// EndOfResponse terminates every fragment stream on the wire.
const EndOfResponse = "\n[END OF RESPONSE]"

// TurnRequest is one conversation turn as handed over by the transport.
// History includes the current question as its final user turn.
type TurnRequest struct {
	User           string
	History        []models.Turn
	Overrides      models.Overrides
	ConversationID string
	Timestamp      string
	Title          string
}

// latestQuestion returns the content of the final history turn, which
// must be the user's current question.
func (r *TurnRequest) latestQuestion() (string, error) {
	if len(r.History) == 0 {
		return "", &models.Error{
			Category: models.CategoryInvalidRequest,
			Op:       "chat.TurnRequest",
			Message:  "history is empty",
		}
	}
	last := r.History[len(r.History)-1]
	if last.Role != models.RoleUser {
		return "", &models.Error{
			Category: models.CategoryInvalidRequest,
			Op:       "chat.TurnRequest",
			Message:  "history must end with a user turn",
		}
	}
	if strings.TrimSpace(last.Content) == "" {
		return "", &models.Error{
			Category: models.CategoryInvalidRequest,
			Op:       "chat.TurnRequest",
			Message:  "question is empty",
		}
	}
	return last.Content, nil
}

// priorHistory returns the turns before the current question.
func (r *TurnRequest) priorHistory() []models.Turn {
	if len(r.History) == 0 {
		return nil
	}
	return r.History[:len(r.History)-1]
}

// Result is the metadata emitted after the fragment stream completes.
type Result struct {
	Answer      string   `json:"answer"`
	DataPoints  []string `json:"data_points,omitempty"`
	Thoughts    string   `json:"thoughts,omitempty"`
	TotalTokens int      `json:"-"`
}

// Event is one element of a turn's output stream: a text fragment, the
// final result, or a terminal error. Exactly one field is set.
type Event struct {
	Fragment string
	Result   *Result
	Err      error
}

// Approach runs one conversation turn and streams its output. The
// returned channel ends after a Result or Err event; an error returned
// directly means the turn failed before any output was produced.
type Approach interface {
	Run(ctx context.Context, req TurnRequest) (<-chan Event, error)
}
