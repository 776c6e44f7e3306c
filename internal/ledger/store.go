// Package ledger persists conversation turns. Each conversation is one
// durable record keyed by conversation id; the first turn creates it and
// every later turn appends a user/responder pair. Appends are guarded by a
// version token so concurrent turns on one conversation never silently
// drop each other.
package ledger

import (
	"context"
	"errors"

	"github.com/docuchat/docuchat/internal/models"
)

// ErrVersionConflict reports that an append lost a version race and should
// be retried against a fresh read.
var ErrVersionConflict = errors.New("ledger: record version conflict")

// Store is the durable backend of the ledger. All queries are scoped by
// bot name. Get and GetContent return a NotFound error when nothing
// matches; Delete reports how many records it removed.
type Store interface {
	// Get fetches the record for a conversation id.
	Get(ctx context.Context, conversationID, botName string) (*models.ConversationRecord, error)
	// Create inserts a new record.
	Create(ctx context.Context, rec *models.ConversationRecord) error
	// AppendTurns appends turns to a record if its stored version still
	// equals expectedVersion, returning ErrVersionConflict otherwise.
	AppendTurns(ctx context.Context, conversationID, botName string, turns []models.Turn, expectedVersion int64) error
	// ListByUser returns conversation summaries for one user.
	ListByUser(ctx context.Context, user, botName string) ([]models.ConversationSummary, error)
	// GetContent fetches a record by conversation id and approach.
	GetContent(ctx context.Context, conversationID string, approach models.ApproachKind, botName string) (*models.ConversationRecord, error)
	// Delete removes every record matching the conversation id.
	Delete(ctx context.Context, conversationID, botName string) (int, error)
}
