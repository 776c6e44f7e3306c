package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/docuchat/docuchat/internal/models"
)

// MemoryStore is an in-process Store used in tests and when no database
// is configured. It keeps a flat row list so delete-by-conversation-id
// behaves like the uniqueness-unenforced backend it stands in for.
type MemoryStore struct {
	mu   sync.Mutex
	rows []*models.ConversationRecord
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Get(ctx context.Context, conversationID, botName string) (*models.ConversationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.rows {
		if rec.ConversationID == conversationID && rec.BotName == botName {
			return cloneRecord(rec), nil
		}
	}
	return nil, models.NotFound("ledger.MemoryStore.Get", "conversation not found")
}

func (s *MemoryStore) Create(ctx context.Context, rec *models.ConversationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := cloneRecord(rec)
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	stored.Version = 1
	stored.CreatedAt = time.Now()
	s.rows = append(s.rows, stored)

	rec.ID = stored.ID
	rec.Version = stored.Version
	return nil
}

func (s *MemoryStore) AppendTurns(ctx context.Context, conversationID, botName string, turns []models.Turn, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.rows {
		if rec.ConversationID != conversationID || rec.BotName != botName {
			continue
		}
		if rec.Version != expectedVersion {
			return ErrVersionConflict
		}
		rec.Messages = append(rec.Messages, turns...)
		rec.Version++
		return nil
	}
	return models.NotFound("ledger.MemoryStore.AppendTurns", "conversation not found")
}

func (s *MemoryStore) ListByUser(ctx context.Context, user, botName string) ([]models.ConversationSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var summaries []models.ConversationSummary
	matched := make([]*models.ConversationRecord, 0)
	for _, rec := range s.rows {
		if rec.User == user && rec.BotName == botName {
			matched = append(matched, rec)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	for _, rec := range matched {
		summaries = append(summaries, models.ConversationSummary{
			ConversationID: rec.ConversationID,
			Approach:       rec.Approach,
			Title:          rec.Title,
			Timestamp:      rec.Timestamp,
		})
	}
	return summaries, nil
}

func (s *MemoryStore) GetContent(ctx context.Context, conversationID string, approach models.ApproachKind, botName string) (*models.ConversationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.rows {
		if rec.ConversationID == conversationID && rec.Approach == approach && rec.BotName == botName {
			return cloneRecord(rec), nil
		}
	}
	return nil, models.NotFound("ledger.MemoryStore.GetContent", "conversation not found")
}

func (s *MemoryStore) Delete(ctx context.Context, conversationID, botName string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.rows[:0]
	deleted := 0
	for _, rec := range s.rows {
		if rec.ConversationID == conversationID && rec.BotName == botName {
			deleted++
			continue
		}
		kept = append(kept, rec)
	}
	s.rows = kept
	return deleted, nil
}

func cloneRecord(rec *models.ConversationRecord) *models.ConversationRecord {
	dup := *rec
	dup.Messages = append([]models.Turn{}, rec.Messages...)
	return &dup
}
