package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/docuchat/docuchat/internal/models"
	"github.com/docuchat/docuchat/internal/observability"
)

// maxAppendAttempts bounds the retry loop when an append loses the
// version race to a concurrent turn.
const maxAppendAttempts = 3

// SummaryCache caches the list-view projection per user. Implementations
// may be absent; the ledger treats a nil cache as a pass-through.
type SummaryCache interface {
	Get(ctx context.Context, user string) ([]models.ConversationSummary, bool)
	Set(ctx context.Context, user string, summaries []models.ConversationSummary)
	Invalidate(ctx context.Context, user string)
}

// Entry is one completed turn to persist.
type Entry struct {
	ConversationID string
	User           string
	Approach       models.ApproachKind
	Input          string
	Response       string
	TotalTokens    int
	Timestamp      string
	Title          string // optional; synthesized on first turn when empty
	Query          string // present only for retrieval-grounded turns
}

// Ledger coordinates the store, the title source and the summary cache.
type Ledger struct {
	store   Store
	titles  TitleSource
	cache   SummaryCache
	botName string
	logger  *logrus.Logger
	metrics *observability.Collector
}

// New creates a ledger. titles and cache may be nil.
func New(store Store, titles TitleSource, cache SummaryCache, botName string, logger *logrus.Logger) *Ledger {
	if logger == nil {
		logger = logrus.New()
	}
	return &Ledger{
		store:   store,
		titles:  titles,
		cache:   cache,
		botName: botName,
		logger:  logger,
	}
}

// WithMetrics attaches the collector. Returns l for chaining at wiring
// time; a nil collector leaves metrics off.
func (l *Ledger) WithMetrics(metrics *observability.Collector) *Ledger {
	l.metrics = metrics
	return l
}

// Record persists one turn: appends a user/responder pair to an existing
// conversation, or creates the record on the first turn, synthesizing a
// title when none was supplied. Appends retry on version conflicts so
// concurrent turns interleave instead of overwriting each other.
func (l *Ledger) Record(ctx context.Context, entry Entry) error {
	turns := []models.Turn{
		{Role: models.RoleUser, Content: entry.Input},
		{Role: entry.Approach.ResponderRole(), Content: entry.Response},
	}

	for attempt := 0; attempt < maxAppendAttempts; attempt++ {
		existing, err := l.store.Get(ctx, entry.ConversationID, l.botName)
		if err != nil {
			if models.IsNotFound(err) {
				return l.create(ctx, entry, turns)
			}
			return err
		}

		err = l.store.AppendTurns(ctx, entry.ConversationID, l.botName, turns, existing.Version)
		if err == nil {
			l.invalidate(ctx, entry.User)
			return nil
		}
		if errors.Is(err, ErrVersionConflict) {
			if l.metrics != nil {
				l.metrics.AppendConflicts.Inc()
			}
			l.logger.WithFields(logrus.Fields{
				"conversation_id": entry.ConversationID,
				"attempt":         attempt + 1,
			}).Warn("Conversation append lost a version race, retrying")
			continue
		}
		return err
	}

	return models.WrapPersistence("ledger.Ledger.Record", ErrVersionConflict)
}

func (l *Ledger) create(ctx context.Context, entry Entry, turns []models.Turn) error {
	title := entry.Title
	if title == "" {
		title = l.generateTitle(ctx, entry.Input)
	}

	rec := &models.ConversationRecord{
		ConversationID: entry.ConversationID,
		Approach:       entry.Approach,
		User:           entry.User,
		Tokens:         entry.TotalTokens,
		Timestamp:      entry.Timestamp,
		Title:          title,
		BotName:        l.botName,
		Query:          entry.Query,
		Messages:       turns,
	}
	if err := l.store.Create(ctx, rec); err != nil {
		return err
	}
	l.invalidate(ctx, entry.User)
	return nil
}

// generateTitle degrades to the placeholder title on any failure; a
// missing title must never abort the turn.
func (l *Ledger) generateTitle(ctx context.Context, input string) string {
	if l.titles == nil {
		l.fellBackToDefaultTitle()
		return DefaultTitle
	}
	start := time.Now()
	title, err := l.titles.Generate(ctx, input)
	if l.metrics != nil {
		l.metrics.ObserveStage(observability.StageTitle, start, string(models.CategoryOf(err)))
	}
	if err != nil {
		l.logger.WithError(err).Warn("Title generation failed, using placeholder")
		l.fellBackToDefaultTitle()
		return DefaultTitle
	}
	return title
}

func (l *Ledger) fellBackToDefaultTitle() {
	if l.metrics != nil {
		l.metrics.TitleFallback.Inc()
	}
}

// ListConversations returns the user's conversation summaries, or nil
// when none exist.
func (l *Ledger) ListConversations(ctx context.Context, user string) ([]models.ConversationSummary, error) {
	if l.cache != nil {
		if summaries, ok := l.cache.Get(ctx, user); ok {
			if l.metrics != nil {
				l.metrics.CacheHits.WithLabelValues("summaries").Inc()
			}
			return summaries, nil
		}
		if l.metrics != nil {
			l.metrics.CacheMisses.WithLabelValues("summaries").Inc()
		}
	}
	summaries, err := l.store.ListByUser(ctx, user, l.botName)
	if err != nil {
		return nil, err
	}
	if l.cache != nil && summaries != nil {
		l.cache.Set(ctx, user, summaries)
	}
	return summaries, nil
}

// GetConversation returns the full turn list for one conversation.
func (l *Ledger) GetConversation(ctx context.Context, conversationID string, approach models.ApproachKind) (*models.ConversationRecord, error) {
	return l.store.GetContent(ctx, conversationID, approach, l.botName)
}

// Delete removes every record matching the conversation id, reporting
// failure when none matched.
func (l *Ledger) Delete(ctx context.Context, conversationID string) error {
	existing, err := l.store.Get(ctx, conversationID, l.botName)
	if err != nil {
		return err
	}

	deleted, err := l.store.Delete(ctx, conversationID, l.botName)
	if err != nil {
		return err
	}
	if deleted == 0 {
		return models.NotFound("ledger.Ledger.Delete", "conversation not found")
	}
	l.invalidate(ctx, existing.User)
	return nil
}

func (l *Ledger) invalidate(ctx context.Context, user string) {
	if l.cache != nil {
		l.cache.Invalidate(ctx, user)
	}
}
