package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/docuchat/docuchat/internal/models"
)

// PostgresStore persists conversation records in a single table with the
// turn list as a JSONB column. The append path is an atomic conditional
// UPDATE: messages are concatenated server-side and the version column
// must still match.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *logrus.Logger
}

// NewPostgresStore creates a store over an existing pool.
func NewPostgresStore(pool *pgxpool.Pool, logger *logrus.Logger) *PostgresStore {
	if logger == nil {
		logger = logrus.New()
	}
	return &PostgresStore{pool: pool, logger: logger}
}

// Migrations for the conversation ledger.
var Migrations = []string{
	`CREATE TABLE IF NOT EXISTS conversations (
		id UUID PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		approach TEXT NOT NULL,
		username TEXT NOT NULL,
		tokens INTEGER NOT NULL DEFAULT 0,
		ts TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL DEFAULT '',
		bot_name TEXT NOT NULL DEFAULT '',
		query TEXT NOT NULL DEFAULT '',
		messages JSONB NOT NULL DEFAULT '[]',
		version BIGINT NOT NULL DEFAULT 1,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_conversations_conversation_id ON conversations(conversation_id)`,
	`CREATE INDEX IF NOT EXISTS idx_conversations_username ON conversations(username, bot_name)`,
}

// Migrate runs the ledger migrations.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	for _, migration := range Migrations {
		if _, err := s.pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("failed to run ledger migration: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, conversationID, botName string) (*models.ConversationRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, conversation_id, approach, username, tokens, ts, title, bot_name, query, messages, version, created_at
		 FROM conversations
		 WHERE conversation_id = $1 AND bot_name = $2
		 ORDER BY created_at
		 LIMIT 1`,
		conversationID, botName)
	return scanRecord(row)
}

func (s *PostgresStore) Create(ctx context.Context, rec *models.ConversationRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	messages, err := json.Marshal(rec.Messages)
	if err != nil {
		return models.WrapPersistence("ledger.PostgresStore.Create", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO conversations
		 (id, conversation_id, approach, username, tokens, ts, title, bot_name, query, messages, version)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 1)`,
		rec.ID, rec.ConversationID, string(rec.Approach), rec.User, rec.Tokens,
		rec.Timestamp, rec.Title, rec.BotName, rec.Query, messages)
	if err != nil {
		return models.WrapPersistence("ledger.PostgresStore.Create", err)
	}
	return nil
}

func (s *PostgresStore) AppendTurns(ctx context.Context, conversationID, botName string, turns []models.Turn, expectedVersion int64) error {
	appended, err := json.Marshal(turns)
	if err != nil {
		return models.WrapPersistence("ledger.PostgresStore.AppendTurns", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE conversations
		 SET messages = messages || $1::jsonb, version = version + 1
		 WHERE conversation_id = $2 AND bot_name = $3 AND version = $4`,
		appended, conversationID, botName, expectedVersion)
	if err != nil {
		return models.WrapPersistence("ledger.PostgresStore.AppendTurns", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	return nil
}

func (s *PostgresStore) ListByUser(ctx context.Context, user, botName string) ([]models.ConversationSummary, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT conversation_id, approach, title, ts
		 FROM conversations
		 WHERE username = $1 AND bot_name = $2
		 ORDER BY created_at DESC`,
		user, botName)
	if err != nil {
		return nil, models.WrapPersistence("ledger.PostgresStore.ListByUser", err)
	}
	defer rows.Close()

	var summaries []models.ConversationSummary
	for rows.Next() {
		var sum models.ConversationSummary
		var approach string
		if err := rows.Scan(&sum.ConversationID, &approach, &sum.Title, &sum.Timestamp); err != nil {
			return nil, models.WrapPersistence("ledger.PostgresStore.ListByUser", err)
		}
		sum.Approach = models.ApproachKind(approach)
		summaries = append(summaries, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, models.WrapPersistence("ledger.PostgresStore.ListByUser", err)
	}
	return summaries, nil
}

func (s *PostgresStore) GetContent(ctx context.Context, conversationID string, approach models.ApproachKind, botName string) (*models.ConversationRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, conversation_id, approach, username, tokens, ts, title, bot_name, query, messages, version, created_at
		 FROM conversations
		 WHERE conversation_id = $1 AND approach = $2 AND bot_name = $3
		 ORDER BY created_at
		 LIMIT 1`,
		conversationID, string(approach), botName)
	return scanRecord(row)
}

func (s *PostgresStore) Delete(ctx context.Context, conversationID, botName string) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM conversations WHERE conversation_id = $1 AND bot_name = $2`,
		conversationID, botName)
	if err != nil {
		return 0, models.WrapPersistence("ledger.PostgresStore.Delete", err)
	}
	return int(tag.RowsAffected()), nil
}

func scanRecord(row pgx.Row) (*models.ConversationRecord, error) {
	var rec models.ConversationRecord
	var approach string
	var messages []byte
	var createdAt time.Time

	err := row.Scan(&rec.ID, &rec.ConversationID, &approach, &rec.User, &rec.Tokens,
		&rec.Timestamp, &rec.Title, &rec.BotName, &rec.Query, &messages, &rec.Version, &createdAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.NotFound("ledger.PostgresStore", "conversation not found")
	}
	if err != nil {
		return nil, models.WrapPersistence("ledger.PostgresStore", err)
	}

	rec.Approach = models.ApproachKind(approach)
	rec.CreatedAt = createdAt
	if err := json.Unmarshal(messages, &rec.Messages); err != nil {
		return nil, models.WrapPersistence("ledger.PostgresStore", err)
	}
	return &rec, nil
}
