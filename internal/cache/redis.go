package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/docuchat/docuchat/internal/models"
)

// DefaultSummaryTTL bounds how stale the cached history list may get.
const DefaultSummaryTTL = 5 * time.Minute

const summaryKeyPrefix = "docuchat:summaries:"

// SummaryCache caches the per-user conversation list in Redis. Cache
// failures are logged and treated as misses; the store is always the
// source of truth.
type SummaryCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *logrus.Logger
}

// Options configures the Redis connection for the summary cache.
type Options struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// NewSummaryCache connects a summary cache to Redis.
func NewSummaryCache(opts Options, logger *logrus.Logger) *SummaryCache {
	if logger == nil {
		logger = logrus.New()
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultSummaryTTL
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return &SummaryCache{client: client, ttl: ttl, logger: logger}
}

// Ping verifies the Redis connection.
func (c *SummaryCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (c *SummaryCache) Close() error {
	return c.client.Close()
}

func (c *SummaryCache) Get(ctx context.Context, user string) ([]models.ConversationSummary, bool) {
	data, err := c.client.Get(ctx, summaryKeyPrefix+user).Result()
	if err != nil {
		if err != redis.Nil {
			c.logger.WithError(err).WithField("user", user).Warn("Summary cache read failed")
		}
		return nil, false
	}

	var summaries []models.ConversationSummary
	if err := json.Unmarshal([]byte(data), &summaries); err != nil {
		c.logger.WithError(err).WithField("user", user).Warn("Summary cache entry corrupt, dropping")
		c.Invalidate(ctx, user)
		return nil, false
	}
	return summaries, true
}

func (c *SummaryCache) Set(ctx context.Context, user string, summaries []models.ConversationSummary) {
	data, err := json.Marshal(summaries)
	if err != nil {
		c.logger.WithError(err).WithField("user", user).Warn("Summary cache encode failed")
		return
	}
	if err := c.client.Set(ctx, summaryKeyPrefix+user, data, c.ttl).Err(); err != nil {
		c.logger.WithError(err).WithField("user", user).Warn("Summary cache write failed")
	}
}

func (c *SummaryCache) Invalidate(ctx context.Context, user string) {
	if err := c.client.Del(ctx, summaryKeyPrefix+user).Err(); err != nil {
		c.logger.WithError(err).WithField("user", user).Warn("Summary cache invalidation failed")
	}
}
