package cache

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"github.com/docuchat/docuchat/internal/models"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// An unreachable Redis degrades to misses and no-ops rather than errors.
func TestSummaryCacheUnreachableDegradesToMiss(t *testing.T) {
	c := NewSummaryCache(Options{Addr: "127.0.0.1:0"}, quietLogger())
	defer c.Close()
	ctx := context.Background()

	summaries, ok := c.Get(ctx, "alice")
	assert.False(t, ok)
	assert.Nil(t, summaries)

	c.Set(ctx, "alice", []models.ConversationSummary{{ConversationID: "conv-1"}})
	c.Invalidate(ctx, "alice")

	assert.Error(t, c.Ping(ctx))
}

func TestSummaryCacheDefaultTTL(t *testing.T) {
	c := NewSummaryCache(Options{Addr: "127.0.0.1:0"}, quietLogger())
	defer c.Close()
	assert.Equal(t, DefaultSummaryTTL, c.ttl)

	custom := NewSummaryCache(Options{Addr: "127.0.0.1:0", TTL: time.Minute}, quietLogger())
	defer custom.Close()
	assert.Equal(t, time.Minute, custom.ttl)
}
