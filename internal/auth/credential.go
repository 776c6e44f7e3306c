// Package auth supplies access credentials to the remote-service clients.
// The refresh-on-expiry policy lives in an explicit decorator instead of
// module-level state.
package auth

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Token is an access credential with its expiry.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// TokenProvider yields a credential for outbound calls.
type TokenProvider interface {
	Token(ctx context.Context) (Token, error)
}

// StaticProvider returns a fixed API key that never expires. Used when the
// completion and search services authenticate by key.
type StaticProvider struct {
	Key string
}

func (p StaticProvider) Token(ctx context.Context) (Token, error) {
	return Token{Value: p.Key}, nil
}

// RefreshMargin is how close to expiry a cached token may get before it is
// renewed ahead of use.
const RefreshMargin = 60 * time.Second

// RefreshingProvider caches a token from an upstream provider and renews
// it once it is within RefreshMargin of expiry. Refresh is serialized: two
// concurrent callers hitting an expired token trigger one upstream call.
type RefreshingProvider struct {
	upstream TokenProvider
	logger   *logrus.Logger

	mu     sync.Mutex
	cached Token
	now    func() time.Time
}

// NewRefreshingProvider wraps upstream with cached refresh-on-expiry.
func NewRefreshingProvider(upstream TokenProvider, logger *logrus.Logger) *RefreshingProvider {
	if logger == nil {
		logger = logrus.New()
	}
	return &RefreshingProvider{
		upstream: upstream,
		logger:   logger,
		now:      time.Now,
	}
}

func (p *RefreshingProvider) Token(ctx context.Context) (Token, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cached.Value != "" && p.now().Add(RefreshMargin).Before(p.cached.ExpiresAt) {
		return p.cached, nil
	}

	tok, err := p.upstream.Token(ctx)
	if err != nil {
		return Token{}, err
	}
	p.cached = tok
	p.logger.WithField("expires_at", tok.ExpiresAt).Debug("Access credential refreshed")
	return tok, nil
}
