package pesapal

import (
	"context"
	"strings"
	"sync"
	"time"

	pkgerrors "github.com/kiwanukadev/zawadi-backend/pkg/errors"
	"github.com/kiwanukadev/zawadi-backend/pkg/redis"
)

// Provider is the cache namespace for the gateway bearer token.
const Provider = "pesapal"

// TokenSource fetches a fresh bearer token and its expiry from the provider.
type TokenSource func(ctx context.Context) (string, time.Time, error)

// TokenCache holds the process-wide bearer token. The provider issues 5-minute
// tokens; the cache TTL stays below that so a served token is always usable.
// Concurrent callers are serialized through the mutex so a cold cache triggers
// a single upstream fetch per process.
type TokenCache struct {
	store redis.TokenStore
	ttl   time.Duration
	now   func() time.Time

	mu        sync.Mutex
	memToken  string
	memExpiry time.Time
}

// NewTokenCache builds a cache backed by the shared redis store. A nil store is
// allowed and degrades to in-process caching only.
func NewTokenCache(store redis.TokenStore, ttl time.Duration) *TokenCache {
	if ttl <= 0 {
		ttl = 4 * time.Minute
	}
	return &TokenCache{
		store: store,
		ttl:   ttl,
		now:   time.Now,
	}
}

// Token returns a cached bearer token, fetching through source when the cache
// is cold or expired.
func (c *TokenCache) Token(ctx context.Context, source TokenSource) (string, error) {
	if c == nil {
		return "", pkgerrors.New(pkgerrors.CodeDependency, "token cache not configured")
	}
	if source == nil {
		return "", pkgerrors.New(pkgerrors.CodeDependency, "token source is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.memToken != "" && now.Before(c.memExpiry) {
		return c.memToken, nil
	}

	if c.store != nil {
		// A flaky shared cache must not block token acquisition, so lookup
		// errors fall through to a fresh fetch.
		cached, err := c.store.Get(ctx, c.store.GatewayTokenKey(Provider))
		if err == nil && strings.TrimSpace(cached) != "" {
			c.memToken = cached
			c.memExpiry = now.Add(c.ttl)
			return cached, nil
		}
	}

	token, expiry, err := source(ctx)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(token) == "" {
		return "", pkgerrors.New(pkgerrors.CodeDependency, "provider returned empty token")
	}

	ttl := c.ttl
	if !expiry.IsZero() {
		if remaining := expiry.Sub(now); remaining > 0 && remaining < ttl {
			ttl = remaining
		}
	}

	c.memToken = token
	c.memExpiry = now.Add(ttl)

	if c.store != nil {
		// Write failures are tolerable; the local copy serves this process
		// until expiry.
		_ = c.store.Set(ctx, c.store.GatewayTokenKey(Provider), token, ttl)
	}

	return token, nil
}

// Invalidate drops the cached token so the next call refetches. Called on any
// 401 from the provider.
func (c *TokenCache) Invalidate(ctx context.Context) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.memToken = ""
	c.memExpiry = time.Time{}
	if c.store != nil {
		_ = c.store.Del(ctx, c.store.GatewayTokenKey(Provider))
	}
}

// WithClock overrides the cache clock. Test hook.
func (c *TokenCache) WithClock(now func() time.Time) *TokenCache {
	if now != nil {
		c.now = now
	}
	return c
}
