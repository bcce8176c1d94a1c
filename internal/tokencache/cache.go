// Package tokencache holds short-lived provider bearer tokens keyed by
// credential identity. It is the one piece of shared mutable state in the
// adapter layer, so it is an explicit injectable component instead of a
// package-level map with a cleanup timer.
package tokencache

import (
	"sync"
	"time"
)

type entry struct {
	token     string
	expiresAt time.Time
}

// Cache stores tokens with explicit expiry. Safe for concurrent use.
// Redundant refreshes after concurrent misses are tolerated; the last
// writer wins and every cached token is independently valid.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	now     func() time.Time
}

// New constructs an empty cache.
func New() *Cache {
	return &Cache{
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// NewWithClock constructs a cache with an injected clock, for tests.
func NewWithClock(now func() time.Time) *Cache {
	c := New()
	c.now = now
	return c
}

// Get returns the cached token for the credential identity if it has not
// expired.
func (c *Cache) Get(key string) (string, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || !c.now().Before(e.expiresAt) {
		return "", false
	}
	return e.token, true
}

// Put stores a token with the given effective lifetime. Callers pass a
// lifetime shorter than the token's cryptographic expiry to tolerate clock
// skew against the provider.
func (c *Cache) Put(key, token string, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.entries[key] = entry{token: token, expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()
}

// Evict drops the token for the credential identity, forcing the next Get
// to miss. Used when a provider rejects a token before its expiry.
func (c *Cache) Evict(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Len reports the number of entries, expired or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
