package auth

import (
	"sync"
	"time"

	"github.com/cisentry/cisentry/internal/idp"
)

// tokenCache memoizes successful userinfo validations keyed by the raw
// token value. Entries expire after a TTL and the cache is bounded: when
// full, the entry closest to expiry is evicted.
type tokenCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	maxSize int
}

type cacheEntry struct {
	info      *idp.Userinfo
	expiresAt time.Time
}

func newTokenCache(maxSize int) *tokenCache {
	if maxSize <= 0 {
		maxSize = 1024
	}
	return &tokenCache{entries: make(map[string]cacheEntry), maxSize: maxSize}
}

func (c *tokenCache) get(token string, now time.Time) *idp.Userinfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[token]
	if !ok {
		return nil
	}
	if now.After(e.expiresAt) {
		delete(c.entries, token)
		return nil
	}
	return e.info
}

func (c *tokenCache) put(token string, info *idp.Userinfo, expiresAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= c.maxSize {
		c.evictLocked()
	}
	c.entries[token] = cacheEntry{info: info, expiresAt: expiresAt}
}

func (c *tokenCache) evictLocked() {
	var victim string
	var soonest time.Time
	for k, e := range c.entries {
		if victim == "" || e.expiresAt.Before(soonest) {
			victim = k
			soonest = e.expiresAt
		}
	}
	if victim != "" {
		delete(c.entries, victim)
	}
}

func (c *tokenCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
