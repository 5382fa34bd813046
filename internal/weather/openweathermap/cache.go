package openweathermap

import (
	"sync"
	"time"

	"code.cloudfoundry.org/clock"
)

type cacheEntry struct {
	value    any
	storedAt time.Time
}

// responseCache holds normalized provider responses. Entries are fresh for
// ttl and retained as stale fallbacks for up to maxStale.
type responseCache struct {
	mu       sync.Mutex
	clock    clock.Clock
	ttl      time.Duration
	maxStale time.Duration
	entries  map[string]cacheEntry
}

func newResponseCache(clk clock.Clock, ttl, maxStale time.Duration) *responseCache {
	if maxStale < ttl {
		maxStale = ttl
	}
	return &responseCache{
		clock:    clk,
		ttl:      ttl,
		maxStale: maxStale,
		entries:  make(map[string]cacheEntry),
	}
}

// fresh returns the value stored under key if it is younger than ttl.
func (c *responseCache) fresh(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || c.clock.Since(e.storedAt) >= c.ttl {
		return nil, false
	}
	return e.value, true
}

// stale returns whatever is stored under key, ignoring ttl.
func (c *responseCache) stale(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	return e.value, true
}

func (c *responseCache) set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	for k, e := range c.entries {
		if now.Sub(e.storedAt) >= c.maxStale {
			delete(c.entries, k)
		}
	}
	c.entries[key] = cacheEntry{value: value, storedAt: now}
}

func (c *responseCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
