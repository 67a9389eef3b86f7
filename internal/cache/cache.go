package cache

import (
	"sync"
	"time"
)

// KeyedCache is a TTL cache for active-session reads. It is never
// authoritative: a miss or an eviction only costs a durable-store read.
type KeyedCache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.RWMutex
	entries map[string]entry
}

type entry struct {
	val     any
	expires time.Time
}

type CacheOpt func(*KeyedCache)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) CacheOpt {
	return func(c *KeyedCache) {
		c.now = now
	}
}

func NewKeyedCache(ttl time.Duration, opts ...CacheOpt) *KeyedCache {
	c := &KeyedCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]entry),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Get returns the cached value if present and unexpired.
func (c *KeyedCache) Get(key string) (any, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}
	if c.now().After(e.expires) {
		c.Delete(key)
		return nil, false
	}
	return e.val, true
}

// Set stores a value with the cache's TTL.
func (c *KeyedCache) Set(key string, val any) {
	c.mu.Lock()
	c.entries[key] = entry{val: val, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

// Delete removes a key.
func (c *KeyedCache) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Sweep drops every expired entry and reports how many were removed.
func (c *KeyedCache) Sweep() int {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for k, e := range c.entries {
		if now.After(e.expires) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// Len returns the entry count, expired or not.
func (c *KeyedCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
