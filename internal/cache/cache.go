// Package cache is the idempotent result cache keyed by normalized source
// URL. A hit short-circuits re-extraction and re-transcription for repeat
// submissions of the same URL, which is what turns the queue's at-least-once
// delivery into at-most-once work.
package cache

import (
	"sync"
	"time"

	"mediascribe/internal/types"
)

type entry struct {
	value     *types.NormalizedContent
	credits   int64
	createdAt time.Time
	expiresAt time.Time
}

// Cache is a bounded in-process TTL store. When full, the oldest entry is
// evicted to make room.
type Cache struct {
	mu      sync.Mutex
	items   map[string]entry
	maxSize int
	ttl     time.Duration
	now     func() time.Time
}

func New(maxSize int, ttl time.Duration) *Cache {
	if maxSize <= 0 {
		maxSize = 100
	}
	return &Cache{
		items:   make(map[string]entry),
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns the cached content and the credits that were consumed to
// produce it, or ok=false on miss or expiry.
func (c *Cache) Get(key string) (*types.NormalizedContent, int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		return nil, 0, false
	}
	if !e.expiresAt.IsZero() && c.now().After(e.expiresAt) {
		delete(c.items, key)
		return nil, 0, false
	}
	return e.value, e.credits, true
}

// Put stores a successful payload. Failed results are never cached so a
// resubmission can retry from scratch.
func (c *Cache) Put(key string, value *types.NormalizedContent, credits int64) {
	if value == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.items) >= c.maxSize {
		if _, exists := c.items[key]; !exists {
			c.evictOldestLocked()
		}
	}
	now := c.now()
	e := entry{value: value, credits: credits, createdAt: now}
	if c.ttl > 0 {
		e.expiresAt = now.Add(c.ttl)
	}
	c.items[key] = e
}

// Delete removes an entry; used by the admin cache-purge route.
func (c *Cache) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.items[key]
	delete(c.items, key)
	return ok
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *Cache) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	first := true
	for k, e := range c.items {
		if first || e.createdAt.Before(oldest) {
			oldestKey, oldest = k, e.createdAt
			first = false
		}
	}
	if !first {
		delete(c.items, oldestKey)
	}
}
