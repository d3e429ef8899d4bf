package cache

import (
	"sync"
	"time"
)

type Category string

const (
	CategoryChats       Category = "chats"
	CategoryMessages    Category = "messages"
	CategoryImageCounts Category = "image_counts"
)

// Per-category lifetimes. No sliding expiration, no LRU: entries go stale and
// get overwritten by the next fetch.
var categoryTTL = map[Category]time.Duration{
	CategoryChats:       5 * time.Minute,
	CategoryMessages:    10 * time.Minute,
	CategoryImageCounts: 30 * time.Minute,
}

type entry struct {
	value    any
	storedAt time.Time
	ttl      time.Duration
}

// Cache is an advisory in-memory TTL cache. A stale entry is treated exactly
// like a missing one and is only detected on read; there is no sweeper. A
// miss always falls through to a live fetch, so the worst failure mode is a
// redundant network call.
type Cache struct {
	mu      sync.Mutex
	entries map[Category]map[string]entry
	now     func() time.Time
}

func New() *Cache {
	return &Cache{
		entries: make(map[Category]map[string]entry),
		now:     time.Now,
	}
}

func TTL(cat Category) time.Duration {
	return categoryTTL[cat]
}

func (c *Cache) Get(cat Category, key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[cat][key]
	if !ok {
		return nil, false
	}
	if c.now().Sub(e.storedAt) >= e.ttl {
		return nil, false
	}
	return e.value, true
}

func (c *Cache) Set(cat Category, key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.entries[cat] == nil {
		c.entries[cat] = make(map[string]entry)
	}
	c.entries[cat][key] = entry{
		value:    value,
		storedAt: c.now(),
		ttl:      categoryTTL[cat],
	}
}

// Invalidate removes one entry, or every entry in the category when no key is
// given.
func (c *Cache) Invalidate(cat Category, keys ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(keys) == 0 {
		delete(c.entries, cat)
		return
	}
	for _, k := range keys {
		delete(c.entries[cat], k)
	}
}

// GetAs is Get with the type assertion folded in; a cached value of the wrong
// type counts as a miss.
func GetAs[T any](c *Cache, cat Category, key string) (T, bool) {
	var zero T
	v, ok := c.Get(cat, key)
	if !ok {
		return zero, false
	}
	typed, ok := v.(T)
	if !ok {
		return zero, false
	}
	return typed, true
}
