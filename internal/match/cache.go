package match

import (
	"context"
	"sync"
	"time"
)

// CacheEntry is one cached scoring result, keyed by normalized text.
type CacheEntry struct {
	Response   string    `json:"response"`
	Confidence float64   `json:"confidence"`
	CreatedAt  time.Time `json:"created_at"`
}

// ResponseCache is the bounded response cache owned by the matching engine.
// The default backend is in-process; a Redis backend is available for
// multi-process deployments.
type ResponseCache interface {
	// Get returns the entry for the key. Expired entries are never returned.
	Get(ctx context.Context, key string) (*CacheEntry, bool)
	// Put stores an entry, evicting the oldest-inserted on overflow.
	Put(ctx context.Context, key string, entry CacheEntry) error
	// Sweep purges expired entries and reports how many were removed.
	Sweep(ctx context.Context) int
	// Size returns the number of live entries.
	Size(ctx context.Context) int
}

// MemoryCache is the in-process ResponseCache: a bounded map with TTL and
// oldest-inserted eviction.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]CacheEntry
	order   []string // insertion order for size-based eviction
	ttl     time.Duration
	maxSize int
}

// NewMemoryCache creates a cache with the given TTL and size cap.
func NewMemoryCache(ttl time.Duration, maxSize int) *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]CacheEntry),
		ttl:     ttl,
		maxSize: maxSize,
	}
}

func (c *MemoryCache) Get(ctx context.Context, key string) (*CacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if time.Since(entry.CreatedAt) > c.ttl {
		delete(c.entries, key)
		c.removeFromOrder(key)
		return nil, false
	}
	return &entry, true
}

func (c *MemoryCache) Put(ctx context.Context, key string, entry CacheEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[key]; !exists {
		for len(c.entries) >= c.maxSize && len(c.order) > 0 {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.entries, oldest)
		}
		c.order = append(c.order, key)
	}
	c.entries[key] = entry
	return nil
}

func (c *MemoryCache) Sweep(ctx context.Context) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	kept := c.order[:0]
	for _, key := range c.order {
		entry, ok := c.entries[key]
		if ok && time.Since(entry.CreatedAt) > c.ttl {
			delete(c.entries, key)
			removed++
			continue
		}
		kept = append(kept, key)
	}
	c.order = kept
	return removed
}

func (c *MemoryCache) Size(ctx context.Context) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *MemoryCache) removeFromOrder(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}
