package aggregate

import (
	"context"
	"sync"
	"time"
)

// DefaultTTL is how long a view model is served from cache
const DefaultTTL = 30 * time.Second

// Entry is a cached view model. It is valid while now-FetchedAt <= ttl.
type Entry[T any] struct {
	Data      T         `json:"data"`
	FetchedAt time.Time `json:"fetched_at"`
}

func (e Entry[T]) valid(now time.Time, ttl time.Duration) bool {
	return now.Sub(e.FetchedAt) <= ttl
}

// Cache stores view models per account. Expired entries are never returned.
type Cache[T any] interface {
	Get(ctx context.Context, key string) (T, bool)
	Put(ctx context.Context, key string, data T)
	Invalidate(ctx context.Context, key string)
	Clear(ctx context.Context)
}

// MemoryCache is an in-process Cache
type MemoryCache[T any] struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]Entry[T]
}

// NewMemoryCache creates a cache with the given TTL and clock
func NewMemoryCache[T any](ttl time.Duration, now func() time.Time) *MemoryCache[T] {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if now == nil {
		now = time.Now
	}
	return &MemoryCache[T]{
		ttl:     ttl,
		now:     now,
		entries: make(map[string]Entry[T]),
	}
}

func (c *MemoryCache[T]) Get(_ context.Context, key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		var zero T
		return zero, false
	}
	if !entry.valid(c.now(), c.ttl) {
		delete(c.entries, key)
		var zero T
		return zero, false
	}
	return entry.Data, true
}

func (c *MemoryCache[T]) Put(_ context.Context, key string, data T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = Entry[T]{Data: data, FetchedAt: c.now()}
}

func (c *MemoryCache[T]) Invalidate(_ context.Context, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

func (c *MemoryCache[T]) Clear(_ context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]Entry[T])
}

// Len returns the number of stored entries, expired or not
func (c *MemoryCache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
