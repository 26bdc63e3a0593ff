package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"grovevault-engine/internal/observability"
)

// DefaultTTL bounds how stale a memoized read result may get.
const DefaultTTL = 30 * time.Second

// MemoryCache is an in-process ResultCache backed by go-cache.
type MemoryCache struct {
	backend *gocache.Cache
}

// NewMemoryCache creates a memory cache with the given default TTL.
// A zero defaultTTL falls back to DefaultTTL.
func NewMemoryCache(defaultTTL time.Duration) *MemoryCache {
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	return &MemoryCache{
		backend: gocache.New(defaultTTL, 2*defaultTTL),
	}
}

// Get returns the cached value and whether it was present.
func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool) {
	v, ok := c.backend.Get(key)
	observability.RecordCacheLookup(ok)
	if !ok {
		return nil, false
	}
	return v.([]byte), true
}

// Set stores a value with a TTL.
func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = gocache.DefaultExpiration
	}
	c.backend.Set(key, value, ttl)
}

// Invalidate removes a key immediately.
func (c *MemoryCache) Invalidate(_ context.Context, key string) {
	c.backend.Delete(key)
}

var _ ResultCache = (*MemoryCache)(nil)
