package cache

import (
	"context"
	"errors"
	"log"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"grovevault-engine/internal/observability"
)

// RedisCache is a ResultCache backed by Redis, for deployments where several
// engine instances must share memoized results. Redis failures degrade to
// cache misses; they never fail the read path.
type RedisCache struct {
	client     *redis.Client
	defaultTTL time.Duration
	logger     *log.Logger
}

// NewRedisCache creates a Redis-backed cache. A zero defaultTTL falls back
// to DefaultTTL.
func NewRedisCache(client *redis.Client, defaultTTL time.Duration, logger *log.Logger) *RedisCache {
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	if logger == nil {
		logger = log.New(os.Stdout, "[cache] ", log.LstdFlags)
	}
	return &RedisCache{client: client, defaultTTL: defaultTTL, logger: logger}
}

// Get returns the cached value and whether it was present.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	v, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Printf("redis get %s: %v", key, err)
		}
		observability.RecordCacheLookup(false)
		return nil, false
	}
	observability.RecordCacheLookup(true)
	return v, true
}

// Set stores a value with a TTL.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		c.logger.Printf("redis set %s: %v", key, err)
	}
}

// Invalidate removes a key immediately.
func (c *RedisCache) Invalidate(ctx context.Context, key string) {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.logger.Printf("redis del %s: %v", key, err)
	}
}

var _ ResultCache = (*RedisCache)(nil)
