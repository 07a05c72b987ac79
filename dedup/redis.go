package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/poiesic/trendwire/core"
	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces seen-cache keys.
const DefaultRedisPrefix = "trendwire:seen:"

// RedisCache is a SeenCache shared by every worker connected to one Redis.
type RedisCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisCache creates a RedisCache. An empty prefix uses DefaultRedisPrefix;
// a non-positive ttl uses DefaultTTL.
func NewRedisCache(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisCache {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisCache{client: client, prefix: prefix, ttl: ttl}
}

func (c *RedisCache) key(fp core.Fingerprint) string {
	return c.prefix + string(fp)
}

func (c *RedisCache) Seen(ctx context.Context, fp core.Fingerprint) (bool, error) {
	n, err := c.client.Exists(ctx, c.key(fp)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n > 0, nil
}

func (c *RedisCache) Mark(ctx context.Context, fp core.Fingerprint) error {
	if err := c.client.Set(ctx, c.key(fp), 1, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}
