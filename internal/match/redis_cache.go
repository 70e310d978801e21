package match

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	backend "github.com/redis/go-redis/v9"
)

// RedisCache implements ResponseCache on Redis, for deployments running more
// than one ZapDesk process against the same corpus. TTL is delegated to Redis
// key expiry, so Sweep is a no-op and size-based eviction is left to Redis
// memory policies.
type RedisCache struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache creates a cache around an existing Redis client.
func NewRedisCache(client *backend.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{
		client: client,
		prefix: "zapdesk:cache:",
		ttl:    ttl,
	}
}

func (c *RedisCache) key(k string) string {
	return c.prefix + k
}

func (c *RedisCache) Get(ctx context.Context, key string) (*CacheEntry, bool) {
	data, err := c.client.Get(ctx, c.key(key)).Bytes()
	if err == backend.Nil {
		return nil, false
	}
	if err != nil {
		slog.Warn("RedisCache Get failed, treating as miss", "error", err)
		return nil, false
	}
	var entry CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		slog.Warn("RedisCache Get unmarshal failed, treating as miss", "error", err)
		return nil, false
	}
	// Entries older than the TTL are never returned, even if Redis expiry lags.
	if time.Since(entry.CreatedAt) > c.ttl {
		return nil, false
	}
	return &entry, true
}

func (c *RedisCache) Put(ctx context.Context, key string, entry CacheEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(key), data, c.ttl).Err()
}

// Sweep is a no-op: Redis expires keys itself.
func (c *RedisCache) Sweep(ctx context.Context) int {
	return 0
}

func (c *RedisCache) Size(ctx context.Context) int {
	var cursor uint64
	count := 0
	for {
		keys, next, err := c.client.Scan(ctx, cursor, c.prefix+"*", 100).Result()
		if err != nil {
			slog.Warn("RedisCache Size scan failed", "error", err)
			return count
		}
		count += len(keys)
		cursor = next
		if cursor == 0 {
			return count
		}
	}
}
