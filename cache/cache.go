// Package cache is a thin read-through layer over Redis.
//
// The cache is strictly derived state: the durable store stays the
// single source of truth, and a total cache wipe may only ever make
// authentication slower, never wrong. Invalidation is prefix-wide:
// mutations to a user's session set purge every key under that user's
// prefix, not just the row touched.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrUnavailable wraps any Redis transport failure.
var ErrUnavailable = errors.New("cache unavailable")

// Cache wraps a Redis client with get-or-load and prefix invalidation.
type Cache struct {
	redis redis.UniversalClient
}

// New returns a Cache backed by the given Redis client.
func New(client redis.UniversalClient) *Cache {
	return &Cache{redis: client}
}

// GetOrLoad returns the cached value for key when present. On a miss it
// invokes loader; when loader reports the value as cacheable it is
// stored with ttl before being returned. Loader errors pass through
// unchanged and nothing is cached for them.
func (c *Cache) GetOrLoad(ctx context.Context, key string, ttl time.Duration, loader func(context.Context) ([]byte, bool, error)) ([]byte, error) {
	data, err := c.redis.Get(ctx, key).Bytes()
	if err == nil {
		return data, nil
	}
	if !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	loaded, cacheable, err := loader(ctx)
	if err != nil {
		return nil, err
	}

	if cacheable {
		if err := c.redis.Set(ctx, key, loaded, ttl).Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	return loaded, nil
}

// Set stores value under key with ttl.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.redis.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Delete removes the given keys. Missing keys are not an error.
func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := c.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// InvalidatePrefix deletes every key beginning with prefix. SCAN-based,
// so it is O(n) in matching keys; prefixes are scoped per user, which
// keeps n small on the hot paths that call this.
func (c *Cache) InvalidatePrefix(ctx context.Context, prefix string) error {
	pattern := prefix + "*"
	var cursor uint64

	for {
		keys, next, err := c.redis.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		if len(keys) > 0 {
			if err := c.redis.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("%w: %v", ErrUnavailable, err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}
