package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ekaya-inc/medsearch/pkg/config"
)

// NewRedisClient creates a new Redis client with the given configuration.
// Returns nil if Redis is not configured (host is empty).
func NewRedisClient(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	if !cfg.Enabled() {
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}

const payloadKeyPrefix = "medsearch:payload:"

// RedisPayloadCache stores raw upstream payloads keyed by a caller-chosen key.
type RedisPayloadCache struct {
	client redis.Cmdable
}

// NewRedisPayloadCache wraps client. client may be a *redis.Client or any
// other Cmdable such as a cluster client.
func NewRedisPayloadCache(client redis.Cmdable) *RedisPayloadCache {
	return &RedisPayloadCache{client: client}
}

// Get returns the cached payload and whether it was present.
func (c *RedisPayloadCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := c.client.Get(ctx, payloadKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cached payload: %w", err)
	}
	return data, true, nil
}

// Set stores payload for ttl. A zero ttl keeps the key until evicted.
func (c *RedisPayloadCache) Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, payloadKeyPrefix+key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache payload: %w", err)
	}
	return nil
}
