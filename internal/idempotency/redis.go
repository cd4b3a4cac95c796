package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "transfer:idem:"

// RedisCache backs the fast tier with Redis so deduplication survives
// process restarts and is shared across replicas.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Lookup(ctx context.Context, key string) (string, bool, error) {
	val, err := c.client.Get(ctx, redisKeyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("idempotency cache get: %w", err)
	}
	return val, true, nil
}

func (c *RedisCache) Remember(ctx context.Context, key, reference string, ttl time.Duration) error {
	if key == "" || reference == "" || ttl <= 0 {
		return nil
	}
	if err := c.client.Set(ctx, redisKeyPrefix+key, reference, ttl).Err(); err != nil {
		return fmt.Errorf("idempotency cache set: %w", err)
	}
	return nil
}
