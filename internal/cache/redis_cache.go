package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

func seenKey(sessionID, providerMessageID string) string {
	return fmt.Sprintf("seen:%s:%s", sessionID, providerMessageID)
}

func (c *RedisCache) Seen(ctx context.Context, sessionID, providerMessageID string) (bool, error) {
	err := c.rdb.Get(ctx, seenKey(sessionID, providerMessageID)).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (c *RedisCache) MarkSeen(ctx context.Context, sessionID, providerMessageID string) error {
	key := seenKey(sessionID, providerMessageID)
	return c.rdb.Set(ctx, key, time.Now().UTC().Format(time.RFC3339Nano), c.ttl).Err()
}
