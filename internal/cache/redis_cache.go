package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"branchledger/backend/internal/domain"
)

type RedisTraySummaryCache struct {
	client *redis.Client
}

func NewRedisTraySummaryCache(addr string, password string, db int) *RedisTraySummaryCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisTraySummaryCache{client: client}
}

func (c *RedisTraySummaryCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisTraySummaryCache) Close() error {
	return c.client.Close()
}

func (c *RedisTraySummaryCache) Get(ctx context.Context, key string) (*domain.TraySummary, bool, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var summary domain.TraySummary
	if err := json.Unmarshal(val, &summary); err != nil {
		return nil, false, err
	}
	return &summary, true, nil
}

func (c *RedisTraySummaryCache) Set(ctx context.Context, key string, value *domain.TraySummary, ttl time.Duration) error {
	if value == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, payload, ttl).Err()
}

func (c *RedisTraySummaryCache) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}
