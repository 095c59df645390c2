package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"shopledger/backend/internal/domain"
)

type RedisCollectionCache struct {
	client *redis.Client
}

func NewRedisClient(addr string, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

func NewRedisCollectionCache(client *redis.Client) *RedisCollectionCache {
	return &RedisCollectionCache{client: client}
}

func (c *RedisCollectionCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCollectionCache) Close() error {
	return c.client.Close()
}

func (c *RedisCollectionCache) Get(ctx context.Context, key string) (*domain.CollectionQueue, bool, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var queue domain.CollectionQueue
	if err := json.Unmarshal(val, &queue); err != nil {
		return nil, false, err
	}
	return &queue, true, nil
}

func (c *RedisCollectionCache) Set(ctx context.Context, key string, value *domain.CollectionQueue, ttl time.Duration) error {
	if value == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, payload, ttl).Err()
}

func (c *RedisCollectionCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}
