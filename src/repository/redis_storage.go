package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/batua/wallet/src/store"
	"github.com/go-redis/redis/v8"
)

// RedisStorage keeps persisted wallet state in redis under an optional key
// prefix. A zero TTL keeps keys forever.
type RedisStorage struct {
	redis  *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisStorage(redis *redis.Client, prefix string, ttl time.Duration) *RedisStorage {
	return &RedisStorage{redis: redis, prefix: prefix, ttl: ttl}
}

func (r *RedisStorage) key(name string) string {
	if r.prefix == "" {
		return name
	}
	return fmt.Sprintf("%s:%s", r.prefix, name)
}

func (r *RedisStorage) GetItem(ctx context.Context, name string) ([]byte, error) {
	data, err := r.redis.Get(ctx, r.key(name)).Bytes()
	if err == redis.Nil {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", name, err)
	}
	return data, nil
}

func (r *RedisStorage) SetItem(ctx context.Context, name string, value []byte) error {
	if err := r.redis.Set(ctx, r.key(name), value, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", name, err)
	}
	return nil
}

func (r *RedisStorage) RemoveItem(ctx context.Context, name string) error {
	return r.redis.Del(ctx, r.key(name)).Err()
}
