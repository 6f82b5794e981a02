package repository

import (
	"context"
	"errors"

	"chatroom_realtime_service/internal/chat/domain"

	"github.com/go-redis/redis/v8"
)

// RedisKV string key/value storage on redis
type RedisKV struct {
	client *redis.Client
}

// NewRedisKV create RedisKV
func NewRedisKV(client *redis.Client) *RedisKV {
	return &RedisKV{client: client}
}

// Get return domain.ErrKeyNotFound when key not exist
func (r *RedisKV) Get(ctx context.Context, key string) (string, error) {
	v, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", domain.ErrKeyNotFound
	}
	return v, err
}

// Set set key without expiration
func (r *RedisKV) Set(ctx context.Context, key, value string) error {
	return r.client.Set(ctx, key, value, 0).Err()
}

// Remove delete key
func (r *RedisKV) Remove(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}
