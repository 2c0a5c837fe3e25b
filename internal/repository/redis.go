package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"courtbook/internal/models"

	"github.com/redis/go-redis/v9"
)

const responseKeyPrefix = "idempotency:"

// RedisResponseStore shares idempotency keys between instances.
type RedisResponseStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisResponseStore(client *redis.Client, ttl time.Duration) *RedisResponseStore {
	return &RedisResponseStore{
		client: client,
		ttl:    ttl,
	}
}

func (r *RedisResponseStore) Get(ctx context.Context, key string) (*models.StoredResponse, error) {
	if r.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	val, err := r.client.Get(ctx, responseKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get response from redis: %w", err)
	}

	var resp models.StoredResponse
	if err := json.Unmarshal(val, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &resp, nil
}

// Put keeps the first response stored under key; later writes are ignored.
func (r *RedisResponseStore) Put(ctx context.Context, key string, resp *models.StoredResponse) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("failed to marshal response: %w", err)
	}

	if err := r.client.SetNX(ctx, responseKeyPrefix+key, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set response in redis: %w", err)
	}
	return nil
}
