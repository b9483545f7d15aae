package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Redis stores values as plain Redis strings without expiry.
type Redis struct {
	client *redis.Client
}

// NewRedis wraps an existing client.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	v, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("redis get %s: %w", key, err)
	}
	return v, nil
}

// Apply runs the mutation inside MULTI/EXEC.
func (r *Redis) Apply(ctx context.Context, m Mutation) error {
	if m.Empty() {
		return nil
	}
	pipe := r.client.TxPipeline()
	for k, v := range m.Set {
		pipe.Set(ctx, k, v, 0)
	}
	if len(m.Delete) > 0 {
		pipe.Del(ctx, m.Delete...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis apply: %w", err)
	}
	return nil
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
