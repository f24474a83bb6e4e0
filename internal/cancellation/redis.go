package cancellation

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix        = "news_sync:cancel:"
	defaultSignalTTL = 24 * time.Hour
)

// RedisRegistry shares cancel signals between replicas. Keys expire so a
// signal raised after a job finished does not linger forever.
type RedisRegistry struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisRegistry connects using a redis:// URL.
func NewRedisRegistry(url string, ttl time.Duration) (*RedisRegistry, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedisRegistryWithClient(redis.NewClient(opts), ttl), nil
}

func NewRedisRegistryWithClient(client *redis.Client, ttl time.Duration) *RedisRegistry {
	if ttl <= 0 {
		ttl = defaultSignalTTL
	}
	return &RedisRegistry{client: client, ttl: ttl}
}

func (r *RedisRegistry) Raise(ctx context.Context, jobID string) error {
	if err := r.client.Set(ctx, keyPrefix+jobID, "1", r.ttl).Err(); err != nil {
		return fmt.Errorf("raise cancel signal: %w", err)
	}
	return nil
}

func (r *RedisRegistry) IsRaised(ctx context.Context, jobID string) (bool, error) {
	n, err := r.client.Exists(ctx, keyPrefix+jobID).Result()
	if err != nil {
		return false, fmt.Errorf("check cancel signal: %w", err)
	}
	return n > 0, nil
}

func (r *RedisRegistry) Clear(ctx context.Context, jobID string) error {
	if err := r.client.Del(ctx, keyPrefix+jobID).Err(); err != nil {
		return fmt.Errorf("clear cancel signal: %w", err)
	}
	return nil
}

// Ping verifies connectivity at startup.
func (r *RedisRegistry) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisRegistry) Close() error {
	return r.client.Close()
}
