package eventlog

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "chargeguard:event:"

// RedisLog is a Log shared by every service instance.
type RedisLog struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisLog creates a RedisLog from a redis:// URL.
func NewRedisLog(url string, ttl time.Duration) (*RedisLog, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedisLogFromClient(redis.NewClient(opts), ttl), nil
}

// NewRedisLogFromClient wraps an existing client.
func NewRedisLogFromClient(client *redis.Client, ttl time.Duration) *RedisLog {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisLog{client: client, ttl: ttl}
}

func (r *RedisLog) MarkSeen(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, ErrEmptyEventID
	}
	first, err := r.client.SetNX(ctx, keyPrefix+id, time.Now().Unix(), r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("mark event %s: %w", id, err)
	}
	return first, nil
}

func (r *RedisLog) Forget(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, keyPrefix+id).Err(); err != nil {
		return fmt.Errorf("forget event %s: %w", id, err)
	}
	return nil
}

// Ping checks connectivity. Used by the health endpoint.
func (r *RedisLog) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the underlying client.
func (r *RedisLog) Close() error {
	return r.client.Close()
}

var _ Log = (*RedisLog)(nil)
