package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisStore shares counters between instances. INCR is atomic; the window
// expiry is set by whichever request sees the key without a TTL.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &RedisStore{client: client, prefix: prefix}
}

// NewRedisClient parses a redis:// URL and checks connectivity.
func NewRedisClient(ctx context.Context, rawURL string) (*redis.Client, error) {
	options, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(options)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (s *RedisStore) Hit(ctx context.Context, key string, window time.Duration, now time.Time) (Counter, error) {
	redisKey := fmt.Sprintf("%s:%s", s.prefix, key)

	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	ttl := pipe.PTTL(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return Counter{}, fmt.Errorf("redis rate limit hit: %w", err)
	}

	remaining := ttl.Val()
	if remaining <= 0 {
		if err := s.client.PExpire(ctx, redisKey, window).Err(); err != nil {
			return Counter{}, fmt.Errorf("redis rate limit expire: %w", err)
		}
		remaining = window
	}

	resetAt := now.Add(remaining)
	return Counter{
		Count:       incr.Val(),
		WindowStart: resetAt.Add(-window),
		ResetAt:     resetAt,
	}, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
