package middleware

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisFixedWindowLimiter shares one counter per client and window across API
// replicas. The window starts with the first request and is never extended.
type RedisFixedWindowLimiter struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisFixedWindowLimiter(client redis.UniversalClient, prefix string) *RedisFixedWindowLimiter {
	if prefix == "" {
		prefix = "portal:rl"
	}
	return &RedisFixedWindowLimiter{client: client, prefix: prefix}
}

func (l *RedisFixedWindowLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error) {
	if l.client == nil {
		return false, window, errors.New("redis client is nil")
	}
	if key == "" {
		key = "unknown"
	}
	if window < time.Millisecond {
		window = time.Second
	}

	storeKey := l.prefix + ":" + key
	var (
		count *redis.IntCmd
		ttl   *redis.DurationCmd
	)
	// SET NX opens the window, INCR keeps its expiry.
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SetNX(ctx, storeKey, 0, window)
		count = pipe.Incr(ctx, storeKey)
		ttl = pipe.PTTL(ctx, storeKey)
		return nil
	})
	if err != nil {
		return false, window, err
	}

	retryAfter := ttl.Val()
	if retryAfter <= 0 {
		retryAfter = window
	}
	return count.Val() <= int64(limit), retryAfter, nil
}
