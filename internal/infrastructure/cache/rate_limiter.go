package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/erp/sync-engine/internal/domain/webhook"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisRateLimiter implements a sliding-window rate limiter on a Redis
// sorted set. Suitable for distributed deployments where every instance
// must count against the same window.
type RedisRateLimiter struct {
	client    *redis.Client
	keyPrefix string
	max       int
	window    time.Duration
}

// NewRedisRateLimiter creates a sliding-window limiter allowing max requests
// per window
func NewRedisRateLimiter(client *redis.Client, max int, window time.Duration) *RedisRateLimiter {
	return &RedisRateLimiter{
		client:    client,
		keyPrefix: "webhook:ratelimit:",
		max:       max,
		window:    window,
	}
}

// Allow reports whether one more request from key fits in the window.
// Expired entries are trimmed and the new request is recorded in a single
// pipeline round trip.
func (l *RedisRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := l.keyPrefix + key
	now := time.Now()
	windowStart := now.Add(-l.window)

	pipe := l.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "0", fmt.Sprintf("%d", windowStart.UnixNano()))
	countCmd := pipe.ZCard(ctx, redisKey)
	pipe.ZAdd(ctx, redisKey, redis.Z{
		Score:  float64(now.UnixNano()),
		Member: fmt.Sprintf("%d-%s", now.UnixNano(), uuid.NewString()),
	})
	pipe.Expire(ctx, redisKey, l.window)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("rate limiter pipeline failed: %w", err)
	}

	// countCmd counted entries before this request was added
	return countCmd.Val() < int64(l.max), nil
}

// Ensure RedisRateLimiter implements RateLimiter
var _ webhook.RateLimiter = (*RedisRateLimiter)(nil)

// InMemoryRateLimiter is a per-process sliding-window limiter for tests and
// single-instance deployments.
type InMemoryRateLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

// NewInMemoryRateLimiter creates an in-process sliding-window limiter
func NewInMemoryRateLimiter(max int, window time.Duration) *InMemoryRateLimiter {
	return &InMemoryRateLimiter{
		max:     max,
		window:  window,
		entries: make(map[string][]time.Time),
	}
}

// Allow reports whether one more request from key fits in the window
func (l *InMemoryRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-l.window)

	kept := l.entries[key][:0]
	for _, t := range l.entries[key] {
		if t.After(windowStart) {
			kept = append(kept, t)
		}
	}

	allowed := len(kept) < l.max
	l.entries[key] = append(kept, now)
	return allowed, nil
}

// Ensure InMemoryRateLimiter implements RateLimiter
var _ webhook.RateLimiter = (*InMemoryRateLimiter)(nil)
