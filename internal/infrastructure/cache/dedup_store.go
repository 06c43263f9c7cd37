package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/erp/sync-engine/internal/domain/webhook"
	"github.com/redis/go-redis/v9"
)

// RedisDedupStore implements the webhook duplicate fast path using SETNX.
// Misses fall through to the database unique index, so losing Redis state
// only costs an extra insert attempt.
type RedisDedupStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisDedupStore creates a Redis-backed dedup store
func NewRedisDedupStore(client *redis.Client) *RedisDedupStore {
	return &RedisDedupStore{
		client:    client,
		keyPrefix: "webhook:dedup:",
	}
}

// MarkSeen marks a key as seen with a TTL; false means it was already present
func (s *RedisDedupStore) MarkSeen(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	set, err := s.client.SetNX(ctx, s.keyPrefix+key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to mark key as seen: %w", err)
	}
	return set, nil
}

// Ensure RedisDedupStore implements DedupStore
var _ webhook.DedupStore = (*RedisDedupStore)(nil)

// InMemoryDedupStore is a per-process dedup store for tests and
// single-instance deployments.
type InMemoryDedupStore struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

// NewInMemoryDedupStore creates an in-process dedup store
func NewInMemoryDedupStore() *InMemoryDedupStore {
	return &InMemoryDedupStore{seen: make(map[string]time.Time)}
}

// MarkSeen marks a key as seen with a TTL; false means it was already present
func (s *InMemoryDedupStore) MarkSeen(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if expiry, ok := s.seen[key]; ok && expiry.After(now) {
		return false, nil
	}
	s.seen[key] = now.Add(ttl)
	return true, nil
}

// Ensure InMemoryDedupStore implements DedupStore
var _ webhook.DedupStore = (*InMemoryDedupStore)(nil)
