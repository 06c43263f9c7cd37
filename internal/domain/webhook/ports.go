package webhook

import (
	"context"
	"time"
)

// RateLimiter bounds how many deliveries a source may submit per window
type RateLimiter interface {
	// Allow reports whether one more request from key fits in the window
	Allow(ctx context.Context, key string) (bool, error)
}

// DedupStore is the fast-path duplicate check in front of the durable
// idempotency-key constraint. It is advisory only; the database unique
// index remains the source of truth.
type DedupStore interface {
	// MarkSeen marks a key as seen with a TTL. Returns false when the key
	// was already present.
	MarkSeen(ctx context.Context, key string, ttl time.Duration) (bool, error)
}
