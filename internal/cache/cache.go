// Package cache defines the minimal key-value and sorted-set surfaces
// the gateway needs from its shared store, with a go-redis adapter and
// an in-memory fallback for tests and local development.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned by Get when a key is absent or expired.
var ErrMiss = errors.New("cache: key not found")

// KV is the plain TTL key-value surface used for token claims.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// SortedSet is the score-ordered surface used by the sliding-window
// rate limiter. Scores are Unix timestamps in seconds.
type SortedSet interface {
	ZRemRangeByScore(ctx context.Context, key string, min, max float64) error
	ZCard(ctx context.Context, key string) (int64, error)
	ZAdd(ctx context.Context, key string, score float64, member string) error
	// ZOldestScore returns the lowest score in the set, with ok=false
	// when the set is empty.
	ZOldestScore(ctx context.Context, key string) (float64, bool, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
}

// Store is the combined surface the composition root wires up.
type Store interface {
	KV
	SortedSet
	Ping(ctx context.Context) error
	Close() error
}
