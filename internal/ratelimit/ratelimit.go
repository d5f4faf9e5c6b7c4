// Package ratelimit implements sliding-window limits over a sorted
// set. Each request appends a timestamped member; the window slides by
// pruning members older than now minus the window before counting.
package ratelimit

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/zenzefi/gateway/internal/cache"
	"github.com/zenzefi/gateway/internal/core"
)

// Class names a limited traffic category with its own counter space.
type Class string

const (
	ClassAuth  Class = "auth"  // login and registration, keyed by client IP
	ClassAPI   Class = "api"   // management API, keyed by user id
	ClassProxy Class = "proxy" // forwarded traffic, keyed by token id
)

// Limit is requests-per-window.
type Limit struct {
	Requests int
	Window   time.Duration
}

// DefaultLimits mirrors the deployed limiter table.
func DefaultLimits() map[Class]Limit {
	return map[Class]Limit{
		ClassAuth:  {Requests: 5, Window: time.Hour},
		ClassAPI:   {Requests: 100, Window: time.Minute},
		ClassProxy: {Requests: 1000, Window: time.Minute},
	}
}

// Limiter checks and records requests against per-class limits. Cache
// failures fail open: an unreachable limiter backend must not take the
// service down with it.
type Limiter struct {
	sets   cache.SortedSet
	limits map[Class]Limit
	clock  core.Clock
	log    *slog.Logger
}

func NewLimiter(sets cache.SortedSet, limits map[Class]Limit, clock core.Clock, log *slog.Logger) *Limiter {
	if limits == nil {
		limits = DefaultLimits()
	}
	return &Limiter{sets: sets, limits: limits, clock: clock, log: log}
}

func key(class Class, id string) string {
	return fmt.Sprintf("rate_limit:%s:%s", class, id)
}

// Allow records one request for (class, id) and reports whether it is
// within the limit. On rejection the error is a *core.RateLimitError
// carrying the retry-after hint derived from the oldest surviving
// entry.
func (l *Limiter) Allow(ctx context.Context, class Class, id string) error {
	limit, ok := l.limits[class]
	if !ok {
		return nil
	}

	now := l.clock.Now()
	k := key(class, id)
	windowStart := float64(now.Add(-limit.Window).UnixNano()) / 1e9

	if err := l.sets.ZRemRangeByScore(ctx, k, 0, windowStart); err != nil {
		l.log.Warn("rate limiter unavailable, allowing request", "class", class, "error", err)
		return nil
	}

	count, err := l.sets.ZCard(ctx, k)
	if err != nil {
		l.log.Warn("rate limiter unavailable, allowing request", "class", class, "error", err)
		return nil
	}

	if count >= int64(limit.Requests) {
		retryAfter := int(limit.Window.Seconds())
		if oldest, ok, err := l.sets.ZOldestScore(ctx, k); err == nil && ok {
			nowSec := float64(now.UnixNano()) / 1e9
			remaining := oldest + limit.Window.Seconds() - nowSec
			if remaining < 0 {
				remaining = 0
			}
			retryAfter = int(math.Ceil(remaining))
		}
		return &core.RateLimitError{
			Class:      string(class),
			Limit:      limit.Requests,
			Window:     int(limit.Window.Seconds()),
			RetryAfter: retryAfter,
		}
	}

	score := float64(now.UnixNano()) / 1e9
	member := fmt.Sprintf("%.9f:%s", score, nonce())
	if err := l.sets.ZAdd(ctx, k, score, member); err != nil {
		l.log.Warn("rate limiter record failed", "class", class, "error", err)
		return nil
	}
	if err := l.sets.Expire(ctx, k, limit.Window+time.Second); err != nil {
		l.log.Warn("rate limiter expire failed", "class", class, "error", err)
	}
	return nil
}

// nonceSeq backs nonce generation when crypto/rand fails; uniqueness
// matters here, unpredictability does not.
var nonceSeq atomic.Uint64

// nonce distinguishes members that land on the same timestamp.
func nonce() string {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return strconv.FormatUint(nonceSeq.Add(1), 16)
	}
	return hex.EncodeToString(b[:])
}
