package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/zenzefi/gateway/internal/core"
)

// reapInterval is how often the background sweep runs.
const reapInterval = 2 * time.Minute

// Reaper periodically closes sessions that have been idle past the
// timeout, so abandoned devices release their tokens without waiting
// for a competing request.
type Reaper struct {
	store Store
	clock core.Clock
	log   *slog.Logger
}

func NewReaper(store Store, clock core.Clock, log *slog.Logger) *Reaper {
	return &Reaper{store: store, clock: clock, log: log}
}

// Run sweeps until ctx is canceled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep runs one pass. Exported so tests and admin tooling can force
// a sweep without the ticker.
func (r *Reaper) Sweep(ctx context.Context) {
	now := r.clock.Now()
	n, err := r.store.CloseIdle(ctx, now.Add(-IdleTimeout), now)
	if err != nil {
		r.log.Error("idle session sweep failed", "error", err)
		return
	}
	if n > 0 {
		r.log.Info("closed idle sessions", "count", n)
	}
}
