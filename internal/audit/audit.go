// Package audit records security-relevant actions. Recording is
// strictly best effort: a failed audit write is logged and the calling
// operation proceeds.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/zenzefi/gateway/internal/core"
)

// Entry is one audit record.
type Entry struct {
	ID           uuid.UUID      `json:"id"`
	UserID       *uuid.UUID     `json:"user_id,omitempty"`
	Action       string         `json:"action"`
	ResourceType string         `json:"resource_type"`
	ResourceID   string         `json:"resource_id,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
	IPAddress    string         `json:"ip_address,omitempty"`
	UserAgent    string         `json:"user_agent,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Store persists audit entries.
type Store interface {
	Append(ctx context.Context, e *Entry) error
	Recent(ctx context.Context, limit int) ([]Entry, error)
}

// Recorder writes entries through a Store.
type Recorder struct {
	store Store
	clock core.Clock
	log   *slog.Logger
}

func NewRecorder(store Store, clock core.Clock, log *slog.Logger) *Recorder {
	return &Recorder{store: store, clock: clock, log: log}
}

// Record appends an entry, filling id and timestamp.
func (r *Recorder) Record(ctx context.Context, e Entry) {
	e.ID = uuid.New()
	e.CreatedAt = r.clock.Now()
	if err := r.store.Append(ctx, &e); err != nil {
		r.log.Warn("audit append failed", "action", e.Action, "error", err)
	}
}

// Recent returns the newest entries for admin inspection.
func (r *Recorder) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return r.store.Recent(ctx, limit)
}
