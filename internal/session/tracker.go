package session

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/zenzefi/gateway/internal/core"
)

// deviceIDPreview is how much of a conflicting device id the error
// message reveals.
const deviceIDPreview = 8

// Tracker enforces one active device per token. Track is called on
// every admitted proxy request, after token validation and before
// forwarding.
type Tracker struct {
	store Store
	clock core.Clock
	log   *slog.Logger

	onOpen     func()
	onDisplace func()
}

func NewTracker(store Store, clock core.Clock, log *slog.Logger) *Tracker {
	return &Tracker{store: store, clock: clock, log: log}
}

// OnOpen registers a callback fired when a new session is created.
func (t *Tracker) OnOpen(fn func()) { t.onOpen = fn }

// OnDisplace registers a callback fired when an idle session is closed
// in favor of a new device.
func (t *Tracker) OnDisplace(fn func()) { t.onDisplace = fn }

// Track resolves the token's session for this request. Same device:
// the session is touched. Different device on an idle session: the old
// session is closed and a new one opened. Different device on a live
// session: DeviceConflictError.
func (t *Tracker) Track(ctx context.Context, userID, tokenID uuid.UUID,
	deviceID, ip, userAgent string) (*ProxySession, error) {

	now := t.clock.Now()

	current, err := t.store.ActiveByToken(ctx, tokenID)
	if err != nil && err != ErrSessionNotFound {
		return nil, err
	}

	if current != nil {
		if current.DeviceID == deviceID {
			if err := t.store.Touch(ctx, current.ID, ip, userAgent, now); err != nil {
				t.log.Warn("failed to touch session", "session_id", current.ID, "error", err)
			}
			current.LastActivity = now
			current.RequestCount++
			current.IPAddress = ip
			return current, nil
		}

		if now.Sub(current.LastActivity) < IdleTimeout {
			return nil, &core.DeviceConflictError{
				OtherDevice: preview(current.DeviceID),
				StartedAt:   current.StartedAt,
			}
		}

		// The holder went idle; evict it and let this device take over.
		if err := t.store.Close(ctx, current.ID, now); err != nil {
			return nil, err
		}
		t.log.Info("idle session displaced",
			"token_id", tokenID, "old_device", preview(current.DeviceID), "new_device", preview(deviceID))
		if t.onDisplace != nil {
			t.onDisplace()
		}
	}

	sess := &ProxySession{
		ID:           uuid.New(),
		UserID:       userID,
		TokenID:      tokenID,
		DeviceID:     deviceID,
		IPAddress:    ip,
		UserAgent:    userAgent,
		StartedAt:    now,
		LastActivity: now,
		RequestCount: 1,
		IsActive:     true,
	}
	err = t.store.Create(ctx, sess)
	if err == ErrSessionExists {
		// Another device won the insert race after our lookup.
		winner, lookupErr := t.store.ActiveByToken(ctx, tokenID)
		if lookupErr == nil && winner != nil && winner.DeviceID == deviceID {
			return winner, nil
		}
		conflict := &core.DeviceConflictError{StartedAt: now}
		if winner != nil {
			conflict.OtherDevice = preview(winner.DeviceID)
			conflict.StartedAt = winner.StartedAt
		}
		return nil, conflict
	}
	if err != nil {
		return nil, err
	}
	if t.onOpen != nil {
		t.onOpen()
	}
	return sess, nil
}

// RecordBytes adds transferred bytes to the session counter. Metering
// is best effort and never fails a request.
func (t *Tracker) RecordBytes(ctx context.Context, sessionID uuid.UUID, n int64) {
	if n <= 0 {
		return
	}
	if err := t.store.AddBytes(ctx, sessionID, n); err != nil {
		t.log.Warn("failed to record session bytes", "session_id", sessionID, "error", err)
	}
}

// ActiveForUser lists the user's live sessions.
func (t *Tracker) ActiveForUser(ctx context.Context, userID uuid.UUID) ([]ProxySession, error) {
	return t.store.ActiveForUser(ctx, userID)
}

// End closes the active session for a token, if any. Used on logout
// and on revocation so the device binding releases immediately.
func (t *Tracker) End(ctx context.Context, tokenID uuid.UUID) error {
	current, err := t.store.ActiveByToken(ctx, tokenID)
	if err == ErrSessionNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	return t.store.Close(ctx, current.ID, t.clock.Now())
}

func preview(deviceID string) string {
	if len(deviceID) <= deviceIDPreview {
		return deviceID
	}
	return deviceID[:deviceIDPreview]
}
