// Package session binds each activated token to a single device via
// proxy sessions, and retires sessions that go idle.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// IdleTimeout is how long a session may stay inactive before another
// device can take the token over.
const IdleTimeout = 5 * time.Minute

// ProxySession is one device's hold on a token.
type ProxySession struct {
	ID               uuid.UUID  `json:"id"`
	UserID           uuid.UUID  `json:"user_id"`
	TokenID          uuid.UUID  `json:"token_id"`
	DeviceID         string     `json:"device_id"`
	IPAddress        string     `json:"ip_address"`
	UserAgent        string     `json:"user_agent,omitempty"`
	StartedAt        time.Time  `json:"started_at"`
	LastActivity     time.Time  `json:"last_activity"`
	EndedAt          *time.Time `json:"ended_at,omitempty"`
	BytesTransferred int64      `json:"bytes_transferred"`
	RequestCount     int        `json:"request_count"`
	IsActive         bool       `json:"is_active"`
}

// Store is the persistence surface for proxy sessions. Create must
// observe the one-active-session-per-token constraint and return
// ErrSessionExists when another active session won the race.
type Store interface {
	ActiveByToken(ctx context.Context, tokenID uuid.UUID) (*ProxySession, error)
	Create(ctx context.Context, sess *ProxySession) error
	// Touch bumps last_activity and the request counter and refreshes
	// the caller's address.
	Touch(ctx context.Context, sessionID uuid.UUID, ip, userAgent string, now time.Time) error
	AddBytes(ctx context.Context, sessionID uuid.UUID, n int64) error
	Close(ctx context.Context, sessionID uuid.UUID, now time.Time) error
	// CloseIdle ends every active session whose last activity is at or
	// before the cutoff, returning how many were closed.
	CloseIdle(ctx context.Context, cutoff time.Time, now time.Time) (int, error)
	ActiveForUser(ctx context.Context, userID uuid.UUID) ([]ProxySession, error)
}

var (
	// ErrSessionNotFound reports a lookup miss; callers treat it as
	// "no active session" rather than a failure.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExists reports a lost insert race on the
	// active-session unique index.
	ErrSessionExists = errors.New("an active session already exists for this token")
)
