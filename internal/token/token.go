// Package token is the access-token lifecycle engine: purchase,
// lazy activation on first validation, scope-bound claims, revocation
// with refund, and coherence with the shared claims cache.
package token

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Scope restricts which upstream paths a token may reach.
type Scope string

const (
	ScopeFull             Scope = "full"
	ScopeCertificatesOnly Scope = "certificates_only"
)

func (s Scope) Valid() bool {
	return s == ScopeFull || s == ScopeCertificatesOnly
}

// AccessToken is a bearer credential for the proxy. ActivatedAt stays
// nil until the first successful validation; once set it never
// changes, and expiry derives from it.
type AccessToken struct {
	ID            uuid.UUID  `json:"id"`
	UserID        uuid.UUID  `json:"user_id"`
	Secret        string     `json:"token"`
	DurationHours int        `json:"duration_hours"`
	Scope         Scope      `json:"scope"`
	CreatedAt     time.Time  `json:"created_at"`
	ActivatedAt   *time.Time `json:"activated_at"`
	RevokedAt     *time.Time `json:"revoked_at"`
	IsActive      bool       `json:"is_active"`
}

// ExpiresAt is activation time plus duration, or nil while the token
// has not been activated.
func (t *AccessToken) ExpiresAt() *time.Time {
	if t.ActivatedAt == nil {
		return nil
	}
	exp := t.ActivatedAt.Add(time.Duration(t.DurationHours) * time.Hour)
	return &exp
}

// Usable reports whether the token can still admit requests at now.
func (t *AccessToken) Usable(now time.Time) bool {
	if !t.IsActive || t.RevokedAt != nil {
		return false
	}
	if exp := t.ExpiresAt(); exp != nil && !now.Before(*exp) {
		return false
	}
	return true
}

// Claims is the validated identity attached to a proxied request.
// Claims always describe an activated token.
type Claims struct {
	UserID        uuid.UUID `json:"user_id"`
	TokenID       uuid.UUID `json:"token_id"`
	DurationHours int       `json:"duration_hours"`
	Scope         Scope     `json:"scope"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// Status is the read-only answer of CheckStatus; unlike Claims it can
// describe a token that has not started its countdown yet.
type Status struct {
	UserID        uuid.UUID  `json:"user_id"`
	TokenID       uuid.UUID  `json:"token_id"`
	DurationHours int        `json:"duration_hours"`
	Scope         Scope      `json:"scope"`
	IsActivated   bool       `json:"is_activated"`
	ActivatedAt   *time.Time `json:"activated_at"`
	ExpiresAt     *time.Time `json:"expires_at"`
}

// Store is the persistence surface for tokens. Purchase runs the
// whole locked buy in one transaction: lock the user row, require
// balance >= price, deduct, append the purchase transaction, insert
// the token.
type Store interface {
	Purchase(ctx context.Context, userID uuid.UUID, price decimal.Decimal,
		durationHours int, scope Scope, secret string, now time.Time) (*AccessToken, error)
	// FindUsable returns the token for the secret when it is active
	// and not revoked; expiry is the caller's concern.
	FindUsable(ctx context.Context, secret string) (*AccessToken, error)
	Activate(ctx context.Context, tokenID uuid.UUID, now time.Time) (*AccessToken, error)
	// Revoke marks the token revoked under a row lock. It fails with
	// core.ErrTokenNotFound when the token is missing, owned by
	// someone else or already inactive, and with
	// core.ErrCannotRevokeActivated once the countdown has started.
	Revoke(ctx context.Context, tokenID, userID uuid.UUID, now time.Time) (*AccessToken, error)
	List(ctx context.Context, userID uuid.UUID, activeOnly bool, now time.Time) ([]AccessToken, error)
}

// NewSecret returns a fresh URL-safe token secret: 48 random bytes,
// 64 characters once encoded.
func NewSecret() string {
	buf := make([]byte, 48)
	if _, err := rand.Read(buf); err != nil {
		panic("token: crypto/rand unavailable: " + err.Error())
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}
