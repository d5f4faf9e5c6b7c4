package core

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// User is the account that owns tokens, sessions and the ZNC balance.
// Balance is mutated only through the ledger; everything else is
// managed by the auth service.
type User struct {
	ID             uuid.UUID
	Email          string
	Username       string
	HashedPassword string
	FullName       string
	IsActive       bool
	IsSuperuser    bool
	Balance        decimal.Decimal
	ReferralCode   string
	ReferredByID   *uuid.UUID
	ReferralEarned decimal.Decimal
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Principal is the authenticated caller attached to a request context
// by the auth middleware. Elevated principals bypass rate limits and
// may manage bundles.
type Principal struct {
	UserID   uuid.UUID
	Username string
	Elevated bool
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the authenticated principal, with ok=false
// when the request carries no management credentials.
func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok
}
