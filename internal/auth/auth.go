// Package auth covers account management: registration with referral
// codes, password login and signed API sessions.
package auth

import (
	"context"

	"github.com/google/uuid"

	"github.com/zenzefi/gateway/internal/core"
)

// Store is the persistence surface for user accounts. Lookups by
// email and username are case-insensitive.
type Store interface {
	Create(ctx context.Context, u *core.User) error
	ByID(ctx context.Context, id uuid.UUID) (*core.User, error)
	ByEmail(ctx context.Context, email string) (*core.User, error)
	ByUsername(ctx context.Context, username string) (*core.User, error)
	ByReferralCode(ctx context.Context, code string) (*core.User, error)
}

// Registration is the input to Register.
type Registration struct {
	Email        string
	Username     string
	Password     string
	FullName     string
	ReferralCode string // optional code of the referrer
}

// Session is the result of a successful login.
type Session struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}
