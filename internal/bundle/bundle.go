// Package bundle sells discounted multi-token packs. A bundle
// purchase is one atomic balance deduction producing N tokens and a
// single ledger row.
package bundle

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/zenzefi/gateway/internal/token"
)

// TokenBundle is a purchasable pack of identical tokens at a
// discounted total price. Prices are stored precomputed; the discount
// percentage is informational.
type TokenBundle struct {
	ID              uuid.UUID       `json:"id"`
	Name            string          `json:"name"`
	Description     string          `json:"description,omitempty"`
	TokenCount      int             `json:"token_count"`
	DurationHours   int             `json:"duration_hours"`
	Scope           token.Scope     `json:"scope"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	BasePrice       decimal.Decimal `json:"base_price"`
	TotalPrice      decimal.Decimal `json:"total_price"`
	IsActive        bool            `json:"is_active"`
}

// Update carries optional field changes for an admin bundle update.
type Update struct {
	Name            *string
	Description     *string
	TokenCount      *int
	DurationHours   *int
	Scope           *token.Scope
	DiscountPercent *decimal.Decimal
	BasePrice       *decimal.Decimal
	TotalPrice      *decimal.Decimal
	IsActive        *bool
}

// Store is the persistence surface for bundles. Purchase runs the
// whole buy atomically: lock the user row, require balance >= total
// price, deduct, insert every token, append one purchase transaction.
type Store interface {
	List(ctx context.Context, activeOnly bool) ([]TokenBundle, error)
	// Get returns an active bundle or core.ErrBundleNotFound.
	Get(ctx context.Context, id uuid.UUID) (*TokenBundle, error)
	Purchase(ctx context.Context, b *TokenBundle, userID uuid.UUID,
		secrets []string, now time.Time) ([]token.AccessToken, decimal.Decimal, error)
	Create(ctx context.Context, b *TokenBundle) error
	Update(ctx context.Context, id uuid.UUID, upd Update) (*TokenBundle, error)
	// Deactivate soft deletes by clearing is_active.
	Deactivate(ctx context.Context, id uuid.UUID) error
}

// Receipt is the result of a successful bundle purchase.
type Receipt struct {
	BundleName      string              `json:"bundle_name"`
	TokensGenerated int                 `json:"tokens_generated"`
	CostZNC         decimal.Decimal     `json:"cost_znc"`
	NewBalance      decimal.Decimal     `json:"new_balance"`
	Tokens          []token.AccessToken `json:"tokens"`
}
