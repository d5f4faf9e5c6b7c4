package bundle

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/zenzefi/gateway/internal/core"
	"github.com/zenzefi/gateway/internal/ledger"
	"github.com/zenzefi/gateway/internal/token"
)

// Service exposes the bundle catalog and the purchase flow.
type Service struct {
	store  Store
	ledger *ledger.Service
	clock  core.Clock
	log    *slog.Logger
}

func NewService(store Store, led *ledger.Service, clock core.Clock, log *slog.Logger) *Service {
	return &Service{store: store, ledger: led, clock: clock, log: log}
}

// List returns the catalog sorted by total price.
func (s *Service) List(ctx context.Context, activeOnly bool) ([]TokenBundle, error) {
	return s.store.List(ctx, activeOnly)
}

// Get returns one active bundle.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*TokenBundle, error) {
	return s.store.Get(ctx, id)
}

// Purchase buys the bundle for the user: one balance deduction, all
// tokens minted in the same transaction, then the referral trigger.
func (s *Service) Purchase(ctx context.Context, bundleID, userID uuid.UUID) (*Receipt, error) {
	b, err := s.store.Get(ctx, bundleID)
	if err != nil {
		return nil, err
	}

	secrets := make([]string, b.TokenCount)
	for i := range secrets {
		secrets[i] = token.NewSecret()
	}

	tokens, newBalance, err := s.store.Purchase(ctx, b, userID, secrets, s.clock.Now())
	if err != nil {
		return nil, err
	}

	s.log.Info("bundle purchased",
		"bundle", b.Name, "user_id", userID, "tokens", len(tokens), "cost", b.TotalPrice.StringFixed(2))

	// The purchase is committed; a referral failure must not undo it.
	if _, err := s.ledger.MaybeAwardReferralBonus(ctx, userID, b.TotalPrice); err != nil {
		s.log.Error("referral bonus check failed", "buyer_id", userID, "error", err)
	}

	return &Receipt{
		BundleName:      b.Name,
		TokensGenerated: len(tokens),
		CostZNC:         b.TotalPrice,
		NewBalance:      newBalance,
		Tokens:          tokens,
	}, nil
}

// Create adds a catalog entry. Admin only; the handler enforces that.
func (s *Service) Create(ctx context.Context, b *TokenBundle) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	if !b.Scope.Valid() {
		return core.ErrInvalidScope
	}
	return s.store.Create(ctx, b)
}

// Update applies a partial admin update.
func (s *Service) Update(ctx context.Context, id uuid.UUID, upd Update) (*TokenBundle, error) {
	if upd.Scope != nil && !upd.Scope.Valid() {
		return nil, core.ErrInvalidScope
	}
	return s.store.Update(ctx, id, upd)
}

// Deactivate soft deletes a bundle so it stops being purchasable.
func (s *Service) Deactivate(ctx context.Context, id uuid.UUID) error {
	return s.store.Deactivate(ctx, id)
}
