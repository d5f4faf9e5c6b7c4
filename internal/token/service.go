package token

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/zenzefi/gateway/internal/core"
	"github.com/zenzefi/gateway/internal/ledger"
)

// Service drives the token lifecycle. Validation goes through the
// claims cache first and falls back to the store, activating the token
// on its first use.
type Service struct {
	store      Store
	ledger     *ledger.Service
	cache      *ClaimsCache
	prices     map[int]decimal.Decimal
	clock      core.Clock
	log        *slog.Logger
	onActivate func()
}

func NewService(store Store, led *ledger.Service, cache *ClaimsCache,
	prices map[int]decimal.Decimal, clock core.Clock, log *slog.Logger) *Service {
	return &Service{store: store, ledger: led, cache: cache, prices: prices, clock: clock, log: log}
}

// OnActivate registers a callback fired whenever a token is activated
// by its first validation. Used for instrumentation.
func (s *Service) OnActivate(fn func()) { s.onActivate = fn }

// Price returns the ZNC price for a purchasable duration.
func (s *Service) Price(durationHours int) (decimal.Decimal, error) {
	price, ok := s.prices[durationHours]
	if !ok {
		return decimal.Zero, core.ErrInvalidDuration
	}
	return price, nil
}

// Durations lists the purchasable durations in ascending order.
func (s *Service) Durations() []int {
	out := make([]int, 0, len(s.prices))
	for hours := range s.prices {
		out = append(out, hours)
	}
	sort.Ints(out)
	return out
}

// Generate purchases a new token for the user: price lookup, scope
// check, atomic balance deduction plus token insert, then the referral
// trigger. The plaintext secret is only ever returned here.
func (s *Service) Generate(ctx context.Context, userID uuid.UUID, durationHours int,
	scope Scope) (*AccessToken, decimal.Decimal, error) {

	price, err := s.Price(durationHours)
	if err != nil {
		return nil, decimal.Zero, err
	}
	if !scope.Valid() {
		return nil, decimal.Zero, core.ErrInvalidScope
	}

	tok, err := s.store.Purchase(ctx, userID, price, durationHours, scope, NewSecret(), s.clock.Now())
	if err != nil {
		return nil, decimal.Zero, err
	}

	s.log.Info("access token purchased",
		"user_id", userID, "token_id", tok.ID, "duration_hours", durationHours, "scope", scope)

	// The purchase is committed; a referral failure must not undo it.
	if _, err := s.ledger.MaybeAwardReferralBonus(ctx, userID, price); err != nil {
		s.log.Error("referral bonus check failed", "buyer_id", userID, "error", err)
	}

	balance, err := s.ledger.Balance(ctx, userID)
	if err != nil {
		return nil, decimal.Zero, err
	}
	return tok, balance, nil
}

// Validate authenticates a proxied request by its secret. The first
// successful validation activates the token and starts its countdown;
// later calls are served from the claims cache when possible.
func (s *Service) Validate(ctx context.Context, secret string) (*Claims, error) {
	if secret == "" {
		return nil, core.ErrInvalidToken
	}
	if claims := s.cache.Get(ctx, secret); claims != nil {
		return claims, nil
	}

	tok, err := s.store.FindUsable(ctx, secret)
	if err == core.ErrTokenNotFound {
		return nil, core.ErrInvalidToken
	}
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	if tok.ActivatedAt == nil {
		tok, err = s.store.Activate(ctx, tok.ID, now)
		if err != nil {
			return nil, err
		}
		s.log.Info("access token activated",
			"token_id", tok.ID, "user_id", tok.UserID, "expires_at", tok.ExpiresAt())
		if s.onActivate != nil {
			s.onActivate()
		}
	} else if !tok.Usable(now) {
		return nil, core.ErrInvalidToken
	}

	claims := &Claims{
		UserID:        tok.UserID,
		TokenID:       tok.ID,
		DurationHours: tok.DurationHours,
		Scope:         tok.Scope,
		ExpiresAt:     *tok.ExpiresAt(),
	}
	s.cache.Put(ctx, secret, claims)
	return claims, nil
}

// CheckStatus inspects a token by secret without activating it.
func (s *Service) CheckStatus(ctx context.Context, secret string) (*Status, error) {
	tok, err := s.store.FindUsable(ctx, secret)
	if err == core.ErrTokenNotFound {
		return nil, core.ErrInvalidToken
	}
	if err != nil {
		return nil, err
	}
	if tok.ActivatedAt != nil && !tok.Usable(s.clock.Now()) {
		return nil, core.ErrInvalidToken
	}

	return &Status{
		UserID:        tok.UserID,
		TokenID:       tok.ID,
		DurationHours: tok.DurationHours,
		Scope:         tok.Scope,
		IsActivated:   tok.ActivatedAt != nil,
		ActivatedAt:   tok.ActivatedAt,
		ExpiresAt:     tok.ExpiresAt(),
	}, nil
}

// Revoke cancels one of the caller's unactivated tokens and refunds
// its full price. Tokens from bundle purchases have no entry in the
// price table and refund zero.
func (s *Service) Revoke(ctx context.Context, userID, tokenID uuid.UUID) (decimal.Decimal, decimal.Decimal, error) {
	tok, err := s.store.Revoke(ctx, tokenID, userID, s.clock.Now())
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	s.cache.Drop(ctx, tok.Secret)

	refund, ok := s.prices[tok.DurationHours]
	if !ok {
		balance, err := s.ledger.Balance(ctx, userID)
		return decimal.Zero, balance, err
	}

	balance, err := s.ledger.Refund(ctx, userID, refund,
		fmt.Sprintf("Refund for revoked %dh token", tok.DurationHours))
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}

	s.log.Info("access token revoked",
		"token_id", tokenID, "user_id", userID, "refund", refund.StringFixed(2))
	return refund, balance, nil
}

// List returns the caller's tokens, optionally only those still usable.
func (s *Service) List(ctx context.Context, userID uuid.UUID, activeOnly bool) ([]AccessToken, error) {
	return s.store.List(ctx, userID, activeOnly, s.clock.Now())
}
