package ledger

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/zenzefi/gateway/internal/core"
)

// referralThreshold is the purchase amount a buyer must strictly
// exceed before their referrer earns a bonus.
var referralThreshold = decimal.RequireFromString("100.00")

// referralRate is the referrer's share of the qualifying purchase.
var referralRate = decimal.RequireFromString("0.10")

// Service exposes balance reads, credits and the referral-bonus
// trigger over a Store.
type Service struct {
	store Store
	clock core.Clock
	log   *slog.Logger
}

func NewService(store Store, clock core.Clock, log *slog.Logger) *Service {
	return &Service{store: store, clock: clock, log: log}
}

// Balance returns the user's current ZNC balance.
func (s *Service) Balance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	return user.Balance, nil
}

// Credit adds funds to a user's balance. Amounts are quantized with
// banker's rounding before the ledger row is written.
func (s *Service) Credit(ctx context.Context, userID uuid.UUID, amount decimal.Decimal,
	description string, paymentID *string) (decimal.Decimal, error) {

	if !amount.IsPositive() {
		return decimal.Zero, core.ErrInvalidAmount
	}
	amount = Quantize(amount)
	if err := CheckRange(amount); err != nil {
		return decimal.Zero, err
	}

	return s.store.ApplyTransaction(ctx, userID, amount, TypeDeposit, description, paymentID, s.clock.Now())
}

// Refund returns funds to a user's balance with kind=refund.
func (s *Service) Refund(ctx context.Context, userID uuid.UUID, amount decimal.Decimal,
	description string) (decimal.Decimal, error) {

	if !amount.IsPositive() {
		return decimal.Zero, core.ErrInvalidAmount
	}
	amount = Quantize(amount)
	if err := CheckRange(amount); err != nil {
		return decimal.Zero, err
	}

	return s.store.ApplyTransaction(ctx, userID, amount, TypeRefund, description, nil, s.clock.Now())
}

// ClampPage normalizes pagination inputs to the history defaults.
func ClampPage(limit, offset int) (int, int) {
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// Transactions returns a page of the user's ledger history, newest
// first, with the unpaginated total.
func (s *Service) Transactions(ctx context.Context, userID uuid.UUID, limit, offset int,
	txType *TransactionType) ([]Transaction, int, error) {

	limit, offset = ClampPage(limit, offset)
	return s.store.Transactions(ctx, userID, limit, offset, txType)
}

// MaybeAwardReferralBonus runs after a purchase commits. It awards the
// buyer's referrer 10% of the purchase when the buyer has a referrer,
// the purchase strictly exceeds 100 ZNC, and it is the buyer's first
// qualifying purchase. The returned amount is nil when no bonus fired.
//
// The trigger deliberately runs outside the purchase transaction; a
// failure here is logged and never unwinds the purchase.
func (s *Service) MaybeAwardReferralBonus(ctx context.Context, buyerID uuid.UUID,
	purchaseAmount decimal.Decimal) (*decimal.Decimal, error) {

	buyer, err := s.store.GetUser(ctx, buyerID)
	if err != nil {
		return nil, err
	}
	if buyer.ReferredByID == nil {
		return nil, nil
	}
	if !purchaseAmount.GreaterThan(referralThreshold) {
		return nil, nil
	}

	qualifying, err := s.store.CountPurchasesOver(ctx, buyerID, referralThreshold)
	if err != nil {
		return nil, err
	}
	// Exactly one qualifying purchase exists after commit: this one.
	if qualifying != 1 {
		return nil, nil
	}

	bonus := Quantize(purchaseAmount.Mul(referralRate))
	description := fmt.Sprintf("Referral bonus: 10%% of %s ZNC purchase by %s",
		purchaseAmount.StringFixed(2), buyer.Username)

	if _, err := s.store.ApplyTransaction(ctx, *buyer.ReferredByID, bonus,
		TypeReferralBonus, description, nil, s.clock.Now()); err != nil {
		return nil, err
	}
	if err := s.store.AddReferralEarned(ctx, *buyer.ReferredByID, bonus); err != nil {
		s.log.Warn("failed to update referral earned counter",
			"referrer_id", *buyer.ReferredByID, "error", err)
	}

	s.log.Info("referral bonus awarded",
		"buyer_id", buyerID, "referrer_id", *buyer.ReferredByID, "bonus", bonus.StringFixed(2))
	return &bonus, nil
}
