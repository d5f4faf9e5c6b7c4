// Package ledger is the credit ledger: every ZNC balance change is an
// exclusive-locked mutation paired with exactly one append-only
// transaction row, committed together or not at all.
package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/zenzefi/gateway/internal/core"
)

// TransactionType is the closed set of ledger movement kinds.
type TransactionType string

const (
	TypeDeposit       TransactionType = "deposit"
	TypePurchase      TransactionType = "purchase"
	TypeRefund        TransactionType = "refund"
	TypeReferralBonus TransactionType = "referral_bonus"
)

// Transaction is one append-only ledger row. Amount is signed:
// negative for purchases, positive for deposits, refunds and bonuses.
type Transaction struct {
	ID        uuid.UUID       `json:"id"`
	UserID    uuid.UUID       `json:"user_id"`
	Amount    decimal.Decimal `json:"amount"`
	Type      TransactionType `json:"transaction_type"`
	Description string        `json:"description"`
	PaymentID *string         `json:"payment_id,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Store is the persistence surface for the ledger. ApplyTransaction is
// the single primitive behind every balance change: it locks the user
// row, applies the signed amount, appends the transaction row and
// commits, returning the new balance. A result below zero must fail
// with core.ErrInsufficientBalance without committing anything.
type Store interface {
	GetUser(ctx context.Context, id uuid.UUID) (*core.User, error)
	ApplyTransaction(ctx context.Context, userID uuid.UUID, amount decimal.Decimal,
		txType TransactionType, description string, paymentID *string, now time.Time) (decimal.Decimal, error)
	Transactions(ctx context.Context, userID uuid.UUID, limit, offset int,
		txType *TransactionType) ([]Transaction, int, error)
	// CountPurchasesOver counts the user's purchase transactions whose
	// absolute amount strictly exceeds the threshold.
	CountPurchasesOver(ctx context.Context, userID uuid.UUID, threshold decimal.Decimal) (int, error)
	AddReferralEarned(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) error
}

// maxAmount is the NUMERIC(10,2) storage ceiling: 8 integer digits.
var maxAmount = decimal.New(1, 8)

// Quantize rounds to 2 fractional digits with banker's rounding.
func Quantize(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(2)
}

// CheckRange rejects amounts that the storage column cannot hold.
func CheckRange(d decimal.Decimal) error {
	if d.Abs().GreaterThanOrEqual(maxAmount) {
		return core.ErrOverflow
	}
	return nil
}
