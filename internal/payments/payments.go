// Package payments handles ZNC balance top-ups through an external
// payment gateway. Every top-up is an explicit payment intent that
// moves pending -> succeeded or pending -> canceled exactly once; the
// ledger is only credited on the first transition to succeeded.
package payments

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// IntentStatus is the closed intent state set.
type IntentStatus string

const (
	StatusPending   IntentStatus = "pending"
	StatusSucceeded IntentStatus = "succeeded"
	StatusCanceled  IntentStatus = "canceled"
)

// Intent is one top-up attempt.
type Intent struct {
	ID              uuid.UUID       `json:"id"`
	UserID          uuid.UUID       `json:"user_id"`
	AmountZNC       decimal.Decimal `json:"amount_znc"`
	AmountRUB       decimal.Decimal `json:"amount_rub"`
	Status          IntentStatus    `json:"status"`
	ExternalID      string          `json:"payment_id"`
	ConfirmationURL string          `json:"payment_url,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Store is the persistence surface for payment intents. Transition
// must be atomic: it moves the intent out of pending only if it is
// still pending, reporting whether this call won the transition.
type Store interface {
	Create(ctx context.Context, in *Intent) error
	ByExternalID(ctx context.Context, externalID string) (*Intent, error)
	Transition(ctx context.Context, externalID string, to IntentStatus, now time.Time) (bool, error)
}

// Provider is the external payment gateway. CreatePayment registers
// the charge and returns the gateway's id plus the URL the user
// completes payment at.
type Provider interface {
	CreatePayment(ctx context.Context, amountRUB decimal.Decimal, returnURL string) (externalID, confirmationURL string, err error)
}
