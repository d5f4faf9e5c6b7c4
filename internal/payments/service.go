package payments

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/zenzefi/gateway/internal/core"
	"github.com/zenzefi/gateway/internal/ledger"
)

// Service drives the top-up flow.
type Service struct {
	store    Store
	provider Provider
	ledger   *ledger.Service
	rate     decimal.Decimal // RUB per ZNC
	clock    core.Clock
	log      *slog.Logger
}

func NewService(store Store, provider Provider, led *ledger.Service,
	rate decimal.Decimal, clock core.Clock, log *slog.Logger) *Service {
	return &Service{store: store, provider: provider, ledger: led, rate: rate, clock: clock, log: log}
}

// CreateTopUp registers a pending intent with the gateway and returns
// it. Nothing is credited until the webhook confirms success.
func (s *Service) CreateTopUp(ctx context.Context, userID uuid.UUID,
	amountZNC decimal.Decimal, returnURL string) (*Intent, error) {

	if !amountZNC.IsPositive() {
		return nil, core.ErrInvalidAmount
	}
	amountZNC = ledger.Quantize(amountZNC)
	if err := ledger.CheckRange(amountZNC); err != nil {
		return nil, err
	}

	amountRUB := ledger.Quantize(amountZNC.Mul(s.rate))
	externalID, confirmationURL, err := s.provider.CreatePayment(ctx, amountRUB, returnURL)
	if err != nil {
		return nil, core.NewError(core.KindUpstreamUnreachable, "payment gateway unavailable")
	}

	now := s.clock.Now()
	intent := &Intent{
		ID:              uuid.New(),
		UserID:          userID,
		AmountZNC:       amountZNC,
		AmountRUB:       amountRUB,
		Status:          StatusPending,
		ExternalID:      externalID,
		ConfirmationURL: confirmationURL,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.Create(ctx, intent); err != nil {
		return nil, err
	}

	s.log.Info("payment intent created",
		"intent_id", intent.ID, "user_id", userID, "amount_znc", amountZNC.StringFixed(2))
	return intent, nil
}

// HandleWebhook applies a gateway status update. Replayed and unknown
// updates are absorbed silently; a balance credit happens only on the
// one call that wins the pending -> succeeded transition.
func (s *Service) HandleWebhook(ctx context.Context, externalID string, status IntentStatus) error {
	if status != StatusSucceeded && status != StatusCanceled {
		return core.NewError(core.KindInvalidInput, "unknown payment status %q", status)
	}

	intent, err := s.store.ByExternalID(ctx, externalID)
	if err != nil {
		return err
	}

	won, err := s.store.Transition(ctx, externalID, status, s.clock.Now())
	if err != nil {
		return err
	}
	if !won {
		// Already settled; webhook retries land here.
		return nil
	}

	if status == StatusSucceeded {
		balance, err := s.ledger.Credit(ctx, intent.UserID, intent.AmountZNC,
			fmt.Sprintf("Balance top-up: %s ZNC", intent.AmountZNC.StringFixed(2)),
			&externalID)
		if err != nil {
			return err
		}
		s.log.Info("payment settled",
			"intent_id", intent.ID, "user_id", intent.UserID, "new_balance", balance.StringFixed(2))
		return nil
	}

	s.log.Info("payment canceled", "intent_id", intent.ID, "user_id", intent.UserID)
	return nil
}

// Status returns the current state of an intent by gateway id.
func (s *Service) Status(ctx context.Context, externalID string) (*Intent, error) {
	return s.store.ByExternalID(ctx, externalID)
}
