package payments_test

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zenzefi/gateway/internal/core"
	"github.com/zenzefi/gateway/internal/ledger"
	"github.com/zenzefi/gateway/internal/payments"
	"github.com/zenzefi/gateway/internal/storage"
)

type paymentsFixture struct {
	svc *payments.Service
	led *ledger.Service
	mem *storage.Memory
}

func newPaymentsFixture(t *testing.T) *paymentsFixture {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	mem := storage.NewMemory()
	clock := core.NewManualClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	led := ledger.NewService(mem, clock, log)
	provider := payments.NewMockProvider("https://gw.example")
	svc := payments.NewService(mem.Payments(), provider, led,
		decimal.RequireFromString("10.00"), clock, log)
	return &paymentsFixture{svc: svc, led: led, mem: mem}
}

func (f *paymentsFixture) user(t *testing.T) *core.User {
	t.Helper()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	u := &core.User{
		ID:           uuid.New(),
		Email:        uuid.NewString() + "@example.com",
		Username:     "u-" + uuid.NewString()[:8],
		IsActive:     true,
		ReferralCode: uuid.NewString()[:12],
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, f.mem.Create(context.Background(), u))
	return u
}

func TestCreateTopUpRegistersPendingIntent(t *testing.T) {
	f := newPaymentsFixture(t)
	u := f.user(t)

	intent, err := f.svc.CreateTopUp(context.Background(), u.ID,
		decimal.RequireFromString("50.00"), "https://gw.example/done")
	require.NoError(t, err)

	assert.Equal(t, payments.StatusPending, intent.Status)
	assert.Equal(t, "50.00", intent.AmountZNC.StringFixed(2))
	assert.Equal(t, "500.00", intent.AmountRUB.StringFixed(2))
	assert.True(t, strings.HasPrefix(intent.ExternalID, "MOCK_PAY_"))
	assert.Contains(t, intent.ConfirmationURL, intent.ExternalID)

	// Nothing credited yet.
	balance, err := f.led.Balance(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Equal(t, "0.00", balance.StringFixed(2))
}

func TestCreateTopUpRejectsNonPositiveAmount(t *testing.T) {
	f := newPaymentsFixture(t)
	u := f.user(t)

	_, err := f.svc.CreateTopUp(context.Background(), u.ID, decimal.Zero, "")
	assert.ErrorIs(t, err, core.ErrInvalidAmount)
}

func TestWebhookSuccessCreditsOnce(t *testing.T) {
	f := newPaymentsFixture(t)
	u := f.user(t)

	intent, err := f.svc.CreateTopUp(context.Background(), u.ID,
		decimal.RequireFromString("50.00"), "")
	require.NoError(t, err)

	require.NoError(t, f.svc.HandleWebhook(context.Background(),
		intent.ExternalID, payments.StatusSucceeded))

	balance, err := f.led.Balance(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Equal(t, "50.00", balance.StringFixed(2))

	// A replayed webhook must not double-credit.
	require.NoError(t, f.svc.HandleWebhook(context.Background(),
		intent.ExternalID, payments.StatusSucceeded))

	balance, err = f.led.Balance(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Equal(t, "50.00", balance.StringFixed(2))

	settled, err := f.svc.Status(context.Background(), intent.ExternalID)
	require.NoError(t, err)
	assert.Equal(t, payments.StatusSucceeded, settled.Status)
}

func TestWebhookCancelDoesNotCredit(t *testing.T) {
	f := newPaymentsFixture(t)
	u := f.user(t)

	intent, err := f.svc.CreateTopUp(context.Background(), u.ID,
		decimal.RequireFromString("50.00"), "")
	require.NoError(t, err)

	require.NoError(t, f.svc.HandleWebhook(context.Background(),
		intent.ExternalID, payments.StatusCanceled))

	balance, err := f.led.Balance(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Equal(t, "0.00", balance.StringFixed(2))

	// Success after cancel is a lost race and must stay uncredited.
	require.NoError(t, f.svc.HandleWebhook(context.Background(),
		intent.ExternalID, payments.StatusSucceeded))

	balance, err = f.led.Balance(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Equal(t, "0.00", balance.StringFixed(2))

	settled, err := f.svc.Status(context.Background(), intent.ExternalID)
	require.NoError(t, err)
	assert.Equal(t, payments.StatusCanceled, settled.Status)
}

func TestWebhookRejectsUnknownStatus(t *testing.T) {
	f := newPaymentsFixture(t)
	err := f.svc.HandleWebhook(context.Background(), "MOCK_PAY_x", payments.StatusPending)
	require.Error(t, err)
	var derr *core.DomainError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, core.KindInvalidInput, derr.Kind)
}

func TestWebhookUnknownIntent(t *testing.T) {
	f := newPaymentsFixture(t)
	err := f.svc.HandleWebhook(context.Background(), "MOCK_PAY_missing", payments.StatusSucceeded)
	assert.Error(t, err)
}
