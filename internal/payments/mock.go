package payments

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MockProvider simulates a payment gateway for development. The
// confirmation URL points at the gateway's own simulation endpoint;
// hitting it fires the success webhook.
type MockProvider struct {
	baseURL string
}

func NewMockProvider(baseURL string) *MockProvider {
	return &MockProvider{baseURL: baseURL}
}

func (p *MockProvider) CreatePayment(_ context.Context, _ decimal.Decimal,
	_ string) (string, string, error) {

	externalID := fmt.Sprintf("MOCK_PAY_%s", uuid.New())
	confirmationURL := fmt.Sprintf("%s/api/v1/currency/mock-payment?payment_id=%s", p.baseURL, externalID)
	return externalID, confirmationURL, nil
}
