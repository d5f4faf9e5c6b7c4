package api_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zenzefi/gateway/internal/token"
)

func TestRegisterLoginMe(t *testing.T) {
	h, _ := newHarness(t)

	rec := h.do(http.MethodPost, "/api/v1/auth/register", map[string]string{
		"email":    "alice@example.com",
		"username": "alice",
		"password": "hunter2hunter2",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decodeBody(t, rec)
	assert.Equal(t, "alice", created["username"])
	assert.Equal(t, "0.00", created["currency_balance"])
	assert.NotEmpty(t, created["referral_code"])
	assert.Contains(t, created["referral_link"], "/register?ref=")

	rec = h.do(http.MethodPost, "/api/v1/auth/login", map[string]string{
		"email":    "alice@example.com",
		"password": "hunter2hunter2",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	sess := decodeBody(t, rec)
	assert.Equal(t, "bearer", sess["token_type"])
	accessToken, _ := sess["access_token"].(string)
	require.NotEmpty(t, accessToken)

	rec = h.do(http.MethodGet, "/api/v1/users/me", nil, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+accessToken)
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", decodeBody(t, rec)["username"])
}

func TestMeRequiresSession(t *testing.T) {
	h, _ := newHarness(t)

	rec := h.do(http.MethodGet, "/api/v1/users/me", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(http.MethodGet, "/api/v1/users/me", nil, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer garbage.token")
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthEndpointsAreRateLimited(t *testing.T) {
	h, _ := newHarness(t)

	// Harness limit: 10 per hour per IP.
	for i := 0; i < 10; i++ {
		rec := h.do(http.MethodPost, "/api/v1/auth/login", map[string]string{
			"email":    "ghost@example.com",
			"password": "wrongwrong",
		}, nil)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	}

	rec := h.do(http.MethodPost, "/api/v1/auth/login", map[string]string{
		"email":    "ghost@example.com",
		"password": "wrongwrong",
	}, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestTokenPurchaseAndRevokeEndpoints(t *testing.T) {
	h, _ := newHarness(t)
	u := h.seedUser(t, "20.00", false)
	auth := h.bearer(t, u)

	rec := h.do(http.MethodPost, "/api/v1/tokens/purchase", map[string]any{
		"duration_hours": 24,
	}, func(r *http.Request) { r.Header.Set("Authorization", auth) })
	require.Equal(t, http.StatusCreated, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "2.00", body["new_balance"])
	tok, _ := body["token"].(map[string]any)
	require.NotNil(t, tok)
	secret, _ := tok["token"].(string)
	assert.Len(t, secret, 64)
	tokenID, _ := tok["id"].(string)
	require.NotEmpty(t, tokenID)

	rec = h.do(http.MethodGet, "/api/v1/tokens/my-tokens", nil, func(r *http.Request) {
		r.Header.Set("Authorization", auth)
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decodeBody(t, rec)["total"])

	rec = h.do(http.MethodDelete, "/api/v1/tokens/"+tokenID, nil, func(r *http.Request) {
		r.Header.Set("Authorization", auth)
	})
	require.Equal(t, http.StatusOK, rec.Code)
	body = decodeBody(t, rec)
	assert.Equal(t, true, body["revoked"])
	assert.Equal(t, "18.00", body["refund_amount"])
	assert.Equal(t, "20.00", body["new_balance"])
}

func TestTokenPurchaseInsufficientBalance(t *testing.T) {
	h, _ := newHarness(t)
	u := h.seedUser(t, "1.00", false)

	rec := h.do(http.MethodPost, "/api/v1/tokens/purchase", map[string]any{
		"duration_hours": 24,
	}, func(r *http.Request) { r.Header.Set("Authorization", h.bearer(t, u)) })
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Equal(t, "insufficient balance", decodeBody(t, rec)["detail"])
}

func TestTopUpAndMockPaymentCreditsBalance(t *testing.T) {
	h, _ := newHarness(t)
	u := h.seedUser(t, "0.00", false)
	auth := h.bearer(t, u)

	rec := h.do(http.MethodPost, "/api/v1/payments/topup", map[string]string{
		"amount_znc": "75.00",
	}, func(r *http.Request) { r.Header.Set("Authorization", auth) })
	require.Equal(t, http.StatusCreated, rec.Code)
	intent := decodeBody(t, rec)
	assert.Equal(t, "pending", intent["status"])
	paymentID, _ := intent["payment_id"].(string)
	require.NotEmpty(t, paymentID)

	rec = h.do(http.MethodGet, "/api/v1/currency/mock-payment?payment_id="+paymentID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(http.MethodGet, "/api/v1/currency/balance", nil, func(r *http.Request) {
		r.Header.Set("Authorization", auth)
	})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "75.00", body["balance"])
	assert.Equal(t, "ZNC", body["currency"])

	rec = h.do(http.MethodGet, "/api/v1/currency/transactions?limit=10&offset=0", nil, func(r *http.Request) {
		r.Header.Set("Authorization", auth)
	})
	require.Equal(t, http.StatusOK, rec.Code)
	body = decodeBody(t, rec)
	assert.Equal(t, float64(1), body["total"])
	assert.Equal(t, float64(10), body["limit"])
	assert.Equal(t, float64(0), body["offset"])
	items, _ := body["items"].([]any)
	assert.Len(t, items, 1)
}

func TestTransactionsEnvelopeDefaults(t *testing.T) {
	h, _ := newHarness(t)
	u := h.seedUser(t, "0.00", false)

	rec := h.do(http.MethodGet, "/api/v1/currency/transactions", nil, func(r *http.Request) {
		r.Header.Set("Authorization", h.bearer(t, u))
	})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(0), body["total"])
	assert.Equal(t, float64(10), body["limit"])
	assert.Equal(t, float64(0), body["offset"])
	items, ok := body["items"].([]any)
	require.True(t, ok)
	assert.Empty(t, items)
}

func TestPaymentWebhookEndpoint(t *testing.T) {
	h, _ := newHarness(t)
	u := h.seedUser(t, "0.00", false)

	rec := h.do(http.MethodPost, "/api/v1/payments/topup", map[string]string{
		"amount_znc": "30.00",
	}, func(r *http.Request) { r.Header.Set("Authorization", h.bearer(t, u)) })
	require.Equal(t, http.StatusCreated, rec.Code)
	paymentID, _ := decodeBody(t, rec)["payment_id"].(string)

	rec = h.do(http.MethodPost, "/api/v1/payments/webhook/mock", map[string]string{
		"payment_id": paymentID,
		"status":     "canceled",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(http.MethodGet, "/api/v1/currency/balance", nil, func(r *http.Request) {
		r.Header.Set("Authorization", h.bearer(t, u))
	})
	assert.Equal(t, "0.00", decodeBody(t, rec)["balance"])
}

func TestBundleAdminLifecycleAndPurchase(t *testing.T) {
	h, _ := newHarness(t)
	admin := h.seedUser(t, "0.00", true)
	buyer := h.seedUser(t, "100.00", false)

	rec := h.do(http.MethodPost, "/api/v1/bundles", map[string]any{
		"name":             "Weekly Five",
		"token_count":      5,
		"duration_hours":   168,
		"scope":            "full",
		"discount_percent": "10",
		"base_price":       "90.00",
		"total_price":      "81.00",
	}, func(r *http.Request) { r.Header.Set("Authorization", h.bearer(t, admin)) })
	require.Equal(t, http.StatusCreated, rec.Code)
	bundleID, _ := decodeBody(t, rec)["id"].(string)
	require.NotEmpty(t, bundleID)

	// Non-admins cannot create bundles.
	rec = h.do(http.MethodPost, "/api/v1/bundles", map[string]any{
		"name": "Nope", "token_count": 1, "duration_hours": 24, "scope": "full",
		"discount_percent": "0", "base_price": "1", "total_price": "1",
	}, func(r *http.Request) { r.Header.Set("Authorization", h.bearer(t, buyer)) })
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.do(http.MethodGet, "/api/v1/bundles", nil, func(r *http.Request) {
		r.Header.Set("Authorization", h.bearer(t, buyer))
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decodeBody(t, rec)["total"])

	rec = h.do(http.MethodPost, "/api/v1/bundles/"+bundleID+"/purchase", nil,
		func(r *http.Request) { r.Header.Set("Authorization", h.bearer(t, buyer)) })
	require.Equal(t, http.StatusCreated, rec.Code)
	receipt := decodeBody(t, rec)
	assert.Equal(t, float64(5), receipt["tokens_generated"])
	assert.Equal(t, "19.00", receipt["new_balance"])

	rec = h.do(http.MethodDelete, "/api/v1/bundles/"+bundleID, nil,
		func(r *http.Request) { r.Header.Set("Authorization", h.bearer(t, admin)) })
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(http.MethodPost, "/api/v1/bundles/"+bundleID+"/purchase", nil,
		func(r *http.Request) { r.Header.Set("Authorization", h.bearer(t, buyer)) })
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSessionListAndClose(t *testing.T) {
	h, _ := newHarness(t)
	u := h.seedUser(t, "100.00", false)
	tok := h.buyToken(t, u, 24, token.ScopeFull)

	adm := h.do(http.MethodGet, "/api/v1/proxy/certificates/filter", nil, func(r *http.Request) {
		r.Header.Set("X-Device-ID", testDevice)
		r.Header.Set("X-Access-Token", tok.Secret)
	})
	require.Equal(t, http.StatusOK, adm.Code)

	auth := h.bearer(t, u)
	rec := h.do(http.MethodGet, "/api/v1/sessions", nil, func(r *http.Request) {
		r.Header.Set("Authorization", auth)
	})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	require.Equal(t, float64(1), body["total"])
	sessions, _ := body["sessions"].([]any)
	first, _ := sessions[0].(map[string]any)
	sessionID, _ := first["id"].(string)
	require.NotEmpty(t, sessionID)

	rec = h.do(http.MethodDelete, "/api/v1/sessions/"+sessionID, nil, func(r *http.Request) {
		r.Header.Set("Authorization", auth)
	})
	require.Equal(t, http.StatusOK, rec.Code)

	live, err := h.tracker.ActiveForUser(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Empty(t, live)
}

func TestSessionCloseRejectsForeignSession(t *testing.T) {
	h, _ := newHarness(t)
	owner := h.seedUser(t, "100.00", false)
	other := h.seedUser(t, "100.00", false)
	tok := h.buyToken(t, owner, 24, token.ScopeFull)

	adm := h.do(http.MethodGet, "/api/v1/proxy/certificates/filter", nil, func(r *http.Request) {
		r.Header.Set("X-Device-ID", testDevice)
		r.Header.Set("X-Access-Token", tok.Secret)
	})
	require.Equal(t, http.StatusOK, adm.Code)

	live, err := h.tracker.ActiveForUser(context.Background(), owner.ID)
	require.NoError(t, err)
	require.Len(t, live, 1)

	rec := h.do(http.MethodDelete, "/api/v1/sessions/"+live[0].ID.String(), nil,
		func(r *http.Request) { r.Header.Set("Authorization", h.bearer(t, other)) })
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	h, _ := newHarness(t)

	rec := h.do(http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "zenzefi-gateway", body["service"])
	assert.Equal(t, "in-memory", body["database"])
}
