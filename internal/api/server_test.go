package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/zenzefi/gateway/internal/api"
	"github.com/zenzefi/gateway/internal/audit"
	"github.com/zenzefi/gateway/internal/auth"
	"github.com/zenzefi/gateway/internal/bundle"
	"github.com/zenzefi/gateway/internal/cache"
	"github.com/zenzefi/gateway/internal/config"
	"github.com/zenzefi/gateway/internal/core"
	"github.com/zenzefi/gateway/internal/ledger"
	"github.com/zenzefi/gateway/internal/metrics"
	"github.com/zenzefi/gateway/internal/payments"
	"github.com/zenzefi/gateway/internal/proxy"
	"github.com/zenzefi/gateway/internal/ratelimit"
	"github.com/zenzefi/gateway/internal/session"
	"github.com/zenzefi/gateway/internal/storage"
	"github.com/zenzefi/gateway/internal/token"
)

// Prometheus collectors register globally; one instance serves every
// test in the package.
var testMetrics = metrics.New()

// harness is a fully wired gateway over in-memory stores and an
// httptest upstream.
type harness struct {
	router   http.Handler
	mem      *storage.Memory
	clock    *core.ManualClock
	signer   *auth.Signer
	tokens   *token.Service
	ledger   *ledger.Service
	bundles  *bundle.Service
	tracker  *session.Tracker
	upstream *httptest.Server
}

// upstreamEcho answers every request with its own path and records the
// last request seen.
type upstreamEcho struct {
	lastPath   string
	lastHeader http.Header
}

func (u *upstreamEcho) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.lastPath = r.URL.Path
		u.lastHeader = r.Header.Clone()
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("upstream:" + r.URL.Path))
	})
}

func newHarness(t *testing.T) (*harness, *upstreamEcho) {
	t.Helper()

	echo := &upstreamEcho{}
	upstream := httptest.NewServer(echo.handler())
	t.Cleanup(upstream.Close)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := core.NewManualClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	mem := storage.NewMemory()
	cacheStore := cache.NewMemoryStore(clock)

	cfg := &config.Config{
		ListenAddr:      ":0",
		UpstreamURL:     upstream.URL,
		UpstreamTimeout: 5 * time.Second,
		SigningSecret:   "test-secret",
		BackendURL:      "https://gw.example",
		CookieSameSite:  "lax",
		CurrencyRate:    decimal.RequireFromString("1.00"),
		TokenPrices:     config.DefaultTokenPrices(),
	}

	ledgerSvc := ledger.NewService(mem, clock, log)
	claimsCache := token.NewClaimsCache(cacheStore, clock, log)
	tokenSvc := token.NewService(mem, ledgerSvc, claimsCache, cfg.TokenPrices, clock, log)
	tracker := session.NewTracker(mem.Sessions(), clock, log)
	limiter := ratelimit.NewLimiter(cacheStore, map[ratelimit.Class]ratelimit.Limit{
		ratelimit.ClassAuth:  {Requests: 10, Window: time.Hour},
		ratelimit.ClassAPI:   {Requests: 100, Window: time.Minute},
		ratelimit.ClassProxy: {Requests: 5, Window: time.Minute},
	}, clock, log)
	bundleSvc := bundle.NewService(mem.Bundles(), ledgerSvc, clock, log)
	signer := auth.NewSigner(cfg.SigningSecret, 24*time.Hour, clock)
	authSvc := auth.NewService(mem, signer, cfg.BackendURL, clock, log)
	paymentSvc := payments.NewService(mem.Payments(),
		payments.NewMockProvider(cfg.BackendURL), ledgerSvc, cfg.CurrencyRate, clock, log)
	recorder := audit.NewRecorder(mem, clock, log)

	fwd, err := proxy.NewForwarder(proxy.Options{
		UpstreamURL: upstream.URL,
		Timeout:     cfg.UpstreamTimeout,
	}, log)
	require.NoError(t, err)
	ws, err := proxy.NewWSProxy(proxy.Options{UpstreamURL: upstream.URL}, log)
	require.NoError(t, err)

	server := api.NewServer(api.Deps{
		Config:   cfg,
		Auth:     authSvc,
		Signer:   signer,
		Tokens:   tokenSvc,
		Ledger:   ledgerSvc,
		Bundles:  bundleSvc,
		Payments: paymentSvc,
		Tracker:  tracker,
		Limiter:  limiter,
		Forward:  fwd,
		WS:       ws,
		Audit:    recorder,
		Metrics:  testMetrics,
		Health:   api.NewHealthChecker(nil, cacheStore, upstream.URL, false),
		Clock:    clock,
		Log:      log,
	})

	return &harness{
		router:   server.Router(),
		mem:      mem,
		clock:    clock,
		signer:   signer,
		tokens:   tokenSvc,
		ledger:   ledgerSvc,
		bundles:  bundleSvc,
		tracker:  tracker,
		upstream: upstream,
	}, echo
}

// seedUser inserts an account directly, bypassing the registration
// endpoint.
func (h *harness) seedUser(t *testing.T, balance string, superuser bool) *core.User {
	t.Helper()
	u := &core.User{
		ID:           uuid.New(),
		Email:        uuid.NewString() + "@example.com",
		Username:     "u-" + uuid.NewString()[:8],
		IsActive:     true,
		IsSuperuser:  superuser,
		Balance:      decimal.RequireFromString(balance),
		ReferralCode: uuid.NewString()[:12],
		CreatedAt:    h.clock.Now(),
		UpdatedAt:    h.clock.Now(),
	}
	require.NoError(t, h.mem.Create(context.Background(), u))
	return u
}

func (h *harness) bearer(t *testing.T, u *core.User) string {
	t.Helper()
	tok, err := h.signer.Issue(u.ID, u.Username, u.IsSuperuser)
	require.NoError(t, err)
	return "Bearer " + tok
}

// buyToken purchases an access token directly through the service.
func (h *harness) buyToken(t *testing.T, u *core.User, hours int, scope token.Scope) *token.AccessToken {
	t.Helper()
	tok, _, err := h.tokens.Generate(context.Background(), u.ID, hours, scope)
	require.NoError(t, err)
	return tok
}

// do runs one request through the router.
func (h *harness) do(method, target string, body any, mutate func(*http.Request)) *httptest.ResponseRecorder {
	var buf io.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		buf = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, buf)
	req.RemoteAddr = "192.0.2.10:40000"
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if mutate != nil {
		mutate(req)
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}
