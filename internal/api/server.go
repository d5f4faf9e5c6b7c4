// Package api assembles the HTTP surface: management API, the proxy
// admission pipeline and the operational endpoints.
package api

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/zenzefi/gateway/internal/audit"
	"github.com/zenzefi/gateway/internal/auth"
	"github.com/zenzefi/gateway/internal/bundle"
	"github.com/zenzefi/gateway/internal/config"
	"github.com/zenzefi/gateway/internal/core"
	"github.com/zenzefi/gateway/internal/ledger"
	"github.com/zenzefi/gateway/internal/metrics"
	"github.com/zenzefi/gateway/internal/middleware"
	"github.com/zenzefi/gateway/internal/payments"
	"github.com/zenzefi/gateway/internal/proxy"
	"github.com/zenzefi/gateway/internal/ratelimit"
	"github.com/zenzefi/gateway/internal/session"
	"github.com/zenzefi/gateway/internal/token"
)

// Server wires services into HTTP handlers.
type Server struct {
	cfg *config.Config

	auth     *auth.Service
	signer   *auth.Signer
	tokens   *token.Service
	ledger   *ledger.Service
	bundles  *bundle.Service
	payments *payments.Service
	tracker  *session.Tracker
	limiter  *ratelimit.Limiter
	fwd      *proxy.Forwarder
	ws       *proxy.WSProxy
	audit    *audit.Recorder
	metrics  *metrics.Metrics
	health   *HealthChecker

	clock core.Clock
	log   *slog.Logger
}

// Deps carries everything a Server needs.
type Deps struct {
	Config   *config.Config
	Auth     *auth.Service
	Signer   *auth.Signer
	Tokens   *token.Service
	Ledger   *ledger.Service
	Bundles  *bundle.Service
	Payments *payments.Service
	Tracker  *session.Tracker
	Limiter  *ratelimit.Limiter
	Forward  *proxy.Forwarder
	WS       *proxy.WSProxy
	Audit    *audit.Recorder
	Metrics  *metrics.Metrics
	Health   *HealthChecker
	Clock    core.Clock
	Log      *slog.Logger
}

func NewServer(d Deps) *Server {
	return &Server{
		cfg:      d.Config,
		auth:     d.Auth,
		signer:   d.Signer,
		tokens:   d.Tokens,
		ledger:   d.Ledger,
		bundles:  d.Bundles,
		payments: d.Payments,
		tracker:  d.Tracker,
		limiter:  d.Limiter,
		fwd:      d.Forward,
		ws:       d.WS,
		audit:    d.Audit,
		metrics:  d.Metrics,
		health:   d.Health,
		clock:    d.Clock,
		log:      d.Log,
	}
}

// Router builds the full route tree.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(middleware.Logging(s.log))
	r.Use(middleware.CORS(s.cfg.CORSOrigins))

	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.Handle("/metrics", metrics.Handler()).Methods("GET")

	api := r.PathPrefix("/api/v1").Subrouter()

	// Public auth endpoints, limited per client IP.
	authLimit := middleware.LimitByIP(s.limiter, ratelimit.ClassAuth, s.writeError)
	authAPI := api.PathPrefix("/auth").Subrouter()
	authAPI.Use(authLimit)
	authAPI.HandleFunc("/register", s.handleRegister).Methods("POST")
	authAPI.HandleFunc("/login", s.handleLogin).Methods("POST")

	// Authenticated management API.
	requireSession := middleware.RequireSession(s.signer, s.writeError)
	apiLimit := middleware.LimitByUser(s.limiter, ratelimit.ClassAPI, s.writeError)

	users := api.PathPrefix("/users").Subrouter()
	users.Use(requireSession, apiLimit)
	users.HandleFunc("/me", s.handleMe).Methods("GET")

	tokens := api.PathPrefix("/tokens").Subrouter()
	tokens.Use(requireSession, apiLimit)
	tokens.HandleFunc("/purchase", s.handleTokenPurchase).Methods("POST")
	tokens.HandleFunc("/my-tokens", s.handleTokenList).Methods("GET")
	tokens.HandleFunc("/{id}", s.handleTokenRevoke).Methods("DELETE")

	// The mock-payment and webhook endpoints are reached by the
	// gateway itself and by payment providers, so they stay outside
	// the session layer.
	currencyPublic := api.PathPrefix("/currency").Subrouter()
	currencyPublic.HandleFunc("/mock-payment", s.handleMockPayment).Methods("GET")
	currency := api.PathPrefix("/currency").Subrouter()
	currency.Use(requireSession, apiLimit)
	currency.HandleFunc("/balance", s.handleBalance).Methods("GET")
	currency.HandleFunc("/transactions", s.handleTransactions).Methods("GET")

	payPublic := api.PathPrefix("/payments").Subrouter()
	payPublic.HandleFunc("/webhook/{provider}", s.handlePaymentWebhook).Methods("POST")
	pay := api.PathPrefix("/payments").Subrouter()
	pay.Use(requireSession, apiLimit)
	pay.HandleFunc("/topup", s.handleTopUp).Methods("POST")

	bundles := api.PathPrefix("/bundles").Subrouter()
	bundles.Use(requireSession, apiLimit)
	bundles.HandleFunc("", s.handleBundleList).Methods("GET")
	bundles.HandleFunc("/{id}", s.handleBundleGet).Methods("GET")
	bundles.HandleFunc("/{id}/purchase", s.handleBundlePurchase).Methods("POST")

	admin := middleware.RequireSuperuser(s.writeError)
	bundleAdmin := api.PathPrefix("/bundles").Subrouter()
	bundleAdmin.Use(requireSession, admin)
	bundleAdmin.HandleFunc("", s.handleBundleCreate).Methods("POST")
	bundleAdmin.HandleFunc("/{id}", s.handleBundleUpdate).Methods("PATCH")
	bundleAdmin.HandleFunc("/{id}", s.handleBundleDeactivate).Methods("DELETE")

	sessions := api.PathPrefix("/sessions").Subrouter()
	sessions.Use(requireSession, apiLimit)
	sessions.HandleFunc("", s.handleSessionList).Methods("GET")
	sessions.HandleFunc("/{id}", s.handleSessionClose).Methods("DELETE")

	// Proxy surface. The named routes must register before the
	// catch-all forwarder.
	prox := api.PathPrefix("/proxy").Subrouter()
	prox.HandleFunc("/authenticate", s.handleProxyAuthenticate).Methods("POST")
	prox.HandleFunc("/logout", s.handleProxyLogout).Methods("DELETE")
	prox.HandleFunc("/status", s.handleProxyStatus).Methods("GET")
	prox.PathPrefix("/").HandlerFunc(s.handleProxy)
	api.HandleFunc("/proxy", s.handleProxy)

	return r
}
