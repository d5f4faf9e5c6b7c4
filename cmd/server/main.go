package main

import (
	"context"
	"database/sql"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

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

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)
	clock := core.SystemClock()

	// Stores: PostgreSQL when configured, the in-memory backend for
	// local development otherwise.
	var (
		authStore    auth.Store
		ledgerStore  ledger.Store
		tokenStore   token.Store
		sessionStore session.Store
		bundleStore  bundle.Store
		paymentStore payments.Store
		auditStore   audit.Store
	)
	var db *sql.DB
	if cfg.DatabaseURL != "" {
		sqlDB, err := storage.Open(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to connect to PostgreSQL: %v", err)
		}
		defer sqlDB.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := storage.EnsureSchema(ctx, sqlDB); err != nil {
			cancel()
			log.Fatalf("Failed to ensure schema: %v", err)
		}
		cancel()

		authStore = auth.NewPostgresStore(sqlDB)
		ledgerStore = ledger.NewPostgresStore(sqlDB)
		tokenStore = token.NewPostgresStore(sqlDB)
		sessionStore = session.NewPostgresStore(sqlDB)
		bundleStore = bundle.NewPostgresStore(sqlDB)
		paymentStore = payments.NewPostgresStore(sqlDB)
		auditStore = audit.NewPostgresStore(sqlDB)
		db = sqlDB
		logger.Info("PostgreSQL connected")
	} else {
		mem := storage.NewMemory()
		authStore = mem
		ledgerStore = mem
		tokenStore = mem
		sessionStore = mem.Sessions()
		bundleStore = mem.Bundles()
		paymentStore = mem.Payments()
		auditStore = mem
		logger.Warn("DATABASE_URL not set, using in-memory stores")
	}

	// Cache: Redis when reachable, in-memory fallback otherwise.
	var cacheStore cache.Store
	redisStore, err := cache.NewRedisStore(cfg.RedisURL)
	if err != nil {
		logger.Warn("Redis unavailable, using in-memory cache", "error", err)
		cacheStore = cache.NewMemoryStore(clock)
	} else {
		cacheStore = redisStore
		defer redisStore.Close()
	}

	mets := metrics.New()

	ledgerSvc := ledger.NewService(ledgerStore, clock, logger)
	claimsCache := token.NewClaimsCache(cacheStore, clock, logger)
	tokenSvc := token.NewService(tokenStore, ledgerSvc, claimsCache, cfg.TokenPrices, clock, logger)
	tokenSvc.OnActivate(mets.TokensActivated.Inc)
	tracker := session.NewTracker(sessionStore, clock, logger)
	tracker.OnOpen(mets.SessionsOpened.Inc)
	tracker.OnDisplace(mets.SessionsDisplaced.Inc)
	reaper := session.NewReaper(sessionStore, clock, logger)
	limiter := ratelimit.NewLimiter(cacheStore, ratelimit.DefaultLimits(), clock, logger)
	bundleSvc := bundle.NewService(bundleStore, ledgerSvc, clock, logger)
	signer := auth.NewSigner(cfg.SigningSecret, 24*time.Hour, clock)
	authSvc := auth.NewService(authStore, signer, cfg.BackendURL, clock, logger)
	provider := payments.NewMockProvider(cfg.BackendURL)
	paymentSvc := payments.NewService(paymentStore, provider, ledgerSvc, cfg.CurrencyRate, clock, logger)
	recorder := audit.NewRecorder(auditStore, clock, logger)

	fwd, err := proxy.NewForwarder(proxy.Options{
		UpstreamURL:   cfg.UpstreamURL,
		Timeout:       cfg.UpstreamTimeout,
		InsecureTLS:   cfg.UpstreamInsecureTLS,
		BasicUser:     cfg.UpstreamBasicUser,
		BasicPassword: cfg.UpstreamBasicPassword,
	}, logger)
	if err != nil {
		log.Fatalf("Invalid upstream URL: %v", err)
	}
	ws, err := proxy.NewWSProxy(proxy.Options{
		UpstreamURL:   cfg.UpstreamURL,
		InsecureTLS:   cfg.UpstreamInsecureTLS,
		BasicUser:     cfg.UpstreamBasicUser,
		BasicPassword: cfg.UpstreamBasicPassword,
	}, logger)
	if err != nil {
		log.Fatalf("Invalid upstream URL: %v", err)
	}

	health := api.NewHealthChecker(db, cacheStore, cfg.UpstreamURL, cfg.UpstreamInsecureTLS)

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
		Metrics:  mets,
		Health:   health,
		Clock:    clock,
		Log:      logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go reaper.Run(ctx)
	go health.Run(ctx, cfg.HealthCheckInterval)

	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      server.Router(),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("gateway listening", "addr", cfg.ListenAddr, "upstream", cfg.UpstreamURL)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown incomplete", "error", err)
	}
}
