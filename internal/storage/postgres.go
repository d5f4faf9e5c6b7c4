// Package storage owns the PostgreSQL connection and schema bootstrap.
// Individual domain packages keep their own SQL next to their service
// code; this package only opens the pool and makes sure the tables and
// the invariant-bearing indices exist.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// Open connects to PostgreSQL and verifies the connection.
func Open(databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("storage: open: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: ping: %w", err)
	}

	return db, nil
}

// EnsureSchema creates all tables and indices if they do not exist.
// The partial unique index on proxy_sessions closes the race window
// between two first requests from different devices: only one insert
// with is_active=true can win.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("storage: schema: %w", err)
		}
	}
	return nil
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id UUID PRIMARY KEY,
		email TEXT NOT NULL,
		username TEXT NOT NULL,
		hashed_password TEXT NOT NULL,
		full_name TEXT,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		is_superuser BOOLEAN NOT NULL DEFAULT FALSE,
		currency_balance NUMERIC(10,2) NOT NULL DEFAULT 0 CHECK (currency_balance >= 0),
		referral_code TEXT NOT NULL,
		referred_by_id UUID REFERENCES users(id) ON DELETE SET NULL,
		referral_earned NUMERIC(10,2) NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		CHECK (referred_by_id IS NULL OR referred_by_id <> id)
	)`,
	// Uniqueness is case-insensitive by policy; the lower() indices
	// enforce it at the storage layer rather than in application code.
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_users_email ON users (lower(email))`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_users_username ON users (lower(username))`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_users_referral_code ON users (referral_code)`,

	`CREATE TABLE IF NOT EXISTS access_tokens (
		id UUID PRIMARY KEY,
		user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		secret TEXT NOT NULL,
		duration_hours INTEGER NOT NULL,
		scope TEXT NOT NULL CHECK (scope IN ('full', 'certificates_only')),
		created_at TIMESTAMPTZ NOT NULL,
		activated_at TIMESTAMPTZ,
		revoked_at TIMESTAMPTZ,
		is_active BOOLEAN NOT NULL DEFAULT TRUE
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_access_tokens_secret ON access_tokens (secret)`,
	`CREATE INDEX IF NOT EXISTS ix_access_tokens_user ON access_tokens (user_id)`,

	`CREATE TABLE IF NOT EXISTS transactions (
		id UUID PRIMARY KEY,
		user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		amount NUMERIC(10,2) NOT NULL,
		transaction_type TEXT NOT NULL CHECK (transaction_type IN ('deposit', 'purchase', 'refund', 'referral_bonus')),
		description TEXT NOT NULL,
		payment_id TEXT,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS ix_transactions_user ON transactions (user_id)`,
	`CREATE INDEX IF NOT EXISTS ix_transactions_type ON transactions (transaction_type)`,

	`CREATE TABLE IF NOT EXISTS proxy_sessions (
		id UUID PRIMARY KEY,
		user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		token_id UUID NOT NULL REFERENCES access_tokens(id) ON DELETE CASCADE,
		device_id TEXT NOT NULL,
		ip_address TEXT NOT NULL,
		user_agent TEXT,
		started_at TIMESTAMPTZ NOT NULL,
		last_activity TIMESTAMPTZ NOT NULL,
		ended_at TIMESTAMPTZ,
		bytes_transferred BIGINT NOT NULL DEFAULT 0,
		request_count INTEGER NOT NULL DEFAULT 0,
		is_active BOOLEAN NOT NULL DEFAULT TRUE
	)`,
	`CREATE INDEX IF NOT EXISTS ix_proxy_sessions_user ON proxy_sessions (user_id)`,
	`CREATE INDEX IF NOT EXISTS ix_proxy_sessions_last_activity ON proxy_sessions (last_activity)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_proxy_sessions_active_token
		ON proxy_sessions (token_id) WHERE is_active`,

	`CREATE TABLE IF NOT EXISTS token_bundles (
		id UUID PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT,
		token_count INTEGER NOT NULL CHECK (token_count > 0),
		duration_hours INTEGER NOT NULL,
		scope TEXT NOT NULL CHECK (scope IN ('full', 'certificates_only')),
		discount_percent NUMERIC(5,2) NOT NULL CHECK (discount_percent >= 0 AND discount_percent <= 100),
		base_price NUMERIC(10,2) NOT NULL CHECK (base_price > 0),
		total_price NUMERIC(10,2) NOT NULL CHECK (total_price > 0),
		is_active BOOLEAN NOT NULL DEFAULT TRUE
	)`,

	`CREATE TABLE IF NOT EXISTS audit_logs (
		id UUID PRIMARY KEY,
		user_id UUID REFERENCES users(id) ON DELETE SET NULL,
		action TEXT NOT NULL,
		resource_type TEXT NOT NULL,
		resource_id TEXT,
		details JSONB,
		ip_address TEXT,
		user_agent TEXT,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS ix_audit_logs_created ON audit_logs (created_at)`,

	`CREATE TABLE IF NOT EXISTS payment_intents (
		id UUID PRIMARY KEY,
		user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		amount_znc NUMERIC(10,2) NOT NULL CHECK (amount_znc > 0),
		amount_rub NUMERIC(10,2) NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('pending', 'succeeded', 'canceled')),
		external_id TEXT NOT NULL,
		confirmation_url TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_payment_intents_external ON payment_intents (external_id)`,
}
