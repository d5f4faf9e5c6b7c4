package auth

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/zenzefi/gateway/internal/core"
)

// PostgresStore implements Store.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const userColumns = `id, email, username, hashed_password, COALESCE(full_name, ''),
	is_active, is_superuser, currency_balance, referral_code,
	referred_by_id, referral_earned, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*core.User, error) {
	var u core.User
	var referredBy sql.NullString
	err := row.Scan(&u.ID, &u.Email, &u.Username, &u.HashedPassword, &u.FullName,
		&u.IsActive, &u.IsSuperuser, &u.Balance, &u.ReferralCode,
		&referredBy, &u.ReferralEarned, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, core.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("auth: scan user: %w", err)
	}
	if referredBy.Valid {
		id, err := uuid.Parse(referredBy.String)
		if err != nil {
			return nil, fmt.Errorf("auth: bad referred_by_id: %w", err)
		}
		u.ReferredByID = &id
	}
	return &u, nil
}

func (s *PostgresStore) Create(ctx context.Context, u *core.User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, username, hashed_password, full_name,
			is_active, is_superuser, currency_balance, referral_code,
			referred_by_id, referral_earned, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9, $10, $11, $12, $13)`,
		u.ID, u.Email, u.Username, u.HashedPassword, u.FullName,
		u.IsActive, u.IsSuperuser, u.Balance, u.ReferralCode,
		u.ReferredByID, u.ReferralEarned, u.CreatedAt, u.UpdatedAt)
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
		return core.NewError(core.KindConflict, "email or username already registered")
	}
	if err != nil {
		return fmt.Errorf("auth: create user: %w", err)
	}
	return nil
}

func (s *PostgresStore) ByID(ctx context.Context, id uuid.UUID) (*core.User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (s *PostgresStore) ByEmail(ctx context.Context, email string) (*core.User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email))
}

func (s *PostgresStore) ByUsername(ctx context.Context, username string) (*core.User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE lower(username) = lower($1)`, username))
}

func (s *PostgresStore) ByReferralCode(ctx context.Context, code string) (*core.User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE referral_code = $1`, code))
}
