package token

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/zenzefi/gateway/internal/core"
	"github.com/zenzefi/gateway/internal/ledger"
)

// PostgresStore implements Store. Purchase and Revoke run under
// serializable transactions with a row lock on the user so balance
// movement and token state change commit together.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const tokenColumns = `id, user_id, secret, duration_hours, scope,
	created_at, activated_at, revoked_at, is_active`

func scanToken(row interface{ Scan(...any) error }) (*AccessToken, error) {
	var t AccessToken
	var activatedAt, revokedAt sql.NullTime
	err := row.Scan(&t.ID, &t.UserID, &t.Secret, &t.DurationHours, &t.Scope,
		&t.CreatedAt, &activatedAt, &revokedAt, &t.IsActive)
	if err == sql.ErrNoRows {
		return nil, core.ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("token: scan: %w", err)
	}
	if activatedAt.Valid {
		t.ActivatedAt = &activatedAt.Time
	}
	if revokedAt.Valid {
		t.RevokedAt = &revokedAt.Time
	}
	return &t, nil
}

func (s *PostgresStore) Purchase(ctx context.Context, userID uuid.UUID,
	price decimal.Decimal, durationHours int, scope Scope, secret string,
	now time.Time) (*AccessToken, error) {

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, fmt.Errorf("token: begin: %w", err)
	}
	defer tx.Rollback()

	var balance decimal.Decimal
	err = tx.QueryRowContext(ctx,
		`SELECT currency_balance FROM users WHERE id = $1 FOR UPDATE`, userID).
		Scan(&balance)
	if err == sql.ErrNoRows {
		return nil, core.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("token: lock user: %w", err)
	}

	newBalance := balance.Sub(price)
	if newBalance.IsNegative() {
		return nil, core.ErrInsufficientBalance
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE users SET currency_balance = $1, updated_at = $2 WHERE id = $3`,
		newBalance, now, userID); err != nil {
		return nil, fmt.Errorf("token: update balance: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO transactions (id, user_id, amount, transaction_type, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.New(), userID, price.Neg(), string(ledger.TypePurchase),
		fmt.Sprintf("Access token purchase: %dh, %s", durationHours, scope), now); err != nil {
		return nil, fmt.Errorf("token: insert transaction: %w", err)
	}

	tok := &AccessToken{
		ID:            uuid.New(),
		UserID:        userID,
		Secret:        secret,
		DurationHours: durationHours,
		Scope:         scope,
		CreatedAt:     now,
		IsActive:      true,
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO access_tokens (id, user_id, secret, duration_hours, scope, created_at, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, TRUE)`,
		tok.ID, tok.UserID, tok.Secret, tok.DurationHours, string(tok.Scope), tok.CreatedAt); err != nil {
		return nil, fmt.Errorf("token: insert token: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("token: commit: %w", err)
	}
	return tok, nil
}

func (s *PostgresStore) FindUsable(ctx context.Context, secret string) (*AccessToken, error) {
	return scanToken(s.db.QueryRowContext(ctx, `
		SELECT `+tokenColumns+` FROM access_tokens
		WHERE secret = $1 AND is_active AND revoked_at IS NULL`, secret))
}

func (s *PostgresStore) Activate(ctx context.Context, tokenID uuid.UUID, now time.Time) (*AccessToken, error) {
	// activated_at IS NULL makes activation idempotent under races:
	// the loser of two concurrent first validations re-reads the row.
	res, err := s.db.ExecContext(ctx, `
		UPDATE access_tokens SET activated_at = $1
		WHERE id = $2 AND activated_at IS NULL AND is_active AND revoked_at IS NULL`,
		now, tokenID)
	if err != nil {
		return nil, fmt.Errorf("token: activate: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		tok, err := scanToken(s.db.QueryRowContext(ctx, `
			SELECT `+tokenColumns+` FROM access_tokens WHERE id = $1`, tokenID))
		if err != nil {
			return nil, err
		}
		if tok.ActivatedAt == nil || !tok.Usable(now) {
			return nil, core.ErrInvalidToken
		}
		return tok, nil
	}
	return scanToken(s.db.QueryRowContext(ctx, `
		SELECT `+tokenColumns+` FROM access_tokens WHERE id = $1`, tokenID))
}

func (s *PostgresStore) Revoke(ctx context.Context, tokenID, userID uuid.UUID,
	now time.Time) (*AccessToken, error) {

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, fmt.Errorf("token: begin: %w", err)
	}
	defer tx.Rollback()

	tok, err := scanToken(tx.QueryRowContext(ctx, `
		SELECT `+tokenColumns+` FROM access_tokens
		WHERE id = $1 AND user_id = $2 AND is_active AND revoked_at IS NULL
		FOR UPDATE`, tokenID, userID))
	if err != nil {
		return nil, err
	}
	if tok.ActivatedAt != nil {
		return nil, core.ErrCannotRevokeActivated
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE access_tokens SET revoked_at = $1, is_active = FALSE WHERE id = $2`,
		now, tokenID); err != nil {
		return nil, fmt.Errorf("token: revoke: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("token: commit: %w", err)
	}

	tok.RevokedAt = &now
	tok.IsActive = false
	return tok, nil
}

func (s *PostgresStore) List(ctx context.Context, userID uuid.UUID, activeOnly bool,
	now time.Time) ([]AccessToken, error) {

	query := `SELECT ` + tokenColumns + ` FROM access_tokens WHERE user_id = $1`
	args := []any{userID}
	if activeOnly {
		query += ` AND is_active AND revoked_at IS NULL
			AND (activated_at IS NULL OR activated_at + duration_hours * interval '1 hour' > $2)`
		args = append(args, now)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("token: list: %w", err)
	}
	defer rows.Close()

	var out []AccessToken
	for rows.Next() {
		tok, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *tok)
	}
	return out, rows.Err()
}
