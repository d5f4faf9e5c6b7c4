package bundle

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/zenzefi/gateway/internal/core"
	"github.com/zenzefi/gateway/internal/ledger"
	"github.com/zenzefi/gateway/internal/token"
)

// PostgresStore implements Store.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const bundleColumns = `id, name, COALESCE(description, ''), token_count,
	duration_hours, scope, discount_percent, base_price, total_price, is_active`

func scanBundle(row interface{ Scan(...any) error }) (*TokenBundle, error) {
	var b TokenBundle
	err := row.Scan(&b.ID, &b.Name, &b.Description, &b.TokenCount,
		&b.DurationHours, &b.Scope, &b.DiscountPercent, &b.BasePrice,
		&b.TotalPrice, &b.IsActive)
	if err == sql.ErrNoRows {
		return nil, core.ErrBundleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("bundle: scan: %w", err)
	}
	return &b, nil
}

func (s *PostgresStore) List(ctx context.Context, activeOnly bool) ([]TokenBundle, error) {
	query := `SELECT ` + bundleColumns + ` FROM token_bundles`
	if activeOnly {
		query += ` WHERE is_active`
	}
	query += ` ORDER BY total_price`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("bundle: list: %w", err)
	}
	defer rows.Close()

	var out []TokenBundle
	for rows.Next() {
		b, err := scanBundle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*TokenBundle, error) {
	return scanBundle(s.db.QueryRowContext(ctx, `
		SELECT `+bundleColumns+` FROM token_bundles
		WHERE id = $1 AND is_active`, id))
}

func (s *PostgresStore) Purchase(ctx context.Context, b *TokenBundle, userID uuid.UUID,
	secrets []string, now time.Time) ([]token.AccessToken, decimal.Decimal, error) {

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, decimal.Zero, fmt.Errorf("bundle: begin: %w", err)
	}
	defer tx.Rollback()

	var balance decimal.Decimal
	err = tx.QueryRowContext(ctx,
		`SELECT currency_balance FROM users WHERE id = $1 FOR UPDATE`, userID).
		Scan(&balance)
	if err == sql.ErrNoRows {
		return nil, decimal.Zero, core.ErrUserNotFound
	}
	if err != nil {
		return nil, decimal.Zero, fmt.Errorf("bundle: lock user: %w", err)
	}

	newBalance := balance.Sub(b.TotalPrice)
	if newBalance.IsNegative() {
		return nil, decimal.Zero, core.ErrInsufficientBalance
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE users SET currency_balance = $1, updated_at = $2 WHERE id = $3`,
		newBalance, now, userID); err != nil {
		return nil, decimal.Zero, fmt.Errorf("bundle: update balance: %w", err)
	}

	tokens := make([]token.AccessToken, 0, len(secrets))
	for _, secret := range secrets {
		tok := token.AccessToken{
			ID:            uuid.New(),
			UserID:        userID,
			Secret:        secret,
			DurationHours: b.DurationHours,
			Scope:         b.Scope,
			CreatedAt:     now,
			IsActive:      true,
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO access_tokens (id, user_id, secret, duration_hours, scope, created_at, is_active)
			VALUES ($1, $2, $3, $4, $5, $6, TRUE)`,
			tok.ID, tok.UserID, tok.Secret, tok.DurationHours, string(tok.Scope), tok.CreatedAt); err != nil {
			return nil, decimal.Zero, fmt.Errorf("bundle: insert token: %w", err)
		}
		tokens = append(tokens, tok)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO transactions (id, user_id, amount, transaction_type, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.New(), userID, b.TotalPrice.Neg(), string(ledger.TypePurchase),
		fmt.Sprintf("Bundle purchase: %s (%d tokens x %dh)", b.Name, b.TokenCount, b.DurationHours),
		now); err != nil {
		return nil, decimal.Zero, fmt.Errorf("bundle: insert transaction: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, decimal.Zero, fmt.Errorf("bundle: commit: %w", err)
	}
	return tokens, newBalance, nil
}

func (s *PostgresStore) Create(ctx context.Context, b *TokenBundle) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO token_bundles (id, name, description, token_count, duration_hours,
			scope, discount_percent, base_price, total_price, is_active)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9, $10)`,
		b.ID, b.Name, b.Description, b.TokenCount, b.DurationHours,
		string(b.Scope), b.DiscountPercent, b.BasePrice, b.TotalPrice, b.IsActive)
	if err != nil {
		return fmt.Errorf("bundle: create: %w", err)
	}
	return nil
}

func (s *PostgresStore) Update(ctx context.Context, id uuid.UUID, upd Update) (*TokenBundle, error) {
	b, err := scanBundle(s.db.QueryRowContext(ctx, `
		SELECT `+bundleColumns+` FROM token_bundles WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}

	if upd.Name != nil {
		b.Name = *upd.Name
	}
	if upd.Description != nil {
		b.Description = *upd.Description
	}
	if upd.TokenCount != nil {
		b.TokenCount = *upd.TokenCount
	}
	if upd.DurationHours != nil {
		b.DurationHours = *upd.DurationHours
	}
	if upd.Scope != nil {
		b.Scope = *upd.Scope
	}
	if upd.DiscountPercent != nil {
		b.DiscountPercent = *upd.DiscountPercent
	}
	if upd.BasePrice != nil {
		b.BasePrice = *upd.BasePrice
	}
	if upd.TotalPrice != nil {
		b.TotalPrice = *upd.TotalPrice
	}
	if upd.IsActive != nil {
		b.IsActive = *upd.IsActive
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE token_bundles
		SET name = $1, description = NULLIF($2, ''), token_count = $3, duration_hours = $4,
			scope = $5, discount_percent = $6, base_price = $7, total_price = $8, is_active = $9
		WHERE id = $10`,
		b.Name, b.Description, b.TokenCount, b.DurationHours, string(b.Scope),
		b.DiscountPercent, b.BasePrice, b.TotalPrice, b.IsActive, id)
	if err != nil {
		return nil, fmt.Errorf("bundle: update: %w", err)
	}
	return b, nil
}

func (s *PostgresStore) Deactivate(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE token_bundles SET is_active = FALSE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("bundle: deactivate: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrBundleNotFound
	}
	return nil
}
