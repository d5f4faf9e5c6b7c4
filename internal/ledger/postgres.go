package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/zenzefi/gateway/internal/core"
)

// PostgresStore implements Store against PostgreSQL. Balance changes
// run in a serializable transaction holding SELECT ... FOR UPDATE on
// the user row, so concurrent movements for one user serialize into a
// total order with no lost updates.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) GetUser(ctx context.Context, id uuid.UUID) (*core.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, email, username, hashed_password, COALESCE(full_name, ''),
		       is_active, is_superuser, currency_balance, referral_code,
		       referred_by_id, referral_earned, created_at, updated_at
		FROM users WHERE id = $1`, id))
}

func scanUser(row *sql.Row) (*core.User, error) {
	var u core.User
	var referredBy sql.NullString
	err := row.Scan(&u.ID, &u.Email, &u.Username, &u.HashedPassword, &u.FullName,
		&u.IsActive, &u.IsSuperuser, &u.Balance, &u.ReferralCode,
		&referredBy, &u.ReferralEarned, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, core.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: scan user: %w", err)
	}
	if referredBy.Valid {
		id, err := uuid.Parse(referredBy.String)
		if err != nil {
			return nil, fmt.Errorf("ledger: bad referred_by_id: %w", err)
		}
		u.ReferredByID = &id
	}
	return &u, nil
}

func (s *PostgresStore) ApplyTransaction(ctx context.Context, userID uuid.UUID,
	amount decimal.Decimal, txType TransactionType, description string,
	paymentID *string, now time.Time) (decimal.Decimal, error) {

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return decimal.Zero, fmt.Errorf("ledger: begin: %w", err)
	}
	defer tx.Rollback()

	var balance decimal.Decimal
	err = tx.QueryRowContext(ctx,
		`SELECT currency_balance FROM users WHERE id = $1 FOR UPDATE`, userID).
		Scan(&balance)
	if err == sql.ErrNoRows {
		return decimal.Zero, core.ErrUserNotFound
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("ledger: lock user: %w", err)
	}

	newBalance := balance.Add(amount)
	if newBalance.IsNegative() {
		return decimal.Zero, core.ErrInsufficientBalance
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE users SET currency_balance = $1, updated_at = $2 WHERE id = $3`,
		newBalance, now, userID); err != nil {
		return decimal.Zero, fmt.Errorf("ledger: update balance: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO transactions (id, user_id, amount, transaction_type, description, payment_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		uuid.New(), userID, amount, string(txType), description, paymentID, now); err != nil {
		return decimal.Zero, fmt.Errorf("ledger: insert transaction: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return decimal.Zero, fmt.Errorf("ledger: commit: %w", err)
	}
	return newBalance, nil
}

func (s *PostgresStore) Transactions(ctx context.Context, userID uuid.UUID,
	limit, offset int, txType *TransactionType) ([]Transaction, int, error) {

	where := `WHERE user_id = $1`
	args := []any{userID}
	if txType != nil {
		where += ` AND transaction_type = $2`
		args = append(args, string(*txType))
	}

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transactions `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ledger: count transactions: %w", err)
	}

	args = append(args, limit, offset)
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, user_id, amount, transaction_type, description, payment_id, created_at
		FROM transactions %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("ledger: list transactions: %w", err)
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		var t Transaction
		var paymentID sql.NullString
		if err := rows.Scan(&t.ID, &t.UserID, &t.Amount, &t.Type,
			&t.Description, &paymentID, &t.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("ledger: scan transaction: %w", err)
		}
		if paymentID.Valid {
			t.PaymentID = &paymentID.String
		}
		out = append(out, t)
	}
	return out, total, rows.Err()
}

func (s *PostgresStore) CountPurchasesOver(ctx context.Context, userID uuid.UUID,
	threshold decimal.Decimal) (int, error) {

	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM transactions
		WHERE user_id = $1 AND transaction_type = 'purchase' AND abs(amount) > $2`,
		userID, threshold).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("ledger: count purchases: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) AddReferralEarned(ctx context.Context, userID uuid.UUID,
	amount decimal.Decimal) error {

	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET referral_earned = referral_earned + $1 WHERE id = $2`,
		amount, userID)
	if err != nil {
		return fmt.Errorf("ledger: add referral earned: %w", err)
	}
	return nil
}
