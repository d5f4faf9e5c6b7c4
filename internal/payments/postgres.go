package payments

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/zenzefi/gateway/internal/core"
)

// PostgresStore implements Store. Transition relies on a conditional
// UPDATE so only one webhook delivery settles an intent.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, in *Intent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payment_intents (id, user_id, amount_znc, amount_rub, status,
			external_id, confirmation_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9)`,
		in.ID, in.UserID, in.AmountZNC, in.AmountRUB, string(in.Status),
		in.ExternalID, in.ConfirmationURL, in.CreatedAt, in.UpdatedAt)
	if err != nil {
		return fmt.Errorf("payments: create intent: %w", err)
	}
	return nil
}

func (s *PostgresStore) ByExternalID(ctx context.Context, externalID string) (*Intent, error) {
	var in Intent
	var confirmationURL sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, amount_znc, amount_rub, status, external_id,
			confirmation_url, created_at, updated_at
		FROM payment_intents WHERE external_id = $1`, externalID).
		Scan(&in.ID, &in.UserID, &in.AmountZNC, &in.AmountRUB, &in.Status,
			&in.ExternalID, &confirmationURL, &in.CreatedAt, &in.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, core.NewError(core.KindNotFound, "payment not found")
	}
	if err != nil {
		return nil, fmt.Errorf("payments: find intent: %w", err)
	}
	if confirmationURL.Valid {
		in.ConfirmationURL = confirmationURL.String
	}
	return &in, nil
}

func (s *PostgresStore) Transition(ctx context.Context, externalID string,
	to IntentStatus, now time.Time) (bool, error) {

	res, err := s.db.ExecContext(ctx, `
		UPDATE payment_intents SET status = $1, updated_at = $2
		WHERE external_id = $3 AND status = 'pending'`,
		string(to), now, externalID)
	if err != nil {
		return false, fmt.Errorf("payments: transition: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}
