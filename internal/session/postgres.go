package session

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// PostgresStore implements Store. The partial unique index on
// (token_id) WHERE is_active turns the create race into a constraint
// violation, surfaced as ErrSessionExists.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const sessionColumns = `id, user_id, token_id, device_id, ip_address,
	COALESCE(user_agent, ''), started_at, last_activity, ended_at,
	bytes_transferred, request_count, is_active`

func scanSession(row interface{ Scan(...any) error }) (*ProxySession, error) {
	var s ProxySession
	var endedAt sql.NullTime
	err := row.Scan(&s.ID, &s.UserID, &s.TokenID, &s.DeviceID, &s.IPAddress,
		&s.UserAgent, &s.StartedAt, &s.LastActivity, &endedAt,
		&s.BytesTransferred, &s.RequestCount, &s.IsActive)
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session: scan: %w", err)
	}
	if endedAt.Valid {
		s.EndedAt = &endedAt.Time
	}
	return &s, nil
}

func (s *PostgresStore) ActiveByToken(ctx context.Context, tokenID uuid.UUID) (*ProxySession, error) {
	return scanSession(s.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM proxy_sessions
		WHERE token_id = $1 AND is_active`, tokenID))
}

func (s *PostgresStore) Create(ctx context.Context, sess *ProxySession) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO proxy_sessions (id, user_id, token_id, device_id, ip_address,
			user_agent, started_at, last_activity, bytes_transferred, request_count, is_active)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, 0, $9, TRUE)`,
		sess.ID, sess.UserID, sess.TokenID, sess.DeviceID, sess.IPAddress,
		sess.UserAgent, sess.StartedAt, sess.LastActivity, sess.RequestCount)
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
		return ErrSessionExists
	}
	if err != nil {
		return fmt.Errorf("session: create: %w", err)
	}
	return nil
}

func (s *PostgresStore) Touch(ctx context.Context, sessionID uuid.UUID, ip, userAgent string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE proxy_sessions
		SET last_activity = $1, request_count = request_count + 1,
			ip_address = $2, user_agent = COALESCE(NULLIF($3, ''), user_agent)
		WHERE id = $4 AND is_active`, now, ip, userAgent, sessionID)
	if err != nil {
		return fmt.Errorf("session: touch: %w", err)
	}
	return nil
}

func (s *PostgresStore) AddBytes(ctx context.Context, sessionID uuid.UUID, n int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE proxy_sessions
		SET bytes_transferred = bytes_transferred + $1
		WHERE id = $2`, n, sessionID)
	if err != nil {
		return fmt.Errorf("session: add bytes: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close(ctx context.Context, sessionID uuid.UUID, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE proxy_sessions
		SET is_active = FALSE, ended_at = $1
		WHERE id = $2 AND is_active`, now, sessionID)
	if err != nil {
		return fmt.Errorf("session: close: %w", err)
	}
	return nil
}

func (s *PostgresStore) CloseIdle(ctx context.Context, cutoff, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE proxy_sessions
		SET is_active = FALSE, ended_at = $1
		WHERE is_active AND last_activity <= $2`, now, cutoff)
	if err != nil {
		return 0, fmt.Errorf("session: close idle: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *PostgresStore) ActiveForUser(ctx context.Context, userID uuid.UUID) ([]ProxySession, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM proxy_sessions
		WHERE user_id = $1 AND is_active
		ORDER BY started_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("session: list: %w", err)
	}
	defer rows.Close()

	var out []ProxySession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sess)
	}
	return out, rows.Err()
}
