package audit_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zenzefi/gateway/internal/audit"
	"github.com/zenzefi/gateway/internal/core"
	"github.com/zenzefi/gateway/internal/storage"
)

func TestRecordFillsIDAndTimestamp(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := core.NewManualClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	mem := storage.NewMemory()
	rec := audit.NewRecorder(mem, clock, log)

	userID := uuid.New()
	rec.Record(context.Background(), audit.Entry{
		UserID:       &userID,
		Action:       "token.purchase",
		ResourceType: "access_token",
		ResourceID:   uuid.NewString(),
		Details:      map[string]any{"duration_hours": 24},
		IPAddress:    "10.0.0.1",
	})

	entries, err := rec.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.NotEqual(t, uuid.Nil, entries[0].ID)
	assert.Equal(t, clock.Now(), entries[0].CreatedAt)
	assert.Equal(t, "token.purchase", entries[0].Action)
}

func TestRecentReturnsNewestFirstAndClamps(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := core.NewManualClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	mem := storage.NewMemory()
	rec := audit.NewRecorder(mem, clock, log)

	for i := 0; i < 5; i++ {
		rec.Record(context.Background(), audit.Entry{Action: "user.login", ResourceType: "user"})
		clock.Advance(time.Second)
	}

	entries, err := rec.Recent(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.True(t, entries[0].CreatedAt.After(entries[1].CreatedAt))

	// Out-of-range limits fall back to the default.
	entries, err = rec.Recent(context.Background(), -1)
	require.NoError(t, err)
	assert.Len(t, entries, 5)
}
