package session_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zenzefi/gateway/internal/core"
	"github.com/zenzefi/gateway/internal/session"
	"github.com/zenzefi/gateway/internal/storage"
)

func newTracker(t *testing.T) (*session.Tracker, session.Store, *core.ManualClock) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := storage.NewMemory().Sessions()
	clock := core.NewManualClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	return session.NewTracker(store, clock, log), store, clock
}

func TestTrackOpensSessionOnFirstRequest(t *testing.T) {
	tracker, _, _ := newTracker(t)
	userID, tokenID := uuid.New(), uuid.New()

	sess, err := tracker.Track(context.Background(), userID, tokenID,
		"device-aaaa-1111", "10.0.0.1", "curl/8")
	require.NoError(t, err)
	assert.Equal(t, tokenID, sess.TokenID)
	assert.Equal(t, 1, sess.RequestCount)
	assert.True(t, sess.IsActive)
}

func TestTrackSameDeviceTouches(t *testing.T) {
	tracker, _, clock := newTracker(t)
	userID, tokenID := uuid.New(), uuid.New()

	first, err := tracker.Track(context.Background(), userID, tokenID,
		"device-aaaa-1111", "10.0.0.1", "curl/8")
	require.NoError(t, err)

	clock.Advance(time.Minute)
	second, err := tracker.Track(context.Background(), userID, tokenID,
		"device-aaaa-1111", "10.0.0.2", "curl/8")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 2, second.RequestCount)
	assert.Equal(t, "10.0.0.2", second.IPAddress)
	assert.Equal(t, clock.Now(), second.LastActivity)
}

func TestTrackRejectsSecondDeviceWhileLive(t *testing.T) {
	tracker, _, clock := newTracker(t)
	userID, tokenID := uuid.New(), uuid.New()

	_, err := tracker.Track(context.Background(), userID, tokenID,
		"device-aaaa-1111", "10.0.0.1", "curl/8")
	require.NoError(t, err)

	clock.Advance(time.Minute)
	_, err = tracker.Track(context.Background(), userID, tokenID,
		"device-bbbb-2222", "10.0.0.2", "curl/8")

	var conflict *core.DeviceConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "device-a", conflict.OtherDevice)
}

func TestTrackDisplacesIdleSession(t *testing.T) {
	tracker, _, clock := newTracker(t)
	userID, tokenID := uuid.New(), uuid.New()

	old, err := tracker.Track(context.Background(), userID, tokenID,
		"device-aaaa-1111", "10.0.0.1", "curl/8")
	require.NoError(t, err)

	clock.Advance(session.IdleTimeout)
	next, err := tracker.Track(context.Background(), userID, tokenID,
		"device-bbbb-2222", "10.0.0.2", "curl/8")
	require.NoError(t, err)
	assert.NotEqual(t, old.ID, next.ID)
	assert.Equal(t, "device-bbbb-2222", next.DeviceID)
}

func TestTrackKeepsSessionJustUnderIdleTimeout(t *testing.T) {
	tracker, _, clock := newTracker(t)
	userID, tokenID := uuid.New(), uuid.New()

	_, err := tracker.Track(context.Background(), userID, tokenID,
		"device-aaaa-1111", "10.0.0.1", "curl/8")
	require.NoError(t, err)

	clock.Advance(session.IdleTimeout - time.Second)
	_, err = tracker.Track(context.Background(), userID, tokenID,
		"device-bbbb-2222", "10.0.0.2", "curl/8")

	var conflict *core.DeviceConflictError
	assert.ErrorAs(t, err, &conflict)
}

func TestEndReleasesBinding(t *testing.T) {
	tracker, _, _ := newTracker(t)
	userID, tokenID := uuid.New(), uuid.New()

	_, err := tracker.Track(context.Background(), userID, tokenID,
		"device-aaaa-1111", "10.0.0.1", "curl/8")
	require.NoError(t, err)

	require.NoError(t, tracker.End(context.Background(), tokenID))

	// A second device can attach immediately after logout.
	sess, err := tracker.Track(context.Background(), userID, tokenID,
		"device-bbbb-2222", "10.0.0.2", "curl/8")
	require.NoError(t, err)
	assert.Equal(t, "device-bbbb-2222", sess.DeviceID)
}

func TestEndWithoutSessionIsNoop(t *testing.T) {
	tracker, _, _ := newTracker(t)
	assert.NoError(t, tracker.End(context.Background(), uuid.New()))
}

func TestRecordBytesAccumulates(t *testing.T) {
	tracker, store, _ := newTracker(t)
	userID, tokenID := uuid.New(), uuid.New()

	sess, err := tracker.Track(context.Background(), userID, tokenID,
		"device-aaaa-1111", "10.0.0.1", "curl/8")
	require.NoError(t, err)

	tracker.RecordBytes(context.Background(), sess.ID, 1024)
	tracker.RecordBytes(context.Background(), sess.ID, 512)
	tracker.RecordBytes(context.Background(), sess.ID, -7)

	current, err := store.ActiveByToken(context.Background(), tokenID)
	require.NoError(t, err)
	assert.Equal(t, int64(1536), current.BytesTransferred)
}

func TestActiveForUserListsOnlyLiveSessions(t *testing.T) {
	tracker, _, _ := newTracker(t)
	userID := uuid.New()
	tokenA, tokenB := uuid.New(), uuid.New()

	_, err := tracker.Track(context.Background(), userID, tokenA,
		"device-aaaa-1111", "10.0.0.1", "curl/8")
	require.NoError(t, err)
	_, err = tracker.Track(context.Background(), userID, tokenB,
		"device-bbbb-2222", "10.0.0.2", "curl/8")
	require.NoError(t, err)

	require.NoError(t, tracker.End(context.Background(), tokenA))

	live, err := tracker.ActiveForUser(context.Background(), userID)
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, tokenB, live[0].TokenID)
}

func TestReaperSweepClosesIdleSessions(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := storage.NewMemory().Sessions()
	clock := core.NewManualClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	tracker := session.NewTracker(store, clock, log)
	reaper := session.NewReaper(store, clock, log)

	userID := uuid.New()
	idleToken, busyToken := uuid.New(), uuid.New()

	_, err := tracker.Track(context.Background(), userID, idleToken,
		"device-aaaa-1111", "10.0.0.1", "curl/8")
	require.NoError(t, err)

	clock.Advance(session.IdleTimeout)
	_, err = tracker.Track(context.Background(), userID, busyToken,
		"device-bbbb-2222", "10.0.0.2", "curl/8")
	require.NoError(t, err)

	reaper.Sweep(context.Background())

	_, err = store.ActiveByToken(context.Background(), idleToken)
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
	_, err = store.ActiveByToken(context.Background(), busyToken)
	assert.NoError(t, err)
}
