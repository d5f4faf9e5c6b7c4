package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zenzefi/gateway/internal/core"
)

func TestMemoryKVHonorsTTL(t *testing.T) {
	clock := core.NewManualClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	s := NewMemoryStore(clock)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", []byte("v"), time.Minute))

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	clock.Advance(time.Minute)
	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestMemoryKVZeroTTLNeverExpires(t *testing.T) {
	clock := core.NewManualClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	s := NewMemoryStore(clock)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", []byte("v"), 0))
	clock.Advance(1000 * time.Hour)

	_, err := s.Get(ctx, "k")
	assert.NoError(t, err)
}

func TestMemoryKVDel(t *testing.T) {
	clock := core.NewManualClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	s := NewMemoryStore(clock)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", []byte("v"), 0))
	require.NoError(t, s.Del(ctx, "k"))
	_, err := s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestMemorySortedSetWindowOps(t *testing.T) {
	clock := core.NewManualClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	s := NewMemoryStore(clock)
	ctx := context.Background()

	require.NoError(t, s.ZAdd(ctx, "w", 10, "a"))
	require.NoError(t, s.ZAdd(ctx, "w", 20, "b"))
	require.NoError(t, s.ZAdd(ctx, "w", 30, "c"))

	n, err := s.ZCard(ctx, "w")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	oldest, ok, err := s.ZOldestScore(ctx, "w")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, float64(10), oldest)

	require.NoError(t, s.ZRemRangeByScore(ctx, "w", 0, 20))
	n, err = s.ZCard(ctx, "w")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	oldest, ok, err = s.ZOldestScore(ctx, "w")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, float64(30), oldest)
}

func TestMemorySortedSetExpire(t *testing.T) {
	clock := core.NewManualClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	s := NewMemoryStore(clock)
	ctx := context.Background()

	require.NoError(t, s.ZAdd(ctx, "w", 10, "a"))
	require.NoError(t, s.Expire(ctx, "w", time.Minute))

	clock.Advance(2 * time.Minute)
	n, err := s.ZCard(ctx, "w")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}
