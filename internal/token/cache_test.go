package token_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zenzefi/gateway/internal/cache"
	"github.com/zenzefi/gateway/internal/core"
	"github.com/zenzefi/gateway/internal/token"
)

func newClaimsCache(t *testing.T) (*token.ClaimsCache, *core.ManualClock) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := core.NewManualClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	return token.NewClaimsCache(cache.NewMemoryStore(clock), clock, log), clock
}

func TestClaimsCacheRoundtrip(t *testing.T) {
	cc, clock := newClaimsCache(t)
	claims := &token.Claims{
		UserID:        uuid.New(),
		TokenID:       uuid.New(),
		DurationHours: 24,
		Scope:         token.ScopeFull,
		ExpiresAt:     clock.Now().Add(24 * time.Hour),
	}

	cc.Put(context.Background(), "secret-1", claims)

	got := cc.Get(context.Background(), "secret-1")
	require.NotNil(t, got)
	assert.Equal(t, claims.TokenID, got.TokenID)
	assert.Equal(t, claims.Scope, got.Scope)
	assert.True(t, claims.ExpiresAt.Equal(got.ExpiresAt))
}

func TestClaimsCacheMiss(t *testing.T) {
	cc, _ := newClaimsCache(t)
	assert.Nil(t, cc.Get(context.Background(), "never-stored"))
}

func TestClaimsCacheExpiredEntryIsAMiss(t *testing.T) {
	cc, clock := newClaimsCache(t)
	claims := &token.Claims{
		UserID:    uuid.New(),
		TokenID:   uuid.New(),
		Scope:     token.ScopeFull,
		ExpiresAt: clock.Now().Add(time.Hour),
	}
	cc.Put(context.Background(), "secret-1", claims)

	clock.Advance(time.Hour)
	assert.Nil(t, cc.Get(context.Background(), "secret-1"))
}

func TestClaimsCachePutSkipsExpiredClaims(t *testing.T) {
	cc, clock := newClaimsCache(t)
	claims := &token.Claims{
		UserID:    uuid.New(),
		TokenID:   uuid.New(),
		Scope:     token.ScopeFull,
		ExpiresAt: clock.Now().Add(-time.Minute),
	}
	cc.Put(context.Background(), "secret-1", claims)
	assert.Nil(t, cc.Get(context.Background(), "secret-1"))
}

func TestClaimsCacheDrop(t *testing.T) {
	cc, clock := newClaimsCache(t)
	claims := &token.Claims{
		UserID:    uuid.New(),
		TokenID:   uuid.New(),
		Scope:     token.ScopeFull,
		ExpiresAt: clock.Now().Add(time.Hour),
	}
	cc.Put(context.Background(), "secret-1", claims)
	cc.Drop(context.Background(), "secret-1")
	assert.Nil(t, cc.Get(context.Background(), "secret-1"))
}
