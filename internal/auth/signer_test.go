package auth_test

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zenzefi/gateway/internal/auth"
	"github.com/zenzefi/gateway/internal/core"
)

func TestIssueAndVerifyRoundtrip(t *testing.T) {
	clock := core.NewManualClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	signer := auth.NewSigner("test-secret", time.Hour, clock)
	userID := uuid.New()

	tok, err := signer.Issue(userID, "alice", true)
	require.NoError(t, err)

	claims, err := signer.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, "alice", claims.Username)
	assert.True(t, claims.Superuser)
	assert.Equal(t, clock.Now().Unix(), claims.IssuedAt)
	assert.Equal(t, clock.Now().Add(time.Hour).Unix(), claims.ExpiresAt)
}

func TestVerifyRejectsTamperedToken(t *testing.T) {
	clock := core.NewManualClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	signer := auth.NewSigner("test-secret", time.Hour, clock)

	tok, err := signer.Issue(uuid.New(), "alice", false)
	require.NoError(t, err)

	head, tail, ok := strings.Cut(tok, ".")
	require.True(t, ok)

	// Flip a payload byte, keep the signature.
	mutated := []byte(head)
	mutated[3] ^= 0x01
	_, err = signer.Verify(string(mutated) + "." + tail)
	assert.ErrorIs(t, err, core.ErrInvalidToken)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	clock := core.NewManualClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	tok, err := auth.NewSigner("secret-a", time.Hour, clock).Issue(uuid.New(), "alice", false)
	require.NoError(t, err)

	_, err = auth.NewSigner("secret-b", time.Hour, clock).Verify(tok)
	assert.ErrorIs(t, err, core.ErrInvalidToken)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	clock := core.NewManualClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	signer := auth.NewSigner("test-secret", time.Hour, clock)

	tok, err := signer.Issue(uuid.New(), "alice", false)
	require.NoError(t, err)

	clock.Advance(time.Hour + time.Second)
	_, err = signer.Verify(tok)
	assert.ErrorIs(t, err, core.ErrInvalidToken)
}

func TestVerifyRejectsMalformedInput(t *testing.T) {
	clock := core.NewManualClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	signer := auth.NewSigner("test-secret", time.Hour, clock)

	for _, tok := range []string{"", "no-dot", "a.b.c", "!!.??"} {
		_, err := signer.Verify(tok)
		assert.ErrorIs(t, err, core.ErrInvalidToken, tok)
	}
}
