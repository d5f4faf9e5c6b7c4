package token

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"

	"github.com/zenzefi/gateway/internal/cache"
	"github.com/zenzefi/gateway/internal/core"
)

// ClaimsCache keeps validated claims keyed by a digest of the secret,
// so the hot admission path skips the database. Entries live at most
// until the token's expiry; cache failures are never fatal, the
// database remains the source of truth.
type ClaimsCache struct {
	kv    cache.KV
	clock core.Clock
	log   *slog.Logger
}

func NewClaimsCache(kv cache.KV, clock core.Clock, log *slog.Logger) *ClaimsCache {
	return &ClaimsCache{kv: kv, clock: clock, log: log}
}

func cacheKey(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return "active_token:" + hex.EncodeToString(sum[:])
}

// Get returns cached claims for the secret, or nil on a miss. A hit
// whose expiry has passed is dropped and reported as a miss.
func (c *ClaimsCache) Get(ctx context.Context, secret string) *Claims {
	raw, err := c.kv.Get(ctx, cacheKey(secret))
	if err == cache.ErrMiss {
		return nil
	}
	if err != nil {
		c.log.Warn("claims cache read failed", "error", err)
		return nil
	}

	var claims Claims
	if err := json.Unmarshal(raw, &claims); err != nil {
		c.log.Warn("claims cache entry corrupt, dropping", "error", err)
		c.Drop(ctx, secret)
		return nil
	}
	if !c.clock.Now().Before(claims.ExpiresAt) {
		c.Drop(ctx, secret)
		return nil
	}
	return &claims
}

// Put stores claims with a TTL ending at the token's expiry.
func (c *ClaimsCache) Put(ctx context.Context, secret string, claims *Claims) {
	ttl := claims.ExpiresAt.Sub(c.clock.Now())
	if ttl <= 0 {
		return
	}
	raw, err := json.Marshal(claims)
	if err != nil {
		c.log.Warn("claims cache encode failed", "error", err)
		return
	}
	if err := c.kv.Set(ctx, cacheKey(secret), raw, ttl); err != nil {
		c.log.Warn("claims cache write failed", "error", err)
	}
}

// Drop evicts the entry for the secret.
func (c *ClaimsCache) Drop(ctx context.Context, secret string) {
	if err := c.kv.Del(ctx, cacheKey(secret)); err != nil {
		c.log.Warn("claims cache delete failed", "error", err)
	}
}
