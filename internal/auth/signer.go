package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zenzefi/gateway/internal/core"
)

// SessionClaims is the payload of a signed management-API session
// token.
type SessionClaims struct {
	UserID    uuid.UUID `json:"sub"`
	Username  string    `json:"username"`
	Superuser bool      `json:"su,omitempty"`
	IssuedAt  int64     `json:"iat"`
	ExpiresAt int64     `json:"exp"`
}

// Signer issues and verifies HMAC-SHA256 session tokens of the form
// base64(claims).base64(signature).
type Signer struct {
	secret []byte
	ttl    time.Duration
	clock  core.Clock
}

func NewSigner(secret string, ttl time.Duration, clock core.Clock) *Signer {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Signer{secret: []byte(secret), ttl: ttl, clock: clock}
}

// TTL is the lifetime of issued session tokens.
func (s *Signer) TTL() time.Duration { return s.ttl }

// Issue signs a session token for the user.
func (s *Signer) Issue(userID uuid.UUID, username string, superuser bool) (string, error) {
	now := s.clock.Now()
	claims := SessionClaims{
		UserID:    userID,
		Username:  username,
		Superuser: superuser,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(s.ttl).Unix(),
	}

	payload, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(payload) +
		"." +
		base64.RawURLEncoding.EncodeToString(s.sign(payload)), nil
}

// Verify checks the signature and expiry and returns the claims.
func (s *Signer) Verify(token string) (*SessionClaims, error) {
	head, tail, ok := strings.Cut(token, ".")
	if !ok {
		return nil, core.ErrInvalidToken
	}

	payload, err := base64.RawURLEncoding.DecodeString(head)
	if err != nil {
		return nil, core.ErrInvalidToken
	}
	sig, err := base64.RawURLEncoding.DecodeString(tail)
	if err != nil {
		return nil, core.ErrInvalidToken
	}
	if !hmac.Equal(sig, s.sign(payload)) {
		return nil, core.ErrInvalidToken
	}

	var claims SessionClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, core.ErrInvalidToken
	}
	if s.clock.Now().Unix() > claims.ExpiresAt {
		return nil, core.ErrInvalidToken
	}
	return &claims, nil
}

func (s *Signer) sign(data []byte) []byte {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(data)
	return mac.Sum(nil)
}
