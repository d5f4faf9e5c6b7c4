package auth

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/zenzefi/gateway/internal/core"
)

const referralCodeLength = 12

// referralAlphabet excludes easily confused characters.
const referralAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// Service handles registration and login.
type Service struct {
	store      Store
	signer     *Signer
	backendURL string
	clock      core.Clock
	log        *slog.Logger
}

func NewService(store Store, signer *Signer, backendURL string, clock core.Clock, log *slog.Logger) *Service {
	return &Service{store: store, signer: signer, backendURL: backendURL, clock: clock, log: log}
}

// Register creates a new account. Email and username are unique
// case-insensitively; an optional referral code links the new user to
// its referrer.
func (s *Service) Register(ctx context.Context, reg Registration) (*core.User, error) {
	reg.Email = strings.TrimSpace(reg.Email)
	reg.Username = strings.TrimSpace(reg.Username)
	if reg.Email == "" || reg.Username == "" {
		return nil, core.NewError(core.KindInvalidInput, "email and username are required")
	}
	if len(reg.Password) < 8 {
		return nil, core.NewError(core.KindInvalidInput, "password must be at least 8 characters")
	}

	if _, err := s.store.ByEmail(ctx, reg.Email); err == nil {
		return nil, core.NewError(core.KindConflict, "email already registered")
	} else if err != core.ErrUserNotFound {
		return nil, err
	}
	if _, err := s.store.ByUsername(ctx, reg.Username); err == nil {
		return nil, core.NewError(core.KindConflict, "username already taken")
	} else if err != core.ErrUserNotFound {
		return nil, err
	}

	var referredBy *uuid.UUID
	if reg.ReferralCode != "" {
		referrer, err := s.store.ByReferralCode(ctx, strings.ToUpper(strings.TrimSpace(reg.ReferralCode)))
		if err == core.ErrUserNotFound {
			return nil, core.NewError(core.KindInvalidInput, "unknown referral code")
		}
		if err != nil {
			return nil, err
		}
		referredBy = &referrer.ID
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(reg.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("auth: hash password: %w", err)
	}

	now := s.clock.Now()
	user := &core.User{
		ID:             uuid.New(),
		Email:          reg.Email,
		Username:       reg.Username,
		HashedPassword: string(hashed),
		FullName:       reg.FullName,
		IsActive:       true,
		ReferralCode:   newReferralCode(),
		ReferredByID:   referredBy,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.Create(ctx, user); err != nil {
		return nil, err
	}

	s.log.Info("user registered", "user_id", user.ID, "username", user.Username, "referred", referredBy != nil)
	return user, nil
}

// Login authenticates by email and password and issues a session.
func (s *Service) Login(ctx context.Context, email, password string) (*Session, *core.User, error) {
	user, err := s.store.ByEmail(ctx, strings.TrimSpace(email))
	if err == core.ErrUserNotFound {
		return nil, nil, core.NewError(core.KindUnauthorized, "incorrect email or password")
	}
	if err != nil {
		return nil, nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.HashedPassword), []byte(password)) != nil {
		return nil, nil, core.NewError(core.KindUnauthorized, "incorrect email or password")
	}
	if !user.IsActive {
		return nil, nil, core.NewError(core.KindUnauthorized, "account is disabled")
	}

	tok, err := s.signer.Issue(user.ID, user.Username, user.IsSuperuser)
	if err != nil {
		return nil, nil, err
	}

	return &Session{
		AccessToken: tok,
		TokenType:   "bearer",
		ExpiresIn:   int(s.signer.TTL().Seconds()),
	}, user, nil
}

// User loads an account by id.
func (s *Service) User(ctx context.Context, id uuid.UUID) (*core.User, error) {
	return s.store.ByID(ctx, id)
}

// ReferralLink returns the shareable registration link for a user.
func (s *Service) ReferralLink(user *core.User) string {
	return fmt.Sprintf("%s/register?ref=%s", strings.TrimSuffix(s.backendURL, "/"), user.ReferralCode)
}

func newReferralCode() string {
	buf := make([]byte, referralCodeLength)
	if _, err := rand.Read(buf); err != nil {
		panic("auth: crypto/rand unavailable: " + err.Error())
	}
	for i, b := range buf {
		buf[i] = referralAlphabet[int(b)%len(referralAlphabet)]
	}
	return string(buf)
}
