package api

import (
	"net/http"

	"github.com/zenzefi/gateway/internal/audit"
	"github.com/zenzefi/gateway/internal/auth"
	"github.com/zenzefi/gateway/internal/core"
	"github.com/zenzefi/gateway/internal/middleware"
)

type registerRequest struct {
	Email        string `json:"email"`
	Username     string `json:"username"`
	Password     string `json:"password"`
	FullName     string `json:"full_name"`
	ReferralCode string `json:"referral_code"`
}

type userResponse struct {
	ID             string `json:"id"`
	Email          string `json:"email"`
	Username       string `json:"username"`
	FullName       string `json:"full_name,omitempty"`
	IsActive       bool   `json:"is_active"`
	IsSuperuser    bool   `json:"is_superuser"`
	Balance        string `json:"currency_balance"`
	ReferralCode   string `json:"referral_code"`
	ReferralLink   string `json:"referral_link"`
	ReferralEarned string `json:"referral_earned"`
}

func (s *Server) userResponse(u *core.User) userResponse {
	return userResponse{
		ID:             u.ID.String(),
		Email:          u.Email,
		Username:       u.Username,
		FullName:       u.FullName,
		IsActive:       u.IsActive,
		IsSuperuser:    u.IsSuperuser,
		Balance:        u.Balance.StringFixed(2),
		ReferralCode:   u.ReferralCode,
		ReferralLink:   s.auth.ReferralLink(u),
		ReferralEarned: u.ReferralEarned.StringFixed(2),
	}
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	user, err := s.auth.Register(r.Context(), auth.Registration{
		Email:        req.Email,
		Username:     req.Username,
		Password:     req.Password,
		FullName:     req.FullName,
		ReferralCode: req.ReferralCode,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.audit.Record(r.Context(), audit.Entry{
		UserID:       &user.ID,
		Action:       "user.register",
		ResourceType: "user",
		ResourceID:   user.ID.String(),
		IPAddress:    middleware.ClientIP(r),
		UserAgent:    r.UserAgent(),
	})

	writeJSON(w, http.StatusCreated, s.userResponse(user))
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	sess, user, err := s.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.audit.Record(r.Context(), audit.Entry{
		UserID:       &user.ID,
		Action:       "user.login",
		ResourceType: "user",
		ResourceID:   user.ID.String(),
		IPAddress:    middleware.ClientIP(r),
		UserAgent:    r.UserAgent(),
	})

	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	principal, _ := core.PrincipalFrom(r.Context())
	user, err := s.auth.User(r.Context(), principal.UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.userResponse(user))
}
