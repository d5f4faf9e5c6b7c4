package api

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/zenzefi/gateway/internal/audit"
	"github.com/zenzefi/gateway/internal/core"
	"github.com/zenzefi/gateway/internal/middleware"
	"github.com/zenzefi/gateway/internal/token"
)

type purchaseTokenRequest struct {
	DurationHours int    `json:"duration_hours"`
	Scope         string `json:"scope"`
}

func (s *Server) handleTokenPurchase(w http.ResponseWriter, r *http.Request) {
	principal, _ := core.PrincipalFrom(r.Context())

	req := purchaseTokenRequest{Scope: string(token.ScopeFull)}
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	tok, balance, err := s.tokens.Generate(r.Context(), principal.UserID,
		req.DurationHours, token.Scope(req.Scope))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.metrics.TokensIssued.WithLabelValues(strconv.Itoa(tok.DurationHours)).Inc()
	s.audit.Record(r.Context(), audit.Entry{
		UserID:       &principal.UserID,
		Action:       "token.purchase",
		ResourceType: "access_token",
		ResourceID:   tok.ID.String(),
		Details:      map[string]any{"duration_hours": tok.DurationHours, "scope": tok.Scope},
		IPAddress:    middleware.ClientIP(r),
		UserAgent:    r.UserAgent(),
	})

	writeJSON(w, http.StatusCreated, map[string]any{
		"token":       tok,
		"new_balance": balance.StringFixed(2),
	})
}

func (s *Server) handleTokenList(w http.ResponseWriter, r *http.Request) {
	principal, _ := core.PrincipalFrom(r.Context())
	activeOnly, _ := strconv.ParseBool(r.URL.Query().Get("active_only"))

	tokens, err := s.tokens.List(r.Context(), principal.UserID, activeOnly)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if tokens == nil {
		tokens = []token.AccessToken{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tokens": tokens, "total": len(tokens)})
}

func (s *Server) handleTokenRevoke(w http.ResponseWriter, r *http.Request) {
	principal, _ := core.PrincipalFrom(r.Context())

	tokenID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, core.NewError(core.KindInvalidInput, "invalid token id"))
		return
	}

	refund, balance, err := s.tokens.Revoke(r.Context(), principal.UserID, tokenID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	// Release the device binding along with the token.
	if err := s.tracker.End(r.Context(), tokenID); err != nil {
		s.log.Warn("failed to end session on revoke", "token_id", tokenID, "error", err)
	}

	s.metrics.TokensRevoked.Inc()
	s.audit.Record(r.Context(), audit.Entry{
		UserID:       &principal.UserID,
		Action:       "token.revoke",
		ResourceType: "access_token",
		ResourceID:   tokenID.String(),
		Details:      map[string]any{"refund": refund.StringFixed(2)},
		IPAddress:    middleware.ClientIP(r),
		UserAgent:    r.UserAgent(),
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"revoked":       true,
		"refund_amount": refund.StringFixed(2),
		"new_balance":   balance.StringFixed(2),
	})
}
