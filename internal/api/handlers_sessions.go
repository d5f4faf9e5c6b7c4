package api

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/zenzefi/gateway/internal/audit"
	"github.com/zenzefi/gateway/internal/core"
	"github.com/zenzefi/gateway/internal/middleware"
	"github.com/zenzefi/gateway/internal/session"
)

func (s *Server) handleSessionList(w http.ResponseWriter, r *http.Request) {
	principal, _ := core.PrincipalFrom(r.Context())

	sessions, err := s.tracker.ActiveForUser(r.Context(), principal.UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if sessions == nil {
		sessions = []session.ProxySession{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions, "total": len(sessions)})
}

func (s *Server) handleSessionClose(w http.ResponseWriter, r *http.Request) {
	principal, _ := core.PrincipalFrom(r.Context())

	sessionID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, core.NewError(core.KindInvalidInput, "invalid session id"))
		return
	}

	// Ownership check before closing.
	sessions, err := s.tracker.ActiveForUser(r.Context(), principal.UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var owned *session.ProxySession
	for i := range sessions {
		if sessions[i].ID == sessionID {
			owned = &sessions[i]
			break
		}
	}
	if owned == nil {
		s.writeError(w, r, core.NewError(core.KindNotFound, "session not found"))
		return
	}

	if err := s.tracker.End(r.Context(), owned.TokenID); err != nil {
		s.writeError(w, r, err)
		return
	}

	s.audit.Record(r.Context(), audit.Entry{
		UserID:       &principal.UserID,
		Action:       "session.close",
		ResourceType: "proxy_session",
		ResourceID:   sessionID.String(),
		IPAddress:    middleware.ClientIP(r),
	})

	writeJSON(w, http.StatusOK, map[string]any{"closed": true})
}
