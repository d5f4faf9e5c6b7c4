package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/zenzefi/gateway/internal/core"
	"github.com/zenzefi/gateway/internal/middleware"
	"github.com/zenzefi/gateway/internal/proxy"
	"github.com/zenzefi/gateway/internal/ratelimit"
	"github.com/zenzefi/gateway/internal/scope"
	"github.com/zenzefi/gateway/internal/token"
)

const proxyPrefix = "/api/v1/proxy"

const (
	deviceIDMinLen = 8
	deviceIDMaxLen = 255
)

// accessToken extracts the credential for a proxied request, cookie
// first, header second.
func accessToken(r *http.Request) string {
	if c, err := r.Cookie(proxy.CookieName); err == nil && c.Value != "" {
		return c.Value
	}
	return r.Header.Get("X-Access-Token")
}

func (s *Server) setAuthCookie(w http.ResponseWriter, secret string, maxAge int) {
	sameSite := http.SameSiteLaxMode
	switch strings.ToLower(s.cfg.CookieSameSite) {
	case "strict":
		sameSite = http.SameSiteStrictMode
	case "none":
		sameSite = http.SameSiteNoneMode
	}
	http.SetCookie(w, &http.Cookie{
		Name:     proxy.CookieName,
		Value:    secret,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   s.cfg.CookieSecure,
		SameSite: sameSite,
		Path:     "/",
	})
}

// cookieMaxAge derives the cookie lifetime from the token status:
// remaining validity for activated tokens, the full duration
// otherwise.
func (s *Server) cookieMaxAge(st *token.Status) int {
	if st.IsActivated && st.ExpiresAt != nil {
		return int(st.ExpiresAt.Sub(s.clock.Now()).Seconds())
	}
	return st.DurationHours * 3600
}

type proxyAuthRequest struct {
	Token string `json:"token"`
}

func (s *Server) handleProxyAuthenticate(w http.ResponseWriter, r *http.Request) {
	var req proxyAuthRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Token == "" {
		s.writeError(w, r, core.NewError(core.KindInvalidInput, "Token is required in request body"))
		return
	}

	st, err := s.tokens.CheckStatus(r.Context(), req.Token)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	maxAge := s.cookieMaxAge(st)
	s.setAuthCookie(w, req.Token, maxAge)

	writeJSON(w, http.StatusOK, map[string]any{
		"authenticated":          true,
		"user_id":                st.UserID,
		"token_id":               st.TokenID,
		"is_activated":           st.IsActivated,
		"expires_at":             st.ExpiresAt,
		"cookie_set":             true,
		"cookie_max_age":         maxAge,
		"time_remaining_seconds": maxAge,
	})
}

func (s *Server) handleProxyLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     proxy.CookieName,
		Value:    "",
		MaxAge:   -1,
		HttpOnly: true,
		Path:     "/",
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"logged_out": true,
		"message":    "Cookie deleted successfully",
	})
}

func (s *Server) handleProxyStatus(w http.ResponseWriter, r *http.Request) {
	viaCookie := false
	if c, err := r.Cookie(proxy.CookieName); err == nil && c.Value != "" {
		viaCookie = true
	}

	secret := accessToken(r)
	if secret == "" {
		s.writeError(w, r, core.NewError(core.KindUnauthorized,
			"Authentication required: provide cookie or X-Access-Token header"))
		return
	}

	st, err := s.tokens.CheckStatus(r.Context(), secret)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := map[string]any{
		"connected":      true,
		"user_id":        st.UserID,
		"token_id":       st.TokenID,
		"is_activated":   st.IsActivated,
		"expires_at":     st.ExpiresAt,
		"duration_hours": st.DurationHours,
	}
	if viaCookie {
		resp["authenticated_via"] = "cookie"
	} else {
		resp["authenticated_via"] = "header"
	}
	if st.IsActivated && st.ExpiresAt != nil {
		remaining := int(st.ExpiresAt.Sub(s.clock.Now()).Seconds())
		if remaining < 0 {
			remaining = 0
		}
		resp["time_remaining_seconds"] = remaining
		resp["status"] = "active"
	} else {
		resp["time_remaining_seconds"] = nil
		resp["status"] = "ready"
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleProxy is the catch-all admission pipeline in front of the
// upstream. Order matters: source maps, query-token redirect,
// device id, token, scope, session, rate limit, forward.
func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, proxyPrefix)
	path = strings.TrimPrefix(path, "/")

	if proxy.IsWebSocketUpgrade(r) {
		s.handleProxyWS(w, r, path)
		return
	}

	// Browsers request source maps without custom headers; cut them
	// off before authentication.
	if strings.HasSuffix(path, ".map") {
		s.writeError(w, r, core.NewError(core.KindNotFound, "Source maps not available through proxy"))
		return
	}

	if queryToken := r.URL.Query().Get("token"); queryToken != "" {
		s.redirectWithCookie(w, r, path, queryToken)
		return
	}

	deviceID := r.Header.Get("X-Device-ID")
	if len(deviceID) < deviceIDMinLen || len(deviceID) > deviceIDMaxLen {
		s.metrics.AdmissionRejected.WithLabelValues("missing_device").Inc()
		s.writeError(w, r, core.NewError(core.KindForbidden,
			"X-Device-ID header is required and must be between %d and %d characters",
			deviceIDMinLen, deviceIDMaxLen))
		return
	}

	secret := accessToken(r)
	if secret == "" {
		s.metrics.AdmissionRejected.WithLabelValues("bad_token").Inc()
		s.writeError(w, r, core.NewError(core.KindUnauthorized,
			"Authentication required: provide cookie or X-Access-Token header"))
		return
	}

	claims, err := s.tokens.Validate(r.Context(), secret)
	if err != nil {
		s.metrics.AdmissionRejected.WithLabelValues("bad_token").Inc()
		s.writeError(w, r, err)
		return
	}

	if !s.authorizeScope(w, r, path, claims) {
		return
	}

	ip := middleware.ClientIP(r)
	sess, err := s.tracker.Track(r.Context(), claims.UserID, claims.TokenID, deviceID, ip, r.UserAgent())
	if err != nil {
		var conflict *core.DeviceConflictError
		if errors.As(err, &conflict) {
			s.metrics.AdmissionRejected.WithLabelValues("device_conflict").Inc()
			s.metrics.SessionConflicts.Inc()
			s.writeError(w, r, err)
			return
		}
		// Tracking trouble must not break proxying.
		s.log.Warn("session tracking failed", "token_id", claims.TokenID, "error", err)
	}

	if err := s.limiter.Allow(r.Context(), ratelimit.ClassProxy, claims.TokenID.String()); err != nil {
		s.metrics.AdmissionRejected.WithLabelValues("rate_limited").Inc()
		s.metrics.RateLimited.WithLabelValues(string(ratelimit.ClassProxy)).Inc()
		s.writeError(w, r, err)
		return
	}

	start := time.Now()
	rw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
	n, err := s.fwd.Forward(rw, r, path, claims.UserID, claims.TokenID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.metrics.ProxyRequests.WithLabelValues(r.Method, statusClass(rw.status)).Inc()
	s.metrics.ProxyDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
	s.metrics.ProxyBytes.Add(float64(n))
	if sess != nil {
		s.tracker.RecordBytes(r.Context(), sess.ID, n)
	}
}

func (s *Server) authorizeScope(w http.ResponseWriter, r *http.Request, path string, claims *token.Claims) bool {
	if s.scopeAllows(path, string(claims.Scope)) {
		return true
	}
	s.metrics.AdmissionRejected.WithLabelValues("scope").Inc()
	s.writeError(w, r, core.NewError(core.KindForbidden,
		"Access to this path is not allowed for your token scope"))
	return false
}

// redirectWithCookie handles the desktop client's first visit: the
// token arrives as a query parameter, gets validated read-only and
// moved into the cookie, and the client is redirected to the same
// path without the token in the URL.
func (s *Server) redirectWithCookie(w http.ResponseWriter, r *http.Request, path, queryToken string) {
	st, err := s.tokens.CheckStatus(r.Context(), queryToken)
	if err != nil {
		s.writeError(w, r, core.NewError(core.KindUnauthorized,
			"Invalid or expired access token in query parameter"))
		return
	}

	var redirectURL string
	if localURL := r.Header.Get("X-Local-Url"); localURL != "" {
		redirectURL = strings.TrimSuffix(localURL, "/") + "/" + path
	} else {
		redirectURL = r.URL.Path
	}

	s.setAuthCookie(w, queryToken, s.cookieMaxAge(st))
	http.Redirect(w, r, redirectURL, http.StatusSeeOther)
}

func (s *Server) handleProxyWS(w http.ResponseWriter, r *http.Request, path string) {
	// Browsers cannot set custom headers on WebSocket handshakes;
	// the token comes from the query string or the cookie.
	secret := r.URL.Query().Get("token")
	if secret == "" {
		if c, err := r.Cookie(proxy.CookieName); err == nil {
			secret = c.Value
		}
	}
	if secret == "" {
		s.metrics.AdmissionRejected.WithLabelValues("bad_token").Inc()
		s.ws.Reject(w, r, "Missing access token")
		return
	}

	claims, err := s.tokens.Validate(r.Context(), secret)
	if err != nil {
		s.metrics.AdmissionRejected.WithLabelValues("bad_token").Inc()
		s.ws.Reject(w, r, "Invalid or expired access token")
		return
	}
	if !s.scopeAllows(path, string(claims.Scope)) {
		s.metrics.AdmissionRejected.WithLabelValues("scope").Inc()
		s.ws.Reject(w, r, "Access to this path is not allowed for your token scope")
		return
	}

	s.ws.Bridge(w, r, path, claims.UserID, claims.TokenID)
}

func (s *Server) scopeAllows(path, tokenScope string) bool {
	return scope.Authorize(path, tokenScope)
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func statusClass(status int) string {
	return strconv.Itoa(status/100) + "xx"
}
