// Package middleware provides the HTTP cross-cutting layers: request
// logging, session authentication and rate limiting.
package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/zenzefi/gateway/internal/auth"
	"github.com/zenzefi/gateway/internal/core"
	"github.com/zenzefi/gateway/internal/ratelimit"
)

// ClientIP extracts the caller's address, honoring X-Forwarded-For
// set by an edge proxy.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if first, _, ok := strings.Cut(fwd, ","); ok {
			return strings.TrimSpace(first)
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Logging logs one line per request.
func Logging(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			log.Info("request",
				"method", r.Method, "path", r.URL.Path,
				"status", rec.status, "duration", time.Since(start),
				"ip", ClientIP(r))
		})
	}
}

// RequireSession authenticates the management API via a Bearer session
// token and attaches the principal to the request context.
func RequireSession(signer *auth.Signer, onError func(http.ResponseWriter, *http.Request, error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			raw, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || raw == "" {
				onError(w, r, core.NewError(core.KindUnauthorized, "not authenticated"))
				return
			}

			claims, err := signer.Verify(raw)
			if err != nil {
				onError(w, r, err)
				return
			}

			principal := &core.Principal{
				UserID:   claims.UserID,
				Username: claims.Username,
				Elevated: claims.Superuser,
			}
			next.ServeHTTP(w, r.WithContext(core.WithPrincipal(r.Context(), principal)))
		})
	}
}

// RequireSuperuser gates admin endpoints. It must run after
// RequireSession.
func RequireSuperuser(onError func(http.ResponseWriter, *http.Request, error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := core.PrincipalFrom(r.Context())
			if !ok || !principal.Elevated {
				onError(w, r, core.NewError(core.KindForbidden, "superuser access required"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// LimitByIP applies a rate-limit class keyed by client address. Used
// for login and registration before any identity exists.
func LimitByIP(limiter *ratelimit.Limiter, class ratelimit.Class,
	onError func(http.ResponseWriter, *http.Request, error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := limiter.Allow(r.Context(), class, ClientIP(r)); err != nil {
				onError(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// LimitByUser applies a rate-limit class keyed by the authenticated
// user. Superusers bypass it. It must run after RequireSession.
func LimitByUser(limiter *ratelimit.Limiter, class ratelimit.Class,
	onError func(http.ResponseWriter, *http.Request, error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := core.PrincipalFrom(r.Context())
			if ok && !principal.Elevated {
				if err := limiter.Allow(r.Context(), class, principal.UserID.String()); err != nil {
					onError(w, r, err)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// CORS answers preflights and stamps the allowed origins.
func CORS(origins []string) func(http.Handler) http.Handler {
	allowAll := len(origins) == 0
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && (allowAll || allowed[origin]) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Set("Vary", "Origin")
			}
			if r.Method == http.MethodOptions {
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Access-Token, X-Device-ID")
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
