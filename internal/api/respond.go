package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/zenzefi/gateway/internal/core"
)

// writeJSON serializes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

// detail is the standard error envelope.
type detail struct {
	Detail string `json:"detail"`
}

// statusFor is the single place a domain error kind becomes an HTTP
// status.
func statusFor(kind core.Kind) int {
	switch kind {
	case core.KindInvalidInput:
		return http.StatusBadRequest
	case core.KindUnauthorized:
		return http.StatusUnauthorized
	case core.KindForbidden:
		return http.StatusForbidden
	case core.KindInsufficientBalance:
		return http.StatusPaymentRequired
	case core.KindNotFound:
		return http.StatusNotFound
	case core.KindConflict:
		return http.StatusConflict
	case core.KindRateLimited:
		return http.StatusTooManyRequests
	case core.KindUpstreamTimeout:
		return http.StatusGatewayTimeout
	case core.KindUpstreamUnreachable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps any error to its response shape. Unclassified errors
// become opaque 500s; their details go to the log, not the client.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var rateErr *core.RateLimitError
	if errors.As(err, &rateErr) {
		w.Header().Set("Retry-After", strconv.Itoa(rateErr.RetryAfter))
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":       "rate_limit_exceeded",
			"message":     rateErr.Error(),
			"limit":       rateErr.Limit,
			"window":      rateErr.Window,
			"retry_after": rateErr.RetryAfter,
		})
		return
	}

	var conflictErr *core.DeviceConflictError
	if errors.As(err, &conflictErr) {
		writeJSON(w, http.StatusConflict, detail{Detail: conflictErr.Error()})
		return
	}

	var domainErr *core.DomainError
	if errors.As(err, &domainErr) {
		writeJSON(w, statusFor(domainErr.Kind), detail{Detail: domainErr.Msg})
		return
	}

	s.log.Error("unhandled error", "method", r.Method, "path", r.URL.Path, "error", err)
	writeJSON(w, http.StatusInternalServerError, detail{Detail: "Internal server error"})
}

// decode reads a JSON request body into v.
func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return core.NewError(core.KindInvalidInput, "invalid request body")
	}
	return nil
}
