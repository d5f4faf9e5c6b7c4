package core

import (
	"fmt"
	"time"
)

// Kind classifies a domain failure. Handlers map each kind to an HTTP
// status exactly once, at the API boundary; services never branch on
// error message substrings.
type Kind int

const (
	KindInvalidInput Kind = iota
	KindUnauthorized
	KindForbidden
	KindInsufficientBalance
	KindNotFound
	KindConflict
	KindRateLimited
	KindUpstreamTimeout
	KindUpstreamUnreachable
	KindInternal
)

// DomainError is a failure with a closed classification and a message
// safe to show to API clients.
type DomainError struct {
	Kind Kind
	Msg  string
}

func (e *DomainError) Error() string { return e.Msg }

func NewError(kind Kind, format string, args ...any) *DomainError {
	return &DomainError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

var (
	ErrUserNotFound   = &DomainError{KindNotFound, "user not found"}
	ErrTokenNotFound  = &DomainError{KindNotFound, "token not found"}
	ErrBundleNotFound = &DomainError{KindNotFound, "bundle not found or inactive"}

	ErrInvalidDuration = &DomainError{KindInvalidInput, "invalid duration. Must be one of: [1 12 24 168 720]"}
	ErrInvalidAmount   = &DomainError{KindInvalidInput, "amount must be positive"}
	ErrOverflow        = &DomainError{KindInvalidInput, "amount exceeds the supported range"}
	ErrInvalidScope    = &DomainError{KindInvalidInput, "invalid token scope"}

	ErrCannotRevokeActivated = &DomainError{KindInvalidInput, "cannot revoke an activated token"}

	ErrInvalidToken = &DomainError{KindUnauthorized, "invalid or expired access token"}

	ErrInsufficientBalance = &DomainError{KindInsufficientBalance, "insufficient balance"}
)

// DeviceConflictError is returned when a token is already bound to an
// active session on another device. It carries enough context for a
// user-visible message without leaking the full device identifier.
type DeviceConflictError struct {
	OtherDevice string // truncated prefix of the conflicting device id
	StartedAt   time.Time
}

func (e *DeviceConflictError) Error() string {
	return fmt.Sprintf(
		"token is already in use on device %q since %s; idle sessions are released after 5 minutes",
		e.OtherDevice, e.StartedAt.UTC().Format(time.RFC3339),
	)
}

// RateLimitError carries the limiter envelope fields required by the
// 429 response shape.
type RateLimitError struct {
	Class      string
	Limit      int
	Window     int // seconds
	RetryAfter int // seconds
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf(
		"rate limit exceeded. Maximum %d requests per %d seconds allowed",
		e.Limit, e.Window,
	)
}
