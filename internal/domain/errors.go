package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by stores when no row matches.
var ErrNotFound = errors.New("not found")

// ErrorKind classifies an application error for routing: which user-facing
// message to show, whether a fallback provider should be tried, and how
// loudly to notify admins.
type ErrorKind string

const (
	// Storage layer.
	KindConnection ErrorKind = "connection"
	KindQuery      ErrorKind = "query"
	KindIntegrity  ErrorKind = "integrity"

	// Remote-API layer.
	KindRateLimit ErrorKind = "rate_limit"
	KindAuth      ErrorKind = "auth"
	KindProvider  ErrorKind = "provider"

	// User-input layer.
	KindValidation     ErrorKind = "validation"
	KindInvalidCommand ErrorKind = "invalid_command"

	// Startup configuration.
	KindMissingConfig ErrorKind = "missing_config"
	KindInvalidConfig ErrorKind = "invalid_config"

	// Feature gating.
	KindFeatureDisabled ErrorKind = "feature_disabled"
	KindNotImplemented  ErrorKind = "not_implemented"

	// Policy.
	KindUnauthorized ErrorKind = "unauthorized"
	KindRateLimited  ErrorKind = "rate_limited"
)

// Error is a kinded application error. Message is safe to log; user-facing
// text comes from the error router's kind table, never from here.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// E creates a kinded error.
func E(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap attaches a kind and message to an underlying error.
func Wrap(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf reports the kind of err, or empty string when err carries none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// Retriable reports whether a model router should move on to the next
// provider after err. Only remote-API failures are retriable; anything else
// surfaces immediately.
func Retriable(err error) bool {
	switch KindOf(err) {
	case KindRateLimit, KindAuth, KindProvider:
		return true
	}
	return false
}
