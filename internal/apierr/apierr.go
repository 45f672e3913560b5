// Package apierr defines the typed failure kinds shared across the hub and
// the single place (the HTTP surface) that maps them to status codes.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is one of the abstract error kinds from the error handling design.
type Kind string

const (
	KindValidation        Kind = "VALIDATION_FAILURE"
	KindUnauthenticated    Kind = "UNAUTHENTICATED"
	KindInactiveServer     Kind = "INACTIVE_SERVER"
	KindNotFound           Kind = "NOT_FOUND"
	KindCommandTimeout     Kind = "COMMAND_TIMEOUT"
	KindConflict           Kind = "CONFLICT"
	KindWhitelistViolation Kind = "WHITELIST_VIOLATION"
	KindRateLimited        Kind = "RATE_LIMITED"
	KindSSHUnavailable     Kind = "SSH_UNAVAILABLE"
	KindInternal           Kind = "INTERNAL_FAILURE"
)

// Error is a typed failure that the HTTP surface maps to a response.
type Error struct {
	Kind       Kind
	Message    string
	RetryAfter int // seconds; only meaningful for KindRateLimited
	cause      error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates an Error of the given kind with a human message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an Error of the given kind that wraps an underlying cause.
// The cause is never exposed in the HTTP response body, only logged.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// As extracts an *Error from err, if any.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// HTTPStatus returns the status code for a Kind, per spec §7/§4.14.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusUnprocessableEntity
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindInactiveServer:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindCommandTimeout:
		return http.StatusRequestTimeout
	case KindConflict:
		return http.StatusConflict
	case KindWhitelistViolation:
		return http.StatusBadRequest
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindSSHUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
