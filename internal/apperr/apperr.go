// Package apperr defines the status-coded error type used across the service.
// Every failure that can reach the API edge carries an HTTP status so the
// handler layer never has to guess how to translate it.
package apperr

import (
	"net/http"

	"github.com/pkg/errors"
)

// Error is an error with an associated HTTP status code.
type Error struct {
	Status  int
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *Error) Unwrap() error { return e.cause }

// New creates a status-coded error.
func New(status int, message string) *Error {
	return &Error{Status: status, Message: message}
}

// Wrap attaches a status code and message to an existing error. A nil cause
// returns nil.
func Wrap(cause error, status int, message string) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Status: status, Message: message, cause: cause}
}

// BadRequest marks a missing or malformed caller-supplied parameter. Never
// retried.
func BadRequest(message string) *Error {
	return New(http.StatusBadRequest, message)
}

// NotFound marks a page or episode that is structurally absent. Never retried.
func NotFound(message string) *Error {
	return New(http.StatusNotFound, message)
}

// Blocked marks an anti-bot challenge or stale credentials. The fetch layer
// responds with exactly one credential refresh and retry.
func Blocked(message string) *Error {
	return New(http.StatusForbidden, message)
}

// Unavailable marks an upstream network failure, timeout, or exhausted
// fallback strategies.
func Unavailable(message string) *Error {
	return New(http.StatusServiceUnavailable, message)
}

// StatusOf recovers the HTTP status for any error. Errors without a coded
// ancestor map to 500.
func StatusOf(err error) int {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Status
	}
	return http.StatusInternalServerError
}

// IsStatus reports whether err carries the given status code anywhere in its
// chain.
func IsStatus(err error, status int) bool {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Status == status
	}
	return false
}
