// Package domainerrors provides coded errors for the certificate domain.
//
// Stores return sentinel errors (pkg/platform/sentinel); services translate
// those into coded errors so transport layers can map them to HTTP statuses
// without string matching.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code identifies an error category in the certificate lifecycle taxonomy.
type Code string

const (
	// CodeBadRequest marks malformed or missing input.
	CodeBadRequest Code = "bad_request"
	// CodeNotFound marks an unknown domain.
	CodeNotFound Code = "not_found"
	// CodeAlreadyExists marks a duplicate domain registration.
	CodeAlreadyExists Code = "already_exists"
	// CodeInvalidTransition marks an event not valid from the current state,
	// including repeated events that would map to the current stable state.
	CodeInvalidTransition Code = "invalid_transition"
	// CodeConcurrentModification marks a version conflict that survived the
	// engine's bounded retry budget.
	CodeConcurrentModification Code = "concurrent_modification"
	// CodeCAFailure marks a definitive failure reported by the certificate
	// authority; the domain has been moved to the failed state.
	CodeCAFailure Code = "ca_failure"
	// CodeCAPending marks an unknown certificate authority outcome; the
	// domain was left untouched and the caller should retry or poll.
	CodeCAPending Code = "ca_pending"
	// CodeInvariantViolation marks a broken model invariant.
	CodeInvariantViolation Code = "invariant_violation"
	// CodeUnavailable marks storage-layer unavailability. Requests are
	// rejected outright rather than retried internally.
	CodeUnavailable Code = "unavailable"
	// CodeInternal marks unexpected failures.
	CodeInternal Code = "internal_error"
)

// Error carries a code, a human-readable message, and an optional cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs a coded error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf constructs a coded error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// HasCode reports whether err (or anything it wraps) carries the given code.
func HasCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// CodeOf extracts the code from err, defaulting to CodeInternal for
// unclassified errors.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}
