// Package apperr defines the error taxonomy of the design notes: tagged
// Kind values carried internally, mapped to HTTP status only at the API
// boundary. Business logic switches on Kind; it never routes on Go error
// types or sentinel identity checks against the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is one of the error kinds named in the error-handling design.
type Kind string

const (
	Validation       Kind = "VALIDATION"
	Auth             Kind = "AUTH"
	Conflict         Kind = "CONFLICT"
	NotFound         Kind = "NOT_FOUND"
	PlanFailure      Kind = "PLAN_FAILURE"
	AuditFailure     Kind = "AUDIT_FAILURE"
	StoreUnavailable Kind = "STORE_UNAVAILABLE"
	LockExpired      Kind = "LOCK_EXPIRED"
	ClaimExpired     Kind = "CLAIM_EXPIRED"
)

// Error wraps a Kind with a message and an optional underlying cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs a *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs a *Error of the given kind carrying cause as its Unwrap target.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the Kind of err, if err (or something it wraps) is an *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Is reports whether err's Kind (or one it wraps) equals kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
