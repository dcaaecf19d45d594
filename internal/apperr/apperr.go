// Package apperr defines the error kinds surfaced to API callers and the
// mapping rules between them. Storage and service code classifies failures
// with these kinds; the HTTP layer translates kinds to status codes in one
// place instead of hand-picking codes per handler.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for the caller.
type Kind int

const (
	// Internal is an unexpected invariant violation. The zero value on
	// purpose: an unclassified error is an internal one.
	Internal Kind = iota

	// BadRequest is a malformed payload or missing required tenant context.
	BadRequest

	// Unauthorized is an absent or invalid principal.
	Unauthorized

	// Forbidden means the principal lacks the required action on the resource.
	Forbidden

	// NotFound covers both "does not exist" and "outside the caller's scope";
	// the two are deliberately indistinguishable.
	NotFound

	// Conflict is a state-machine or uniqueness violation.
	Conflict

	// TransientFailure is downstream unavailability; safe to retry.
	TransientFailure
)

func (k Kind) String() string {
	switch k {
	case BadRequest:
		return "bad_request"
	case Unauthorized:
		return "unauthorized"
	case Forbidden:
		return "forbidden"
	case NotFound:
		return "not_found"
	case Conflict:
		return "conflict"
	case TransientFailure:
		return "transient_failure"
	default:
		return "internal"
	}
}

// Error carries a kind, a caller-safe message and an optional wrapped cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an error of the given kind.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying error. A nil err yields nil.
func Wrap(kind Kind, msg string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the kind from an error chain; unclassified errors are Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether the error chain carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Message returns the caller-safe message for an error chain. Unclassified
// errors get a generic message so internals never leak to API responses.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Msg
	}
	return "internal error"
}

// HTTPStatus maps an error chain's kind to an HTTP status code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case BadRequest:
		return http.StatusBadRequest
	case Unauthorized:
		return http.StatusUnauthorized
	case Forbidden:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	case Conflict:
		return http.StatusConflict
	case TransientFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
