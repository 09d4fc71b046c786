// Package apperr defines the error kinds surfaced by the workflow core.
//
// Every failure returned by the engine is one of NotFound, Forbidden,
// InvalidRequest, Conflict or Internal. Transport layers map the kind to a
// status code with KindOf and never need to inspect messages.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers.
type Kind string

const (
	// KindNotFound means a referenced bug, task, user or project does not exist.
	KindNotFound Kind = "not_found"
	// KindForbidden means the actor lacks the role or relationship for the action.
	KindForbidden Kind = "forbidden"
	// KindInvalid means the input is malformed or incomplete.
	KindInvalid Kind = "bad_request"
	// KindConflict means the transition is illegal from the entity's current state.
	KindConflict Kind = "conflict"
	// KindInternal covers persistence and other infrastructure failures.
	KindInternal Kind = "internal_error"
)

// Error carries a Kind and a human readable message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message == "" {
		return e.Err.Error()
	}
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same kind, so errors.Is(err, apperr.ErrForbidden) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Err == nil && t.Kind == e.Kind
}

// Sentinels usable with errors.Is.
var (
	ErrNotFound  = &Error{Kind: KindNotFound}
	ErrForbidden = &Error{Kind: KindForbidden}
	ErrInvalid   = &Error{Kind: KindInvalid}
	ErrConflict  = &Error{Kind: KindConflict}
	ErrInternal  = &Error{Kind: KindInternal}
)

func newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) *Error  { return newf(KindNotFound, format, args...) }
func Forbidden(format string, args ...any) *Error { return newf(KindForbidden, format, args...) }
func Invalid(format string, args ...any) *Error   { return newf(KindInvalid, format, args...) }
func Conflict(format string, args ...any) *Error  { return newf(KindConflict, format, args...) }

// Internal wraps an infrastructure failure.
func Internal(err error, format string, args ...any) *Error {
	e := newf(KindInternal, format, args...)
	e.Err = err
	return e
}

// KindOf reports the kind of err. Unclassified errors are Internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
