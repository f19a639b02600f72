// Package apperr defines the business error taxonomy shared by the approval
// engine and its adapters. Errors carry a Kind so callers can branch with
// errors.Is without parsing messages.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a business error
type Kind string

const (
	KindConfiguration Kind = "CONFIGURATION"
	KindConflict      Kind = "CONFLICT"
	KindValidation    Kind = "VALIDATION"
	KindNotFound      Kind = "NOT_FOUND"
	KindForbidden     Kind = "FORBIDDEN"
)

// Error is a business error with a kind and an actionable message
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// Kind sentinels for errors.Is matching
var (
	ErrConfiguration = &Error{Kind: KindConfiguration}
	ErrConflict      = &Error{Kind: KindConflict}
	ErrValidation    = &Error{Kind: KindValidation}
	ErrNotFound      = &Error{Kind: KindNotFound}
	ErrForbidden     = &Error{Kind: KindForbidden}
)

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Configuration reports an approver chain or rule set that cannot be executed
func Configuration(format string, args ...interface{}) error {
	return &Error{Kind: KindConfiguration, Message: fmt.Sprintf(format, args...)}
}

// Conflict reports an operation that collides with the current state
func Conflict(format string, args ...interface{}) error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

// Validation reports invalid caller input
func Validation(field, message string) error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf("%s: %s", field, message)}
}

// NotFound reports a missing resource
func NotFound(resource, id string) error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("%s %s not found", resource, id)}
}

// Forbidden reports an actor that may not perform the operation
func Forbidden(format string, args ...interface{}) error {
	return &Error{Kind: KindForbidden, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an existing error
func Wrap(err error, kind Kind, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind of the first *Error in the chain, or "" if none
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
