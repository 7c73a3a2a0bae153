// Package apperr defines the error taxonomy shared by the allocators, the
// lifecycle state machine and the coordinator. Callers classify errors with
// the Is* helpers; the HTTP layer maps each class to a status code.
package apperr

import (
	"errors"
	"fmt"
)

// Class identifies the category of an Error.
type Class int

const (
	ClassValidation Class = iota + 1
	ClassConflict
	ClassPrecondition
	ClassExhausted
	ClassNotFound
	ClassForbidden
)

func (c Class) String() string {
	switch c {
	case ClassValidation:
		return "validation"
	case ClassConflict:
		return "conflict"
	case ClassPrecondition:
		return "precondition"
	case ClassExhausted:
		return "exhausted"
	case ClassNotFound:
		return "not_found"
	case ClassForbidden:
		return "forbidden"
	}
	return "unknown"
}

// Error is a classified error. Reason is a short machine-readable tag such
// as the name of the violated precondition.
type Error struct {
	Class   Class
	Reason  string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func newf(c Class, reason, format string, args ...any) error {
	return &Error{Class: c, Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// Validation reports malformed input rejected before any allocation.
func Validation(format string, args ...any) error {
	return newf(ClassValidation, "invalid", format, args...)
}

// Conflict reports a name/path/port collision among sibling resources.
func Conflict(format string, args ...any) error {
	return newf(ClassConflict, "conflict", format, args...)
}

// Precondition reports a violated lifecycle guard. reason names the guard.
func Precondition(reason, format string, args ...any) error {
	return newf(ClassPrecondition, reason, format, args...)
}

// Exhausted reports that no free address or subnet remains.
func Exhausted(format string, args ...any) error {
	return newf(ClassExhausted, "exhausted", format, args...)
}

// NotFound reports an id that does not resolve.
func NotFound(kind, id string) error {
	return newf(ClassNotFound, "not_found", "%s %q not found", kind, id)
}

// Forbidden reports an actor acting on another company's resources.
func Forbidden(actor, company string) error {
	return newf(ClassForbidden, "forbidden", "actor %q may not act for company %q", actor, company)
}

// WrapConflict classifies a persistence uniqueness violation.
func WrapConflict(err error, format string, args ...any) error {
	return &Error{Class: ClassConflict, Reason: "unique", Message: fmt.Sprintf(format, args...), Err: err}
}

// ClassOf returns the class of err, or 0 when err is not classified.
func ClassOf(err error) Class {
	var e *Error
	if errors.As(err, &e) {
		return e.Class
	}
	return 0
}

// ReasonOf returns the reason tag of a classified error.
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ""
}

func IsValidation(err error) bool   { return ClassOf(err) == ClassValidation }
func IsConflict(err error) bool     { return ClassOf(err) == ClassConflict }
func IsPrecondition(err error) bool { return ClassOf(err) == ClassPrecondition }
func IsExhausted(err error) bool    { return ClassOf(err) == ClassExhausted }
func IsNotFound(err error) bool     { return ClassOf(err) == ClassNotFound }
func IsForbidden(err error) bool    { return ClassOf(err) == ClassForbidden }
