// Package apperr defines the error kinds shared by the reservation core.
//
// Every business-rule failure is returned as an *Error carrying a Kind, so
// transports can map it without string matching. Only store faults surface
// as KindStoreFailure, and those are the only ones a caller may retry.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error.
type Kind string

const (
	KindValidation           Kind = "validation"
	KindAccessDenied         Kind = "access_denied"
	KindSlotUnavailable      Kind = "slot_unavailable"
	KindConflictUnresolvable Kind = "conflict_unresolvable"
	KindNotFound             Kind = "not_found"
	KindAlreadyProcessed     Kind = "already_processed"
	KindStoreFailure         Kind = "store_failure"
	KindUnknown              Kind = "unknown"
)

// Sentinels for errors.Is. They compare by kind only.
var (
	ErrValidation           = &Error{Kind: KindValidation}
	ErrAccessDenied         = &Error{Kind: KindAccessDenied}
	ErrSlotUnavailable      = &Error{Kind: KindSlotUnavailable}
	ErrConflictUnresolvable = &Error{Kind: KindConflictUnresolvable}
	ErrNotFound             = &Error{Kind: KindNotFound}
	ErrAlreadyProcessed     = &Error{Kind: KindAlreadyProcessed}
	ErrStoreFailure         = &Error{Kind: KindStoreFailure}
)

// Error is a classified failure.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Kinded is implemented by errors that carry a kind without being an *Error.
type Kinded interface {
	ErrorKind() Kind
}

// KindOf returns the kind of the first classified error in the chain.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var k Kinded
	if errors.As(err, &k) {
		return k.ErrorKind()
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Retryable reports whether the caller may retry the operation as-is.
func Retryable(err error) bool {
	return KindOf(err) == KindStoreFailure
}

func newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...any) *Error {
	return newf(KindValidation, format, args...)
}

func AccessDenied(format string, args ...any) *Error {
	return newf(KindAccessDenied, format, args...)
}

func SlotUnavailable(format string, args ...any) *Error {
	return newf(KindSlotUnavailable, format, args...)
}

func ConflictUnresolvable(format string, args ...any) *Error {
	return newf(KindConflictUnresolvable, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return newf(KindNotFound, format, args...)
}

func AlreadyProcessed(format string, args ...any) *Error {
	return newf(KindAlreadyProcessed, format, args...)
}

// Store wraps a persistence fault. A nil err yields nil, and an already
// classified err is returned unchanged.
func Store(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Kind: KindStoreFailure, Message: op, Err: err}
}
