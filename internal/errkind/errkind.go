// Package errkind defines the error taxonomy shared by the core and its
// adapters. Callers dispatch with errors.Is against the sentinel values.
package errkind

import (
	"errors"
	"fmt"
)

// Base error types
var (
	ErrNotFound       = errors.New("not found")
	ErrValidation     = errors.New("validation failed")
	ErrTimeout        = errors.New("timeout")
	ErrTransport      = errors.New("transport failed")
	ErrParse          = errors.New("parse failed")
	ErrBudgetExceeded = errors.New("budget exceeded")
)

// Kind categorizes an error for dispatch and for HTTP status mapping.
type Kind string

const (
	KindNotFound   Kind = "not_found"
	KindValidation Kind = "validation"
	KindTimeout    Kind = "timeout"
	KindTransport  Kind = "transport"
	KindParse      Kind = "parse"
	KindBudget     Kind = "budget_exceeded"
	KindInternal   Kind = "internal"
)

// Error is a structured error carrying the operation that failed and the
// subject it failed on (signature id, trace id, fingerprint, ...).
type Error struct {
	Kind    Kind
	Op      string // operation that failed, e.g. "store.get_by_id"
	Subject string // identifier the operation was acting on
	Err     error  // underlying error, may be nil
}

func (e *Error) Error() string {
	switch {
	case e.Subject != "" && e.Err != nil:
		return fmt.Sprintf("%s %s: %v", e.Op, e.Subject, e.Err)
	case e.Subject != "":
		return fmt.Sprintf("%s %s: %s", e.Op, e.Subject, e.Kind)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is implements errors.Is so structured errors match the sentinels.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrValidation:
		return e.Kind == KindValidation || e.Kind == KindParse
	case ErrTimeout:
		return e.Kind == KindTimeout
	case ErrTransport:
		return e.Kind == KindTransport
	case ErrParse:
		return e.Kind == KindParse
	case ErrBudgetExceeded:
		return e.Kind == KindBudget
	}
	return errors.Is(e.Err, target)
}

// NotFound builds a not-found error for the given operation and subject.
func NotFound(op, subject string) *Error {
	return &Error{Kind: KindNotFound, Op: op, Subject: subject}
}

// Validation builds a validation error.
func Validation(op string, err error) *Error {
	return &Error{Kind: KindValidation, Op: op, Err: err}
}

// Validationf builds a validation error from a format string.
func Validationf(op, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Op: op, Err: fmt.Errorf(format, args...)}
}

// Timeout builds a timeout error.
func Timeout(op string, err error) *Error {
	return &Error{Kind: KindTimeout, Op: op, Err: err}
}

// Transport builds a backend-transport error.
func Transport(op string, err error) *Error {
	return &Error{Kind: KindTransport, Op: op, Err: err}
}

// Parse builds a contract-violation error for a malformed downstream response.
func Parse(op string, err error) *Error {
	return &Error{Kind: KindParse, Op: op, Err: err}
}

// Budget builds a budget-exceeded error.
func Budget(op string, err error) *Error {
	return &Error{Kind: KindBudget, Op: op, Err: err}
}
