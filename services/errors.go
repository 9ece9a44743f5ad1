package services

import (
	"errors"
	"fmt"
)

// ErrorKind classifies service failures for callers; the HTTP layer maps kinds to status codes.
type ErrorKind string

const (
	KindUnauthenticated    ErrorKind = "unauthenticated"
	KindPermissionDenied   ErrorKind = "permission-denied"
	KindNotFound           ErrorKind = "not-found"
	KindFailedPrecondition ErrorKind = "failed-precondition"
	KindInvalidArgument    ErrorKind = "invalid-argument"
	KindInternal           ErrorKind = "internal"
)

// Error is a classified service error.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func Unauthenticated(format string, args ...any) *Error {
	return newError(KindUnauthenticated, nil, format, args...)
}

func PermissionDenied(format string, args ...any) *Error {
	return newError(KindPermissionDenied, nil, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return newError(KindNotFound, nil, format, args...)
}

func FailedPrecondition(format string, args ...any) *Error {
	return newError(KindFailedPrecondition, nil, format, args...)
}

func InvalidArgument(format string, args ...any) *Error {
	return newError(KindInvalidArgument, nil, format, args...)
}

// Internal wraps err; Message is safe to show callers, err is not.
func Internal(err error, format string, args ...any) *Error {
	return newError(KindInternal, err, format, args...)
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) ErrorKind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var se *Error
	return errors.As(err, &se) && se.Kind == kind
}

// Sentinel errors
var (
	ErrIdentityNotFound     = errors.New("identity not found")
	ErrIdentityDisabled     = errors.New("identity is disabled")
	ErrInvalidCredentials   = errors.New("invalid email or password")
	ErrAccountLocked        = errors.New("account temporarily locked")
	ErrBillingNotConfigured = errors.New("billing is not configured")
	ErrSubdomainExhausted   = errors.New("could not allocate a unique subdomain")
	ErrInvalidSignature     = errors.New("invalid webhook signature")
	ErrIdentityInUse        = errors.New("email belongs to another portal account")
)
