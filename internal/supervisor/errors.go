package supervisor

import (
	"errors"
	"fmt"
)

// ErrorKind is the closed taxonomy from spec section 7. It is a concept,
// not a type name in the source this was ported from; Go expresses it as a
// small enum compared with errors.Is against the sentinel-per-kind values
// below.
type ErrorKind string

const (
	ErrNotFound             ErrorKind = "not_found"
	ErrHandlerNotRegistered ErrorKind = "handler_not_registered"
	ErrAlreadyExists        ErrorKind = "already_exists"
	ErrInvalidTransition    ErrorKind = "invalid_transition"
	ErrHandlerFailed        ErrorKind = "handler_failed"
	ErrTimeout              ErrorKind = "timeout"
	ErrStorageFailed        ErrorKind = "storage_failed"
	ErrCancelShutdown       ErrorKind = "cancel_shutdown"
	ErrInternal             ErrorKind = "internal"
	ErrInvalidArgument      ErrorKind = "invalid_argument"
)

// Error is the supervisor's error type: a Kind plus a message, optionally
// wrapping an underlying cause with %w so callers can still errors.As/Is
// through to driver-level errors (e.g. a sqlite constraint violation).
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

// NewError constructs an Error of the given kind.
func NewError(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is supports errors.Is(err, sentinelForKind) comparisons against the
// sentinel values declared below, without requiring callers to type-assert
// *Error and compare Kind by hand.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// sentinel returns a zero-message *Error of the given kind, suitable as the
// target of errors.Is.
func sentinel(kind ErrorKind) error { return &Error{Kind: kind} }

// Sentinels for errors.Is(err, supervisor.ErrXxxSentinel) comparisons.
var (
	ErrNotFoundSentinel             = sentinel(ErrNotFound)
	ErrHandlerNotRegisteredSentinel = sentinel(ErrHandlerNotRegistered)
	ErrAlreadyExistsSentinel        = sentinel(ErrAlreadyExists)
	ErrInvalidTransitionSentinel    = sentinel(ErrInvalidTransition)
	ErrHandlerFailedSentinel        = sentinel(ErrHandlerFailed)
	ErrTimeoutSentinel              = sentinel(ErrTimeout)
	ErrStorageFailedSentinel        = sentinel(ErrStorageFailed)
	ErrCancelShutdownSentinel       = sentinel(ErrCancelShutdown)
	ErrInternalSentinel             = sentinel(ErrInternal)
	ErrInvalidArgumentSentinel      = sentinel(ErrInvalidArgument)
)

// KindOf extracts the ErrorKind from err if it is (or wraps) a *Error,
// returning ErrInternal otherwise — an unrecognised error reaching a
// command-surface boundary is itself an invariant violation worth flagging
// as internal rather than silently swallowing.
func KindOf(err error) ErrorKind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return ErrInternal
}
