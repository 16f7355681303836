package delegate

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a delegation failure.
type Kind string

const (
	// KindTimeout means the delegate did not answer within the deadline.
	KindTimeout Kind = "timeout"
	// KindUnavailable means the delegate could not be reached or kept
	// failing with retryable errors.
	KindUnavailable Kind = "unavailable"
	// KindProtocol means the delegate answered with something unusable.
	KindProtocol Kind = "protocol"
)

// Error is the typed failure returned by every Gateway.
type Error struct {
	Kind     Kind
	Role     Role
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("delegate %s %s after %d attempt(s): %v", e.Role, e.Kind, e.Attempts, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// AsError extracts a delegation Error from err.
func AsError(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// IsTimeout returns true if err is a delegation timeout.
func IsTimeout(err error) bool {
	de, ok := AsError(err)
	return ok && de.Kind == KindTimeout
}

// Error types for classifying single-attempt failures.

// TransientError represents a temporary error that may succeed on retry.
type TransientError struct {
	err error
}

func (e *TransientError) Error() string {
	return e.err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.err
}

// NewTransientError wraps an error as transient (retryable).
func NewTransientError(err error) error {
	return &TransientError{err: err}
}

// FatalError represents a permanent error that should not be retried.
type FatalError struct {
	err error
}

func (e *FatalError) Error() string {
	return e.err.Error()
}

func (e *FatalError) Unwrap() error {
	return e.err
}

// NewFatalError wraps an error as fatal (non-retryable).
func NewFatalError(err error) error {
	return &FatalError{err: err}
}

// IsTransient returns true if the error is transient and should be retried.
func IsTransient(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient)
}

// IsFatal returns true if the error is fatal and should not be retried.
func IsFatal(err error) bool {
	var fatal *FatalError
	return errors.As(err, &fatal)
}

// classify turns the last attempt error into a delegation Error.
func classify(role Role, attempts int, err error) *Error {
	kind := KindUnavailable
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	case errors.Is(err, context.Canceled):
		kind = KindUnavailable
	case IsFatal(err):
		kind = KindProtocol
	}
	return &Error{Kind: kind, Role: role, Attempts: attempts, Err: err}
}
