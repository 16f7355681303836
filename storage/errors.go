package storage

import (
	"errors"
	"fmt"
)

// Common storage errors.
var (
	// ErrNotFound is returned by backends when a session has no record.
	// Store.Load never returns it; unseen sessions load as defaults.
	ErrNotFound = errors.New("session not found")

	// ErrConflict is returned when a compare-and-write lost to a concurrent
	// writer more times than the store is configured to retry.
	ErrConflict = errors.New("session write conflict")
)

// Error is a storage failure for a single session operation.
type Error struct {
	Op        string // "load", "save" or "update"
	SessionID string
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("storage %s %q: %v", e.Op, e.SessionID, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func wrapErr(op, sessionID string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return &Error{Op: op, SessionID: sessionID, Err: err}
}

// IsStorageError reports whether err originated in a Store.
func IsStorageError(err error) bool {
	var se *Error
	return errors.As(err, &se)
}
