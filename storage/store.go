package storage

import (
	"context"
)

// DefaultMaxRetries bounds compare-and-write retries for optimistic stores.
const DefaultMaxRetries = 16

// UpdateFunc mutates a session state in place. Returning an error aborts the
// update without writing anything.
type UpdateFunc func(state *SessionState) error

// Store is the durable session state contract used by the workflow engine.
type Store interface {
	// Load returns the state for sessionID, or a default state when the
	// session has never been written. A missing session is not an error.
	Load(ctx context.Context, sessionID string) (*SessionState, error)

	// Save unconditionally writes the full state for sessionID.
	Save(ctx context.Context, sessionID string, state *SessionState) error

	// Update performs load, fn, save as one serialized step for sessionID.
	// Concurrent updates for the same session never interleave; updates for
	// different sessions proceed in parallel. The returned state is the one
	// that was written.
	Update(ctx context.Context, sessionID string, fn UpdateFunc) (*SessionState, error)

	// Close releases backend resources.
	Close() error
}
