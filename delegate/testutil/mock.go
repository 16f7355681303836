// Package testutil provides test utilities for the delegate package.
package testutil

import (
	"context"
	"sync"

	"github.com/c360studio/hitlflow/delegate"
)

// Call records one Delegate invocation.
type Call struct {
	Role      delegate.Role
	Prompt    string
	SessionID string
}

// MockGateway is a thread-safe mock delegate gateway for testing.
//
// Usage:
//
//	// Fixed responses in sequence
//	mock := &MockGateway{Responses: []string{"analysis v1", "analysis v2"}}
//
//	// Failure
//	mock := &MockGateway{Err: &delegate.Error{Kind: delegate.KindTimeout}}
type MockGateway struct {
	mu            sync.Mutex
	Responses     []string // Responses to return in sequence
	Err           error    // Error to return (takes precedence over Responses)
	calls         []Call
	responseIndex int
}

// Delegate implements delegate.Gateway.
// Returns the next response from Responses, or Err if set. When the
// responses run out it echoes the role name.
func (m *MockGateway) Delegate(ctx context.Context, role delegate.Role, prompt, sessionID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, Call{Role: role, Prompt: prompt, SessionID: sessionID})

	if err := ctx.Err(); err != nil {
		return "", &delegate.Error{Kind: delegate.KindUnavailable, Role: role, Attempts: 1, Err: err}
	}
	if m.Err != nil {
		return "", m.Err
	}

	if m.responseIndex < len(m.Responses) {
		resp := m.Responses[m.responseIndex]
		m.responseIndex++
		return resp, nil
	}
	return string(role) + " output", nil
}

// Calls returns a copy of the recorded invocations.
func (m *MockGateway) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// GetCallCount returns the number of times Delegate was called.
func (m *MockGateway) GetCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// SetErr replaces the configured error.
func (m *MockGateway) SetErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Err = err
}

// Reset clears recorded calls and rewinds the responses.
func (m *MockGateway) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.responseIndex = 0
}
