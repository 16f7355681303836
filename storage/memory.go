package storage

import (
	"context"
	"sync"
)

// MemoryStore keeps encoded session records in process memory. Records are
// stored as JSON so callers never share mutable state with the store.
// Updates for the same session are serialized by a per-session lock.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string][]byte
	locks   map[string]*sync.Mutex
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string][]byte),
		locks:   make(map[string]*sync.Mutex),
	}
}

func (m *MemoryStore) sessionLock(sessionID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[sessionID] = l
	}
	return l
}

// Load implements Store.
func (m *MemoryStore) Load(ctx context.Context, sessionID string) (*SessionState, error) {
	if err := ctx.Err(); err != nil {
		return nil, wrapErr("load", sessionID, err)
	}
	s, err := m.load(sessionID)
	return s, wrapErr("load", sessionID, err)
}

func (m *MemoryStore) load(sessionID string) (*SessionState, error) {
	m.mu.Lock()
	data, ok := m.records[sessionID]
	m.mu.Unlock()
	if !ok {
		return NewSessionState(sessionID), nil
	}
	return decodeState(sessionID, data)
}

// Save implements Store.
func (m *MemoryStore) Save(ctx context.Context, sessionID string, state *SessionState) error {
	if err := ctx.Err(); err != nil {
		return wrapErr("save", sessionID, err)
	}
	l := m.sessionLock(sessionID)
	l.Lock()
	defer l.Unlock()
	return wrapErr("save", sessionID, m.save(sessionID, state))
}

func (m *MemoryStore) save(sessionID string, state *SessionState) error {
	data, err := encodeState(state)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.records[sessionID] = data
	m.mu.Unlock()
	return nil
}

// Update implements Store.
func (m *MemoryStore) Update(ctx context.Context, sessionID string, fn UpdateFunc) (*SessionState, error) {
	l := m.sessionLock(sessionID)
	l.Lock()
	defer l.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, wrapErr("update", sessionID, err)
	}

	state, err := m.load(sessionID)
	if err != nil {
		return nil, wrapErr("update", sessionID, err)
	}
	if err := fn(state); err != nil {
		return nil, err
	}
	if err := m.save(sessionID, state); err != nil {
		return nil, wrapErr("update", sessionID, err)
	}
	return state, nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	return nil
}
