package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go/jetstream"
)

// BucketSessions is the default KV bucket holding session state.
const BucketSessions = "HITLFLOW_SESSIONS"

// kvBucket is the subset of jetstream.KeyValue the store relies on.
// Update with revision 0 only succeeds when the key does not exist yet.
type kvBucket interface {
	Get(ctx context.Context, key string) (jetstream.KeyValueEntry, error)
	Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error)
	Put(ctx context.Context, key string, value []byte) (uint64, error)
}

// KVStore stores session state in a NATS JetStream KV bucket and uses the
// entry revision for compare-and-write.
type KVStore struct {
	bucket     kvBucket
	maxRetries int
	logger     *slog.Logger
}

// KVOption configures a KVStore.
type KVOption func(*KVStore)

// WithMaxRetries sets how many times a conflicting update is retried.
func WithMaxRetries(n int) KVOption {
	return func(s *KVStore) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) KVOption {
	return func(s *KVStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// KVBucketConfig describes the bucket created by NewKVStore.
type KVBucketConfig struct {
	Name    string
	History uint8
}

// NewKVStore creates a KVStore, creating the bucket if it doesn't exist.
func NewKVStore(ctx context.Context, js jetstream.JetStream, cfg KVBucketConfig, opts ...KVOption) (*KVStore, error) {
	if cfg.Name == "" {
		cfg.Name = BucketSessions
	}
	if cfg.History == 0 {
		cfg.History = 5
	}
	kv, err := getOrCreateBucket(ctx, js, cfg)
	if err != nil {
		return nil, fmt.Errorf("create sessions bucket: %w", err)
	}
	return newKVStore(kv, opts...), nil
}

func newKVStore(bucket kvBucket, opts ...KVOption) *KVStore {
	s := &KVStore{
		bucket:     bucket,
		maxRetries: DefaultMaxRetries,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func getOrCreateBucket(ctx context.Context, js jetstream.JetStream, cfg KVBucketConfig) (jetstream.KeyValue, error) {
	kv, err := js.KeyValue(ctx, cfg.Name)
	if err == nil {
		return kv, nil
	}
	// Bucket doesn't exist, create it
	return js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      cfg.Name,
		Description: fmt.Sprintf("hitlflow %s storage", strings.ToLower(cfg.Name)),
		History:     cfg.History,
	})
}

// Load implements Store.
func (s *KVStore) Load(ctx context.Context, sessionID string) (*SessionState, error) {
	state, _, err := s.get(ctx, sessionID)
	if err != nil {
		return nil, wrapErr("load", sessionID, err)
	}
	return state, nil
}

// get returns the current state and its revision; revision 0 means the
// session has never been written.
func (s *KVStore) get(ctx context.Context, sessionID string) (*SessionState, uint64, error) {
	entry, err := s.bucket.Get(ctx, sessionID)
	if err != nil {
		if isNotFound(err) {
			return NewSessionState(sessionID), 0, nil
		}
		return nil, 0, fmt.Errorf("get session: %w", err)
	}
	state, err := decodeState(sessionID, entry.Value())
	if err != nil {
		return nil, 0, err
	}
	return state, entry.Revision(), nil
}

// Save implements Store.
func (s *KVStore) Save(ctx context.Context, sessionID string, state *SessionState) error {
	data, err := encodeState(state)
	if err != nil {
		return wrapErr("save", sessionID, err)
	}
	if _, err := s.bucket.Put(ctx, sessionID, data); err != nil {
		return wrapErr("save", sessionID, fmt.Errorf("put session: %w", err))
	}
	return nil
}

// Update implements Store. A write that loses the revision race re-reads
// the session and re-applies fn, up to the configured retry budget.
func (s *KVStore) Update(ctx context.Context, sessionID string, fn UpdateFunc) (*SessionState, error) {
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		state, revision, err := s.get(ctx, sessionID)
		if err != nil {
			return nil, wrapErr("update", sessionID, err)
		}
		if err := fn(state); err != nil {
			return nil, err
		}
		data, err := encodeState(state)
		if err != nil {
			return nil, wrapErr("update", sessionID, err)
		}

		_, err = s.bucket.Update(ctx, sessionID, data, revision)
		if err == nil {
			return state, nil
		}
		if !isConflict(err) {
			return nil, wrapErr("update", sessionID, fmt.Errorf("update session: %w", err))
		}
		s.logger.Debug("Session revision conflict, retrying",
			"session_id", sessionID,
			"attempt", attempt,
			"revision", revision)
	}
	return nil, wrapErr("update", sessionID, ErrConflict)
}

// Close implements Store. The NATS connection is owned by the caller.
func (s *KVStore) Close() error {
	return nil
}

// isNotFound checks if an error indicates a key was not found.
func isNotFound(err error) bool {
	return errors.Is(err, jetstream.ErrKeyNotFound) ||
		(err != nil && strings.Contains(err.Error(), "key not found"))
}

// isConflict checks if an error indicates the expected revision was stale.
func isConflict(err error) bool {
	if errors.Is(err, jetstream.ErrKeyExists) {
		return true
	}
	var apiErr *jetstream.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
}
