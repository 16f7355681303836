package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"
)

const sessionsSchema = `CREATE TABLE IF NOT EXISTS sessions (
	session_id TEXT PRIMARY KEY,
	state      TEXT    NOT NULL,
	version    INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
)`

// SQLiteStore stores session state as JSON rows in a SQLite database.
// Each row carries a version used for compare-and-write, and write
// transactions take the database lock up front.
type SQLiteStore struct {
	db         *sql.DB
	maxRetries int
}

// SQLiteOption configures a SQLiteStore.
type SQLiteOption func(*SQLiteStore)

// WithSQLiteMaxRetries sets how many times a conflicting update is retried.
func WithSQLiteMaxRetries(n int) SQLiteOption {
	return func(s *SQLiteStore) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

// OpenSQLite creates or opens the SQLite database at path.
func OpenSQLite(path string, opts ...SQLiteOption) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite handles one writer at a time

	if _, err := db.Exec(sessionsSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	s := &SQLiteStore{db: db, maxRetries: DefaultMaxRetries}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStore) get(ctx context.Context, q queryer, sessionID string) (*SessionState, int64, error) {
	var (
		data    string
		version int64
	)
	err := q.QueryRowContext(ctx,
		`SELECT state, version FROM sessions WHERE session_id = ?`, sessionID).Scan(&data, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return NewSessionState(sessionID), 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("select session: %w", err)
	}
	state, err := decodeState(sessionID, []byte(data))
	if err != nil {
		return nil, 0, err
	}
	return state, version, nil
}

// Load implements Store.
func (s *SQLiteStore) Load(ctx context.Context, sessionID string) (*SessionState, error) {
	state, _, err := s.get(ctx, s.db, sessionID)
	if err != nil {
		return nil, wrapErr("load", sessionID, err)
	}
	return state, nil
}

// Save implements Store.
func (s *SQLiteStore) Save(ctx context.Context, sessionID string, state *SessionState) error {
	data, err := encodeState(state)
	if err != nil {
		return wrapErr("save", sessionID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, state, version, updated_at) VALUES (?, ?, 1, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			state = excluded.state,
			version = sessions.version + 1,
			updated_at = excluded.updated_at`,
		sessionID, string(data), time.Now().Unix())
	if err != nil {
		return wrapErr("save", sessionID, fmt.Errorf("upsert session: %w", err))
	}
	return nil
}

// Update implements Store.
func (s *SQLiteStore) Update(ctx context.Context, sessionID string, fn UpdateFunc) (*SessionState, error) {
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		state, err := s.updateOnce(ctx, sessionID, fn)
		if errors.Is(err, ErrConflict) {
			continue
		}
		return state, err
	}
	return nil, wrapErr("update", sessionID, ErrConflict)
}

func (s *SQLiteStore) updateOnce(ctx context.Context, sessionID string, fn UpdateFunc) (*SessionState, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrapErr("update", sessionID, fmt.Errorf("begin: %w", err))
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	state, version, err := s.get(ctx, tx, sessionID)
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

	now := time.Now().Unix()
	if version == 0 {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO sessions (session_id, state, version, updated_at) VALUES (?, ?, 1, ?)`,
			sessionID, string(data), now)
		if isUniqueViolation(err) {
			return nil, ErrConflict
		}
	} else {
		var res sql.Result
		res, err = tx.ExecContext(ctx,
			`UPDATE sessions SET state = ?, version = version + 1, updated_at = ? WHERE session_id = ? AND version = ?`,
			string(data), now, sessionID, version)
		if err == nil {
			if n, _ := res.RowsAffected(); n == 0 {
				return nil, ErrConflict
			}
		}
	}
	if err != nil {
		return nil, wrapErr("update", sessionID, fmt.Errorf("write session: %w", err))
	}

	if err := tx.Commit(); err != nil {
		return nil, wrapErr("update", sessionID, fmt.Errorf("commit: %w", err))
	}
	return state, nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}
