// Package workflow implements the human-in-the-loop checkpoint state
// machine that turns a request into a reviewed analysis and then into
// generated test cases.
//
// The Engine applies one checkpoint per call as a single serialized store
// update and returns a Decision. Delegate calls requested by a Decision
// are executed by the Runner, never by the Engine.
package workflow

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/c360studio/hitlflow/analytics"
	"github.com/c360studio/hitlflow/metrics"
	"github.com/c360studio/hitlflow/storage"
	"github.com/google/uuid"
)

// ErrMissingSessionID is returned when a call carries no session id.
var ErrMissingSessionID = errors.New("session id is required")

// Engine applies checkpoints to session state.
type Engine struct {
	store      storage.Store
	thresholds atomic.Pointer[analytics.Thresholds]
	logger     *slog.Logger
	metrics    *metrics.Collector
	now        func() time.Time
	newID      func() string
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithThresholds sets the review policy.
func WithThresholds(th analytics.Thresholds) Option {
	return func(e *Engine) {
		e.thresholds.Store(&th)
	}
}

// WithMetrics records transitions on c.
func WithMetrics(c *metrics.Collector) Option {
	return func(e *Engine) {
		e.metrics = c
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithRequestIDs overrides how delegation request ids are generated.
func WithRequestIDs(fn func() string) Option {
	return func(e *Engine) {
		e.newID = fn
	}
}

// NewEngine creates an engine over store.
func NewEngine(store storage.Store, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	th := analytics.DefaultThresholds()
	e.thresholds.Store(&th)
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Thresholds returns the active review policy.
func (e *Engine) Thresholds() analytics.Thresholds {
	return *e.thresholds.Load()
}

// SetThresholds swaps the review policy. Calls already in flight keep the
// policy they started with.
func (e *Engine) SetThresholds(th analytics.Thresholds) {
	e.thresholds.Store(&th)
	e.logger.Info("Review policy updated", "review_threshold", th.Review, "low_score_threshold", th.LowScore)
}

// Store returns the session store.
func (e *Engine) Store() storage.Store {
	return e.store
}

// Apply runs one checkpoint for a session.
//
// Unknown statuses and malformed reviews come back as failed and
// review_error decisions without touching the store. Every other status
// performs exactly one serialized load-mutate-save; a store failure is
// returned as a *storage.Error and nothing is written.
func (e *Engine) Apply(ctx context.Context, status, userInput, sessionID string) (*Decision, error) {
	st := ParseStatus(status)
	input := strings.TrimSpace(userInput)
	id := strings.TrimSpace(sessionID)
	if id == "" {
		return nil, ErrMissingSessionID
	}

	var review Review
	switch st {
	case StatusUnknown:
		e.logger.Debug("Rejected unknown status", "session_id", id, "status", status)
		e.metrics.RecordTransition(st.String(), string(DecisionFailed))
		return invalidStatusDecision(id), nil
	case StatusReview:
		r, err := ParseReview(input)
		if err != nil {
			e.logger.Debug("Rejected malformed review", "session_id", id, "error", err)
			e.metrics.RecordTransition(st.String(), string(DecisionReviewError))
			return reviewErrorDecision(id), nil
		}
		review = r
	}

	th := e.Thresholds()
	var decision *Decision
	_, err := e.store.Update(ctx, id, func(s *storage.SessionState) error {
		now := e.now().UTC()
		t := transition{
			state:      s,
			sessionID:  id,
			input:      input,
			review:     review,
			thresholds: th,
			timestamp:  now.Format(time.RFC3339),
			requestID:  e.newID,
		}
		decision = t.apply(st)
		s.UpdatedAt = now
		return nil
	})
	if err != nil {
		e.metrics.RecordStoreError("update")
		e.logger.Error("Checkpoint not applied", "session_id", id, "status", st.String(), "error", err)
		return nil, err
	}

	e.metrics.RecordTransition(st.String(), string(decision.Status))
	e.logger.Info("Checkpoint applied",
		"session_id", id,
		"status", st.String(),
		"decision", decision.Status,
		"stage", decision.Stage)
	return decision, nil
}
