package workflow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/c360studio/hitlflow/delegate"
	"github.com/c360studio/hitlflow/metrics"
	"github.com/c360studio/hitlflow/storage"
	"github.com/c360studio/hitlflow/tracker"
)

// DelegationFailure describes a delegate call that did not produce output.
// The checkpoint that requested it is already saved; Runner.Retry re-issues
// the call alone.
type DelegationFailure struct {
	Kind      delegate.Kind `json:"kind"`
	Role      delegate.Role `json:"role"`
	RequestID string        `json:"request_id"`
	Attempts  int           `json:"attempts"`
	Message   string        `json:"message"`
}

// Outcome is the result of running a checkpoint end to end.
type Outcome struct {
	Decision        *Decision          `json:"decision"`
	Output          string             `json:"output,omitempty"`
	DelegationError *DelegationFailure `json:"delegation_error,omitempty"`
	// Stale is set when the session moved on while the delegate was
	// running; Output was not recorded.
	Stale bool `json:"stale,omitempty"`
}

// Runner applies checkpoints and executes the delegations they request.
type Runner struct {
	engine  *Engine
	gateway delegate.Gateway
	tracker tracker.Fetcher
	timeout time.Duration
	logger  *slog.Logger
	metrics *metrics.Collector
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithTracker enables user story enrichment of start prompts.
func WithTracker(f tracker.Fetcher) RunnerOption {
	return func(r *Runner) {
		r.tracker = f
	}
}

// WithDelegationTimeout bounds each delegation including its retries.
func WithDelegationTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) {
		r.timeout = d
	}
}

// WithRunnerLogger sets the logger.
func WithRunnerLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = l
	}
}

// WithRunnerMetrics records delegation and enrichment metrics on c.
func WithRunnerMetrics(c *metrics.Collector) RunnerOption {
	return func(r *Runner) {
		r.metrics = c
	}
}

// NewRunner creates a runner.
func NewRunner(engine *Engine, gateway delegate.Gateway, opts ...RunnerOption) *Runner {
	r := &Runner{
		engine:  engine,
		gateway: gateway,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Engine returns the engine the runner drives.
func (r *Runner) Engine() *Engine {
	return r.engine
}

// Run applies a checkpoint and, when the decision delegates, calls the
// delegate and records its output.
//
// Store failures are returned as errors. Delegation failures are not: they
// come back in Outcome.DelegationError with the transition already saved.
func (r *Runner) Run(ctx context.Context, status, userInput, sessionID string) (*Outcome, error) {
	d, err := r.engine.Apply(ctx, status, userInput, sessionID)
	if err != nil {
		return nil, err
	}
	if !d.IsDelegating() {
		return &Outcome{Decision: d}, nil
	}
	return r.execute(ctx, d)
}

// Retry re-issues the pending delegation of a session without replaying
// the checkpoint that requested it.
func (r *Runner) Retry(ctx context.Context, sessionID string) (*Outcome, error) {
	d, err := r.engine.PendingDelegation(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	r.logger.Info("Retrying delegation",
		"session_id", d.SessionID,
		"role", d.Role,
		"request_id", d.RequestID)
	return r.execute(ctx, d)
}

func (r *Runner) execute(ctx context.Context, d *Decision) (*Outcome, error) {
	prompt := d.Prompt
	if d.Stage == StageAnalyzingRequirements {
		prompt = r.enrich(ctx, d)
	}

	dctx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		dctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	started := time.Now()
	out, err := r.gateway.Delegate(dctx, d.Role, prompt, d.SessionID)
	elapsed := time.Since(started)
	if err != nil {
		failure := r.failure(d, dctx, err)
		r.metrics.RecordDelegation(string(d.Role), string(failure.Kind), elapsed)
		r.logger.Warn("Delegation failed",
			"session_id", d.SessionID,
			"role", d.Role,
			"request_id", d.RequestID,
			"kind", failure.Kind,
			"error", err)
		return &Outcome{Decision: d, DelegationError: failure}, nil
	}
	r.metrics.RecordDelegation(string(d.Role), "ok", elapsed)

	outcome := &Outcome{Decision: d, Output: out}
	err = r.engine.RecordResult(ctx, d.SessionID, d.RequestID, d.Role, out)
	if errors.Is(err, ErrStaleResult) {
		outcome.Stale = true
		return outcome, nil
	}
	if err != nil {
		return outcome, err
	}
	return outcome, nil
}

// failure converts a gateway error into a DelegationFailure. Gateways
// return *delegate.Error; anything else is treated as unavailable unless
// the runner's own deadline expired.
func (r *Runner) failure(d *Decision, dctx context.Context, err error) *DelegationFailure {
	f := &DelegationFailure{
		Kind:      delegate.KindUnavailable,
		Role:      d.Role,
		RequestID: d.RequestID,
		Message:   err.Error(),
	}
	if de, ok := delegate.AsError(err); ok {
		f.Kind = de.Kind
		f.Attempts = de.Attempts
	}
	if errors.Is(dctx.Err(), context.DeadlineExceeded) {
		f.Kind = delegate.KindTimeout
	}
	return f
}

// enrich replaces the enrichment marker of a start prompt with tracker
// context. Any lookup failure falls back to the unenriched prompt.
func (r *Runner) enrich(ctx context.Context, d *Decision) string {
	if d.UserStoryID == 0 {
		return StripEnrichmentMarker(d.Prompt)
	}
	if r.tracker == nil {
		r.logger.Debug("No tracker configured, skipping enrichment",
			"session_id", d.SessionID,
			"user_story_id", d.UserStoryID)
		return StripEnrichmentMarker(d.Prompt)
	}

	item, err := r.tracker.FetchUserStory(ctx, d.UserStoryID)
	if err != nil {
		r.metrics.RecordEnrichment(storage.EnrichmentFailed)
		r.logger.Warn("User story enrichment failed",
			"session_id", d.SessionID,
			"user_story_id", d.UserStoryID,
			"error", err)
		r.recordEnrichment(ctx, d.SessionID, storage.ALMData{
			UserStoryID: d.UserStoryID,
			State:       storage.EnrichmentFailed,
			Error:       err.Error(),
		})
		return StripEnrichmentMarker(d.Prompt)
	}

	trackerContext := item.PromptContext()
	r.metrics.RecordEnrichment(storage.EnrichmentFetched)
	r.recordEnrichment(ctx, d.SessionID, storage.ALMData{
		UserStoryID: d.UserStoryID,
		State:       storage.EnrichmentFetched,
		Title:       item.Title,
		Context:     trackerContext,
	})
	return EnrichPrompt(d.Prompt, trackerContext)
}

// recordEnrichment is best effort; delegation proceeds either way.
func (r *Runner) recordEnrichment(ctx context.Context, sessionID string, data storage.ALMData) {
	if err := r.engine.RecordEnrichment(ctx, sessionID, data); err != nil {
		r.logger.Warn("Failed to record enrichment",
			"session_id", sessionID,
			"user_story_id", data.UserStoryID,
			"error", err)
	}
}
