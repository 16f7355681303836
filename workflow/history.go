package workflow

import (
	"context"
	"strings"

	"github.com/c360studio/hitlflow/analytics"
	"github.com/c360studio/hitlflow/storage"
)

// Lookup statuses for read-only session queries.
const (
	LookupFound    = "found"
	LookupNotFound = "not_found"
)

const (
	noSessionMessage     = "No session data found"
	sessionUnknownStatus = "unknown"
)

// History is the feedback record of one session. Record is nil when the
// session has no iterations.
type History struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`

	*Record
}

// Record holds the recorded feedback of a session with summary analytics.
type Record struct {
	IterationCount      int                           `json:"iteration_count"`
	FeedbackHistory     []storage.FeedbackEntry       `json:"feedback_history"`
	QualityScores       map[string]storage.ScoreEntry `json:"quality_scores"`
	EnhancementRequests []storage.EnhancementEntry    `json:"enhancement_requests"`
	ApprovalChain       []storage.ApprovalEntry       `json:"approval_chain"`
	CurrentStatus       string                        `json:"current_status"`
	Analytics           analytics.Summary             `json:"analytics"`
}

// FeedbackHistory returns the recorded history of a session with summary
// analytics. Sessions without iterations report not_found.
func (e *Engine) FeedbackHistory(ctx context.Context, sessionID string) (*History, error) {
	id := strings.TrimSpace(sessionID)
	if id == "" {
		return nil, ErrMissingSessionID
	}
	s, err := e.store.Load(ctx, id)
	if err != nil {
		e.metrics.RecordStoreError("load")
		return nil, err
	}
	if s.IterationCount == 0 {
		return &History{SessionID: id, Status: LookupNotFound, Message: noSessionMessage}, nil
	}

	current := s.CurrentStatus
	if current == "" {
		current = sessionUnknownStatus
	}
	return &History{
		SessionID: id,
		Status:    LookupFound,
		Record: &Record{
			IterationCount:      s.IterationCount,
			FeedbackHistory:     s.FeedbackHistory,
			QualityScores:       s.QualityScores,
			EnhancementRequests: s.EnhancementRequests,
			ApprovalChain:       s.ApprovalChain,
			CurrentStatus:       current,
			Analytics:           analytics.Summarize(s),
		},
	}, nil
}

// Suggestions is the improvement report for one session.
type Suggestions struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`

	*analytics.Report
}

// SuggestImprovements analyzes a session's feedback patterns under the
// active review policy.
func (e *Engine) SuggestImprovements(ctx context.Context, sessionID string) (*Suggestions, error) {
	id := strings.TrimSpace(sessionID)
	if id == "" {
		return nil, ErrMissingSessionID
	}
	s, err := e.store.Load(ctx, id)
	if err != nil {
		e.metrics.RecordStoreError("load")
		return nil, err
	}
	if s.IterationCount == 0 {
		return &Suggestions{SessionID: id, Status: LookupNotFound, Message: noSessionMessage}, nil
	}

	report := analytics.SuggestImprovements(s, e.Thresholds())
	return &Suggestions{SessionID: id, Status: LookupFound, Report: &report}, nil
}
