// Package storage provides durable session state for hitlflow workflows.
//
// One SessionState record is kept per session id. Stores implement
// get-or-default reads and serialize read-modify-write cycles per session
// so that concurrent checkpoints never lose an update.
package storage

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FeedbackKind classifies a feedback history entry.
type FeedbackKind string

const (
	FeedbackRefinement FeedbackKind = "refinement"
	FeedbackDirectEdit FeedbackKind = "direct_edit"
	FeedbackRejection  FeedbackKind = "rejection"
)

// EnhancementContextAddition is the only enhancement kind recorded today.
const EnhancementContextAddition = "context_addition"

// Enrichment lookup states recorded in ALMData.
const (
	EnrichmentPending = "pending"
	EnrichmentFetched = "fetched"
	EnrichmentFailed  = "failed"
)

// FeedbackEntry records one piece of human feedback.
type FeedbackEntry struct {
	Iteration int          `json:"iteration"`
	Kind      FeedbackKind `json:"kind"`
	Content   string       `json:"content"`
	Timestamp string       `json:"timestamp"`
}

// ScoreEntry records a human quality review for one iteration.
// Score is nil when the review carried no parsable score.
type ScoreEntry struct {
	Score     *int   `json:"score"`
	Feedback  string `json:"feedback"`
	Timestamp string `json:"timestamp"`
}

// EnhancementEntry records a request to enrich the analysis with new context.
type EnhancementEntry struct {
	Kind      string `json:"kind"`
	Details   string `json:"details"`
	Iteration int    `json:"iteration"`
}

// ApprovalEntry records a human approval.
type ApprovalEntry struct {
	Approver  string `json:"approver"`
	Timestamp string `json:"timestamp"`
	Iteration int    `json:"iteration"`
}

// ALMData records the issue-tracker enrichment performed during start.
type ALMData struct {
	UserStoryID int    `json:"user_story_id"`
	State       string `json:"state"`
	Title       string `json:"title,omitempty"`
	Context     string `json:"context,omitempty"`
	Error       string `json:"error,omitempty"`
}

// PendingDelegation is the delegation requested by the last delegating
// checkpoint. It is cleared once the delegate's result is recorded.
type PendingDelegation struct {
	RequestID string `json:"request_id"`
	Role      string `json:"role"`
	Stage     string `json:"stage"`
	Prompt    string `json:"prompt"`
}

// SessionState is the unit of persistence for one workflow session.
type SessionState struct {
	SessionID      string `json:"session_id"`
	IterationCount int    `json:"iteration_count"`
	CurrentStatus  string `json:"current_status,omitempty"`

	AnalyzerInput  string `json:"analyzer_input,omitempty"`
	EditedInput    string `json:"edited_input,omitempty"`
	LastAnalysis   string `json:"last_analysis,omitempty"`
	GeneratedTests string `json:"generated_tests,omitempty"`

	FeedbackHistory     []FeedbackEntry       `json:"feedback_history"`
	QualityScores       map[string]ScoreEntry `json:"quality_scores"`
	EnhancementRequests []EnhancementEntry    `json:"enhancement_requests"`
	ApprovalChain       []ApprovalEntry       `json:"approval_chain"`

	ALMData           *ALMData           `json:"mcp_alm_data,omitempty"`
	PendingDelegation *PendingDelegation `json:"pending_delegation,omitempty"`

	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// NewSessionState returns the default state for a session that has never
// been written. Every store returns exactly this for unseen ids.
func NewSessionState(sessionID string) *SessionState {
	return &SessionState{
		SessionID:           sessionID,
		FeedbackHistory:     []FeedbackEntry{},
		QualityScores:       map[string]ScoreEntry{},
		EnhancementRequests: []EnhancementEntry{},
		ApprovalChain:       []ApprovalEntry{},
	}
}

// ScoreKey returns the quality_scores key for an iteration.
func ScoreKey(iteration int) string {
	return fmt.Sprintf("iteration_%d", iteration)
}

// ParseScoreKey extracts the iteration number from a quality_scores key.
func ParseScoreKey(key string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimPrefix(key, "iteration_"))
	if err != nil || !strings.HasPrefix(key, "iteration_") {
		return 0, false
	}
	return n, true
}

// normalize fills nil collections so decoded records compare equal to
// freshly constructed ones.
func (s *SessionState) normalize() {
	if s.FeedbackHistory == nil {
		s.FeedbackHistory = []FeedbackEntry{}
	}
	if s.QualityScores == nil {
		s.QualityScores = map[string]ScoreEntry{}
	}
	if s.EnhancementRequests == nil {
		s.EnhancementRequests = []EnhancementEntry{}
	}
	if s.ApprovalChain == nil {
		s.ApprovalChain = []ApprovalEntry{}
	}
}

// Clone returns a deep copy of the state.
func (s *SessionState) Clone() *SessionState {
	c := *s
	c.FeedbackHistory = append([]FeedbackEntry{}, s.FeedbackHistory...)
	c.EnhancementRequests = append([]EnhancementEntry{}, s.EnhancementRequests...)
	c.ApprovalChain = append([]ApprovalEntry{}, s.ApprovalChain...)
	c.QualityScores = make(map[string]ScoreEntry, len(s.QualityScores))
	for k, v := range s.QualityScores {
		if v.Score != nil {
			score := *v.Score
			v.Score = &score
		}
		c.QualityScores[k] = v
	}
	if s.ALMData != nil {
		alm := *s.ALMData
		c.ALMData = &alm
	}
	if s.PendingDelegation != nil {
		pd := *s.PendingDelegation
		c.PendingDelegation = &pd
	}
	return &c
}

func encodeState(s *SessionState) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal session state: %w", err)
	}
	return data, nil
}

func decodeState(sessionID string, data []byte) (*SessionState, error) {
	var s SessionState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("unmarshal session state: %w", err)
	}
	if s.SessionID == "" {
		s.SessionID = sessionID
	}
	s.normalize()
	return &s, nil
}
