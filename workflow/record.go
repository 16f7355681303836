package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/c360studio/hitlflow/delegate"
	"github.com/c360studio/hitlflow/storage"
)

// ErrNoPendingDelegation is returned when a session has no delegation
// waiting for a result.
var ErrNoPendingDelegation = errors.New("no pending delegation")

// ErrStaleResult is returned when a result does not answer the session's
// pending delegation. The result is discarded.
var ErrStaleResult = errors.New("stale delegation result")

// RecordResult stores a delegate's output for the delegation identified by
// requestID. Analyzer output becomes the session's last analysis; generator
// output is kept as the generated tests. The pending delegation is cleared.
//
// A result for any other request, including one superseded by a later
// checkpoint or abandoned by a rejection, leaves the state untouched and
// returns ErrStaleResult.
func (e *Engine) RecordResult(ctx context.Context, sessionID, requestID string, role delegate.Role, output string) error {
	id := strings.TrimSpace(sessionID)
	if id == "" {
		return ErrMissingSessionID
	}
	switch role {
	case delegate.RoleAnalyzer, delegate.RoleGenerator:
	default:
		return fmt.Errorf("record result: unknown role %q", role)
	}

	_, err := e.store.Update(ctx, id, func(s *storage.SessionState) error {
		pd := s.PendingDelegation
		if pd == nil || pd.RequestID != requestID || pd.Role != string(role) {
			return ErrStaleResult
		}
		if role == delegate.RoleAnalyzer {
			s.LastAnalysis = output
		} else {
			s.GeneratedTests = output
		}
		s.PendingDelegation = nil
		s.UpdatedAt = e.now().UTC()
		return nil
	})
	if errors.Is(err, ErrStaleResult) {
		e.logger.Warn("Discarding stale delegate result",
			"session_id", id,
			"role", role,
			"request_id", requestID)
		return ErrStaleResult
	}
	if err != nil {
		e.metrics.RecordStoreError("update")
		return err
	}
	e.logger.Debug("Delegate result recorded", "session_id", id, "role", role, "request_id", requestID, "bytes", len(output))
	return nil
}

// RecordEnrichment stores the outcome of a tracker lookup.
func (e *Engine) RecordEnrichment(ctx context.Context, sessionID string, data storage.ALMData) error {
	id := strings.TrimSpace(sessionID)
	if id == "" {
		return ErrMissingSessionID
	}
	_, err := e.store.Update(ctx, id, func(s *storage.SessionState) error {
		alm := data
		s.ALMData = &alm
		s.UpdatedAt = e.now().UTC()
		return nil
	})
	if err != nil {
		e.metrics.RecordStoreError("update")
		return err
	}
	return nil
}

// PendingDelegation returns the delegation a session is waiting on as a
// delegating decision.
func (e *Engine) PendingDelegation(ctx context.Context, sessionID string) (*Decision, error) {
	id := strings.TrimSpace(sessionID)
	if id == "" {
		return nil, ErrMissingSessionID
	}
	s, err := e.store.Load(ctx, id)
	if err != nil {
		e.metrics.RecordStoreError("load")
		return nil, err
	}
	pd := s.PendingDelegation
	if pd == nil {
		return nil, ErrNoPendingDelegation
	}

	d := &Decision{
		Status:    DecisionDelegating,
		Stage:     pd.Stage,
		SessionID: id,
		Delegation: &Delegation{
			RequestID:  pd.RequestID,
			Role:       delegate.Role(pd.Role),
			Prompt:     pd.Prompt,
			NextAction: nextActionForStage(pd.Stage),
		},
	}
	if pd.Stage == StageAnalyzingRequirements && s.ALMData != nil {
		switch s.ALMData.State {
		case storage.EnrichmentFetched:
			d.Prompt = EnrichPrompt(pd.Prompt, s.ALMData.Context)
		default:
			// Pending or failed lookups are attempted again.
			d.UserStoryID = s.ALMData.UserStoryID
		}
	}
	return d, nil
}

func nextActionForStage(stage string) string {
	switch stage {
	case StageAnalyzingRequirements:
		return NextStoreOriginal
	case StageRefiningAnalysis:
		return NextStoreRefined
	case StageEnhancingAnalysis:
		return NextStoreEnhanced
	case StageProcessingEdited:
		return NextStoreEditedToGenerate
	case StageGeneratingTestCases:
		return NextStoreTestCases
	default:
		return ""
	}
}
