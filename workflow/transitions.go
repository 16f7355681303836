package workflow

import (
	"github.com/c360studio/hitlflow/analytics"
	"github.com/c360studio/hitlflow/delegate"
	"github.com/c360studio/hitlflow/storage"
	"github.com/c360studio/hitlflow/tracker"
)

// Current status labels written to the session.
const (
	currentAnalyzing = "analyzing"
	currentEditing   = "editing"
	currentApproved  = "approved"
	currentRejected  = "rejected"
)

const humanApprover = "human"

// transition mutates one loaded session state. It may run more than once
// when an optimistic store retries, so it only reads its own fields.
type transition struct {
	state      *storage.SessionState
	sessionID  string
	input      string
	review     Review
	thresholds analytics.Thresholds
	timestamp  string
	requestID  func() string
}

func (t *transition) apply(st Status) *Decision {
	switch st {
	case StatusStart:
		return t.start()
	case StatusRefine:
		return t.refine()
	case StatusEnhance:
		return t.enhance()
	case StatusReview:
		return t.scoreReview()
	case StatusEdited:
		return t.edited()
	case StatusApproved:
		return t.approved()
	case StatusRejected:
		return t.rejected()
	default:
		return invalidStatusDecision(t.sessionID)
	}
}

// requestDelegation records the pending delegation and builds the decision.
func (t *transition) requestDelegation(role delegate.Role, stage, prompt, next string) *Decision {
	d := &Delegation{
		RequestID:  t.requestID(),
		Role:       role,
		Prompt:     prompt,
		NextAction: next,
	}
	t.state.PendingDelegation = &storage.PendingDelegation{
		RequestID: d.RequestID,
		Role:      string(role),
		Stage:     stage,
		Prompt:    prompt,
	}
	return &Decision{
		Status:     DecisionDelegating,
		Stage:      stage,
		SessionID:  t.sessionID,
		Delegation: d,
	}
}

func (t *transition) start() *Decision {
	s := t.state
	s.AnalyzerInput = t.input
	s.CurrentStatus = currentAnalyzing
	// A restart opens a new iteration so earlier scores stay keyed apart.
	s.IterationCount++

	prompt := t.input
	s.ALMData = nil
	storyID, found := tracker.DetectUserStory(t.input)
	if found {
		s.ALMData = &storage.ALMData{UserStoryID: storyID, State: storage.EnrichmentPending}
		prompt += enrichmentMarker(storyID)
	}

	d := t.requestDelegation(delegate.RoleAnalyzer, StageAnalyzingRequirements, prompt, NextStoreOriginal)
	d.HITLCheckpoint = CheckpointAnalysisReview
	d.AvailableActions = []string{
		string(StatusApproved),
		string(StatusEdited),
		string(StatusRejected),
		string(StatusRefine),
		string(StatusEnhance),
	}
	if found {
		d.UserStoryID = storyID
	}
	return d
}

func (t *transition) refine() *Decision {
	s := t.state
	s.IterationCount++
	s.FeedbackHistory = append(s.FeedbackHistory, storage.FeedbackEntry{
		Iteration: s.IterationCount,
		Kind:      storage.FeedbackRefinement,
		Content:   t.input,
		Timestamp: t.timestamp,
	})

	d := t.requestDelegation(delegate.RoleAnalyzer, StageRefiningAnalysis, refinePrompt(t.input), NextStoreRefined)
	d.Iteration = s.IterationCount
	d.FeedbackIncorporated = true
	return d
}

func (t *transition) enhance() *Decision {
	s := t.state
	s.EnhancementRequests = append(s.EnhancementRequests, storage.EnhancementEntry{
		Kind:      storage.EnhancementContextAddition,
		Details:   t.input,
		Iteration: s.IterationCount,
	})

	d := t.requestDelegation(delegate.RoleAnalyzer, StageEnhancingAnalysis, enhancePrompt(s.LastAnalysis, t.input), NextStoreEnhanced)
	d.EnhancementApplied = true
	return d
}

func (t *transition) scoreReview() *Decision {
	s := t.state
	score := t.review.Score
	s.QualityScores[storage.ScoreKey(s.IterationCount)] = storage.ScoreEntry{
		Score:     &score,
		Feedback:  t.review.Feedback,
		Timestamp: t.timestamp,
	}

	d := &Decision{
		SessionID: t.sessionID,
		Score:     &score,
		Feedback:  t.review.Feedback,
	}
	if score < t.thresholds.Review {
		d.Status = DecisionNeedsImprovement
		d.Stage = StageQualityReviewFailed
		d.SuggestedActions = []string{string(StatusRefine), string(StatusEnhance), string(StatusRejected)}
		d.ImprovementNeeded = true
		return d
	}
	d.Status = DecisionQualityApproved
	d.Stage = StageQualityReviewPassed
	d.AvailableActions = []string{string(StatusApproved), ActionGenerateTests}
	return d
}

func (t *transition) edited() *Decision {
	s := t.state
	s.EditedInput = t.input
	s.CurrentStatus = currentEditing
	s.FeedbackHistory = append(s.FeedbackHistory, storage.FeedbackEntry{
		Iteration: s.IterationCount,
		Kind:      storage.FeedbackDirectEdit,
		Content:   t.input,
		Timestamp: t.timestamp,
	})

	d := t.requestDelegation(delegate.RoleGenerator, StageProcessingEdited, t.input, NextStoreEditedToGenerate)
	d.HumanEdited = true
	return d
}

func (t *transition) approved() *Decision {
	s := t.state
	s.CurrentStatus = currentApproved
	s.ApprovalChain = append(s.ApprovalChain, storage.ApprovalEntry{
		Approver:  humanApprover,
		Timestamp: t.timestamp,
		Iteration: s.IterationCount,
	})

	d := t.requestDelegation(delegate.RoleGenerator, StageGeneratingTestCases, s.LastAnalysis, NextStoreTestCases)
	d.HumanApproved = true
	return d
}

func (t *transition) rejected() *Decision {
	s := t.state
	reason := t.input
	if reason == "" {
		reason = NoReasonProvided
	}
	s.CurrentStatus = currentRejected
	s.FeedbackHistory = append(s.FeedbackHistory, storage.FeedbackEntry{
		Iteration: s.IterationCount,
		Kind:      storage.FeedbackRejection,
		Content:   reason,
		Timestamp: t.timestamp,
	})
	// Work abandoned by a rejection is no longer retried.
	s.PendingDelegation = nil

	return &Decision{
		Status:            DecisionRejected,
		Stage:             StageWorkflowRejected,
		SessionID:         t.sessionID,
		RejectionReason:   reason,
		RestartOptions:    []string{string(StatusStart), string(StatusRefine)},
		FeedbackAvailable: true,
	}
}
