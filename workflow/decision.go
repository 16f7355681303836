package workflow

import "github.com/c360studio/hitlflow/delegate"

// DecisionStatus discriminates Decision shapes.
type DecisionStatus string

const (
	DecisionDelegating       DecisionStatus = "delegating"
	DecisionNeedsImprovement DecisionStatus = "needs_improvement"
	DecisionQualityApproved  DecisionStatus = "quality_approved"
	DecisionRejected         DecisionStatus = "rejected"
	DecisionFailed           DecisionStatus = "failed"
	DecisionReviewError      DecisionStatus = "review_error"
)

// Stage names reported in decisions.
const (
	StageAnalyzingRequirements = "analyzing_requirements"
	StageRefiningAnalysis      = "refining_analysis"
	StageEnhancingAnalysis     = "enhancing_analysis"
	StageProcessingEdited      = "processing_edited_requirements"
	StageGeneratingTestCases   = "generating_test_cases"
	StageQualityReviewFailed   = "quality_review_failed"
	StageQualityReviewPassed   = "quality_review_passed"
	StageWorkflowRejected      = "workflow_rejected"
)

// Next actions tell the orchestrator what to do with a delegate's output.
const (
	NextStoreOriginal         = "store_original_requirements_to_db"
	NextStoreRefined          = "store_refined_requirements_to_db"
	NextStoreEnhanced         = "store_enhanced_requirements_to_db"
	NextStoreEditedToGenerate = "store_edited_requirements_to_db_then_generate"
	NextStoreTestCases        = "store_test_cases_to_db"
)

// CheckpointAnalysisReview is where the human reviews the first analysis.
const CheckpointAnalysisReview = "analysis_review"

// ReasonInvalidStatus explains a failed decision.
const ReasonInvalidStatus = "invalid_status"

// HITLHelp is attached to failed decisions.
const HITLHelp = "Use 'refine' for feedback-based improvements, 'enhance' to add context, 'review' to score quality"

// NoReasonProvided replaces an empty rejection reason.
const NoReasonProvided = "No reason provided"

// ActionGenerateTests is offered after a passing review.
const ActionGenerateTests = "generate_tests"

// Delegation is a request for the orchestrator to call a delegate. The
// engine never performs it.
type Delegation struct {
	RequestID  string        `json:"request_id"`
	Role       delegate.Role `json:"delegate_to"`
	Prompt     string        `json:"input"`
	NextAction string        `json:"next_action"`
}

// Decision tells the caller what happens next. Which fields are set
// depends on Status; the embedded Delegation is non-nil only for
// delegating decisions.
type Decision struct {
	Status    DecisionStatus `json:"status"`
	Stage     string         `json:"stage,omitempty"`
	SessionID string         `json:"session_id"`

	*Delegation

	HITLCheckpoint   string   `json:"hitl_checkpoint,omitempty"`
	AvailableActions []string `json:"available_actions,omitempty"`
	SuggestedActions []string `json:"suggested_actions,omitempty"`
	Iteration        int      `json:"iteration,omitempty"`
	UserStoryID      int      `json:"user_story_id,omitempty"`

	Score    *int   `json:"score,omitempty"`
	Feedback string `json:"feedback,omitempty"`

	RejectionReason string   `json:"rejection_reason,omitempty"`
	RestartOptions  []string `json:"restart_options,omitempty"`

	Reason        string   `json:"reason,omitempty"`
	ValidStatuses []string `json:"valid_statuses,omitempty"`
	HITLHelp      string   `json:"hitl_help,omitempty"`

	Error string `json:"error,omitempty"`

	FeedbackIncorporated bool `json:"feedback_incorporated,omitempty"`
	EnhancementApplied   bool `json:"enhancement_applied,omitempty"`
	HumanEdited          bool `json:"human_edited,omitempty"`
	HumanApproved        bool `json:"human_approved,omitempty"`
	ImprovementNeeded    bool `json:"improvement_needed,omitempty"`
	FeedbackAvailable    bool `json:"feedback_available,omitempty"`
}

// IsDelegating reports whether the decision requests a delegate call.
func (d *Decision) IsDelegating() bool {
	return d != nil && d.Status == DecisionDelegating && d.Delegation != nil
}

func statusNames(ss []Status) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = string(s)
	}
	return out
}

func invalidStatusDecision(sessionID string) *Decision {
	return &Decision{
		Status:        DecisionFailed,
		SessionID:     sessionID,
		Reason:        ReasonInvalidStatus,
		ValidStatuses: statusNames(ValidStatuses()),
		HITLHelp:      HITLHelp,
	}
}

func reviewErrorDecision(sessionID string) *Decision {
	return &Decision{
		Status:    DecisionReviewError,
		SessionID: sessionID,
		Error:     ReviewUsage,
	}
}
