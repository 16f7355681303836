// Package analytics derives feedback statistics from a session snapshot.
// Every function is pure: it reads the state it is given and nothing else.
package analytics

import (
	"sort"

	"github.com/c360studio/hitlflow/storage"
)

// Trend describes how review scores moved across iterations.
type Trend string

const (
	TrendInsufficientData Trend = "insufficient_data"
	TrendImproving        Trend = "improving"
	TrendDeclining        Trend = "declining"
	TrendStable           Trend = "stable"
)

// Engagement buckets how much feedback a human has given.
type Engagement string

const (
	EngagementLow    Engagement = "low"
	EngagementMedium Engagement = "medium"
	EngagementHigh   Engagement = "high"
)

// Recommendation texts.
const (
	RecommendDecompose        = "Consider breaking down the analysis into smaller, more focused sections"
	RecommendSpecificFeedback = "Quality scores are low - consider requesting more specific human feedback"
	RecommendClarify          = "Multiple refinements detected - consider asking for clearer initial requirements"
)

// Thresholds are the score cut-offs used by the suggestions.
type Thresholds struct {
	// Review is the score below which a review asks for improvement.
	Review int
	// LowScore is the score below which more specific feedback is recommended.
	LowScore int
}

// DefaultThresholds returns the standard review policy.
func DefaultThresholds() Thresholds {
	return Thresholds{Review: 7, LowScore: 6}
}

// Summary is the aggregate block attached to a feedback history.
type Summary struct {
	TotalFeedbackItems  int     `json:"total_feedback_items"`
	AverageQualityScore float64 `json:"average_quality_score"`
	EnhancementCount    int     `json:"enhancement_count"`
	ApprovalCount       int     `json:"approval_count"`
}

// Suggestions are derived from feedback patterns.
type Suggestions struct {
	CommonIssues       []string `json:"common_issues_identified"`
	ImprovementAreas   []string `json:"improvement_areas"`
	LowScorePatterns   []string `json:"low_score_patterns"`
	RecommendedActions []string `json:"recommended_actions"`
	QualityTrend       Trend    `json:"quality_trend"`
}

// Insights describe the human side of the loop.
type Insights struct {
	FeedbackFrequency int        `json:"feedback_frequency"`
	RefinementCycles  int        `json:"refinement_cycles"`
	EngagementLevel   Engagement `json:"human_engagement_level"`
}

// Report combines suggestions and insights.
type Report struct {
	Suggestions Suggestions `json:"suggestions"`
	Insights    Insights    `json:"hitl_insights"`
}

// scoredIterations returns the recorded scores ordered by iteration.
// Null and zero scores are skipped.
func scoredIterations(state *storage.SessionState) []int {
	var scores []int
	for _, key := range sortedScoreKeys(state) {
		entry := state.QualityScores[key]
		if entry.Score == nil || *entry.Score == 0 {
			continue
		}
		scores = append(scores, *entry.Score)
	}
	return scores
}

// AverageScore returns the mean recorded score, or 0 when none exist.
func AverageScore(state *storage.SessionState) float64 {
	scores := scoredIterations(state)
	if len(scores) == 0 {
		return 0
	}
	sum := 0
	for _, s := range scores {
		sum += s
	}
	return float64(sum) / float64(len(scores))
}

// QualityTrend compares the latest recorded score with the first one.
func QualityTrend(state *storage.SessionState) Trend {
	scores := scoredIterations(state)
	if len(scores) < 2 {
		return TrendInsufficientData
	}
	first, last := scores[0], scores[len(scores)-1]
	switch {
	case last > first:
		return TrendImproving
	case last < first:
		return TrendDeclining
	default:
		return TrendStable
	}
}

// EngagementLevel buckets a feedback count.
func EngagementLevel(feedbackCount int) Engagement {
	switch {
	case feedbackCount > 3:
		return EngagementHigh
	case feedbackCount > 1:
		return EngagementMedium
	default:
		return EngagementLow
	}
}

// Summarize builds the analytics block for a feedback history.
func Summarize(state *storage.SessionState) Summary {
	return Summary{
		TotalFeedbackItems:  len(state.FeedbackHistory),
		AverageQualityScore: AverageScore(state),
		EnhancementCount:    len(state.EnhancementRequests),
		ApprovalCount:       len(state.ApprovalChain),
	}
}

// SuggestImprovements scans the feedback history and scores for patterns.
func SuggestImprovements(state *storage.SessionState, th Thresholds) Report {
	s := Suggestions{
		CommonIssues:       []string{},
		ImprovementAreas:   []string{},
		LowScorePatterns:   []string{},
		RecommendedActions: []string{},
		QualityTrend:       QualityTrend(state),
	}

	refinements := 0
	for _, fb := range state.FeedbackHistory {
		switch fb.Kind {
		case storage.FeedbackRefinement:
			refinements++
			s.CommonIssues = append(s.CommonIssues, fb.Content)
		case storage.FeedbackRejection:
			s.ImprovementAreas = append(s.ImprovementAreas, fb.Content)
		}
	}

	anyBelowLow := false
	for _, key := range sortedScoreKeys(state) {
		entry := state.QualityScores[key]
		if entry.Score == nil {
			continue
		}
		if *entry.Score < th.Review {
			s.LowScorePatterns = append(s.LowScorePatterns, entry.Feedback)
		}
		if *entry.Score < th.LowScore {
			anyBelowLow = true
		}
	}

	if len(state.FeedbackHistory) > 3 {
		s.RecommendedActions = append(s.RecommendedActions, RecommendDecompose)
	}
	if anyBelowLow {
		s.RecommendedActions = append(s.RecommendedActions, RecommendSpecificFeedback)
	}
	if refinements > 2 {
		s.RecommendedActions = append(s.RecommendedActions, RecommendClarify)
	}

	return Report{
		Suggestions: s,
		Insights: Insights{
			FeedbackFrequency: len(state.FeedbackHistory),
			RefinementCycles:  refinements,
			EngagementLevel:   EngagementLevel(len(state.FeedbackHistory)),
		},
	}
}

func sortedScoreKeys(state *storage.SessionState) []string {
	keys := make([]string, 0, len(state.QualityScores))
	for k := range state.QualityScores {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, _ := storage.ParseScoreKey(keys[i])
		b, _ := storage.ParseScoreKey(keys[j])
		if a != b {
			return a < b
		}
		return keys[i] < keys[j]
	})
	return keys
}
