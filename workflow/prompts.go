package workflow

import (
	"fmt"
	"regexp"
	"strings"
)

var enrichmentMarkerRe = regexp.MustCompile(`\n*\[MCP_ENHANCE: user_story_id=\d+\]`)

// enrichmentMarker flags a start prompt whose user story still needs to be
// fetched from the tracker.
func enrichmentMarker(userStoryID int) string {
	return fmt.Sprintf("\n\n[MCP_ENHANCE: user_story_id=%d]", userStoryID)
}

// StripEnrichmentMarker removes the enrichment marker from a prompt.
func StripEnrichmentMarker(prompt string) string {
	return strings.TrimRight(enrichmentMarkerRe.ReplaceAllString(prompt, ""), "\n")
}

// EnrichPrompt replaces the enrichment marker with tracker context.
func EnrichPrompt(prompt, trackerContext string) string {
	base := StripEnrichmentMarker(prompt)
	if trackerContext == "" {
		return base
	}
	return base + "\n\n" + trackerContext
}

func refinePrompt(feedback string) string {
	return fmt.Sprintf("Original analysis needs refinement. Human feedback: %s. Please re-analyze considering this feedback.", feedback)
}

func enhancePrompt(lastAnalysis, context string) string {
	return fmt.Sprintf("Current analysis: %s\n\nAdditional context from human: %s\n\nPlease enhance the analysis with this new information.", lastAnalysis, context)
}
