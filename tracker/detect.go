// Package tracker looks up work items in an issue tracker so a workflow
// prompt can be enriched with the referenced user story.
package tracker

import (
	"regexp"
	"strconv"
	"strings"
)

// userStoryRe matches the numeric reference forms, tried leftmost first:
// user_story 42, user story 42, story 42, US42 and #42.
var userStoryRe = regexp.MustCompile(`\buser[_\s]*story[_\s]*(\d+)|\bstory[_\s]*(\d+)|\bus[-_]?(\d+)|#(\d+)`)

// DetectUserStory finds a user story reference such as "user_story 42",
// "User Story 42", "US42" or "#42" in text. Only the first reference
// counts.
func DetectUserStory(text string) (int, bool) {
	m := userStoryRe.FindStringSubmatch(strings.ToLower(text))
	if m == nil {
		return 0, false
	}
	for _, g := range m[1:] {
		if g == "" {
			continue
		}
		id, err := strconv.Atoi(g)
		if err != nil {
			return 0, false
		}
		return id, true
	}
	return 0, false
}
