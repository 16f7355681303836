package workflow

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ReviewUsage is returned to callers whose review input does not parse.
const ReviewUsage = "Invalid review format. Use: 'score:X; feedback:your feedback'"

// Score bounds accepted by a review.
const (
	MinScore = 0
	MaxScore = 10
)

var errNoScore = errors.New("review has no score field")

// Review is a parsed quality review.
type Review struct {
	Score    int
	Feedback string
}

// ParseReview parses a ';'-separated review such as
// "score:8; feedback:needs more detail". Fields may appear in any order
// and unrelated fields are ignored. The feedback value keeps everything
// after its first colon.
func ParseReview(input string) (Review, error) {
	var (
		r        Review
		hasScore bool
	)
	for _, part := range strings.Split(input, ";") {
		field := strings.TrimSpace(part)
		switch {
		case strings.HasPrefix(field, "score:"):
			raw := strings.TrimSpace(strings.TrimPrefix(field, "score:"))
			n, err := strconv.Atoi(raw)
			if err != nil {
				return Review{}, fmt.Errorf("parse score %q: %w", raw, err)
			}
			if n < MinScore || n > MaxScore {
				return Review{}, fmt.Errorf("score %d outside %d-%d", n, MinScore, MaxScore)
			}
			r.Score = n
			hasScore = true
		case strings.HasPrefix(field, "feedback:"):
			r.Feedback = strings.TrimSpace(strings.TrimPrefix(field, "feedback:"))
		}
	}
	if !hasScore {
		return Review{}, errNoScore
	}
	return r, nil
}
