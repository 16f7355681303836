package workflow

import "strings"

// Status is a human checkpoint name.
type Status string

const (
	// StatusUnknown is any checkpoint name outside the closed set.
	StatusUnknown  Status = ""
	StatusStart    Status = "start"
	StatusApproved Status = "approved"
	StatusEdited   Status = "edited"
	StatusRejected Status = "rejected"
	StatusRefine   Status = "refine"
	StatusReview   Status = "review"
	StatusEnhance  Status = "enhance"
)

// ValidStatuses lists every checkpoint in the order reported to callers.
func ValidStatuses() []Status {
	return []Status{
		StatusStart,
		StatusApproved,
		StatusEdited,
		StatusRejected,
		StatusRefine,
		StatusReview,
		StatusEnhance,
	}
}

// ParseStatus normalizes case and whitespace. Names outside the closed
// set map to StatusUnknown.
func ParseStatus(s string) Status {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	for _, v := range ValidStatuses() {
		if st == v {
			return st
		}
	}
	return StatusUnknown
}

// String returns the checkpoint name, or "unknown".
func (s Status) String() string {
	if s == StatusUnknown {
		return "unknown"
	}
	return string(s)
}
