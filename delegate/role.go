// Package delegate sends prompts to the remote analyzer and generator
// services and classifies their failures.
package delegate

import (
	"context"
	"fmt"
	"strings"
)

// Role names a remote delegate.
type Role string

const (
	RoleAnalyzer  Role = "analyzer"
	RoleGenerator Role = "generator"
)

// Roles lists every delegate role.
func Roles() []Role {
	return []Role{RoleAnalyzer, RoleGenerator}
}

// ParseRole normalizes a role name.
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleAnalyzer:
		return RoleAnalyzer, nil
	case RoleGenerator:
		return RoleGenerator, nil
	default:
		return "", fmt.Errorf("unknown delegate role: %q", s)
	}
}

// Gateway sends a prompt to a delegate and returns its text response.
// Failures are returned as *Error.
type Gateway interface {
	Delegate(ctx context.Context, role Role, prompt, sessionID string) (string, error)
}
