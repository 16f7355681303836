package delegate

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned without calling a delegate whose circuit
// breaker has tripped.
var ErrCircuitOpen = errors.New("circuit open")

// EndpointHealth tracks the health status of a delegate role.
type EndpointHealth struct {
	// Available indicates if the role is currently usable.
	Available bool `json:"available"`

	// LastSuccess is the time of the last successful delegation.
	LastSuccess time.Time `json:"last_success,omitzero"`

	// LastFailure is the time of the last failed delegation.
	LastFailure time.Time `json:"last_failure,omitzero"`

	// FailureCount is the number of consecutive failures.
	FailureCount int `json:"failure_count"`

	// CircuitOpen indicates if the circuit breaker has tripped.
	CircuitOpen bool `json:"circuit_open"`

	// CircuitOpenedAt is when the circuit was opened.
	CircuitOpenedAt time.Time `json:"circuit_opened_at,omitzero"`
}

// HealthConfig configures the circuit breaker.
type HealthConfig struct {
	// FailureThreshold is the number of consecutive failures before opening
	// the circuit. Zero disables the breaker.
	FailureThreshold int

	// RecoveryTimeout is how long to wait before trying a failed role again.
	RecoveryTimeout time.Duration
}

// DefaultHealthConfig returns sensible defaults for health tracking.
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		FailureThreshold: 3,
		RecoveryTimeout:  30 * time.Second,
	}
}

// HealthGateway wraps a Gateway with per-role health tracking. Once a role
// fails FailureThreshold times in a row its circuit opens and calls fail
// fast until RecoveryTimeout has passed. Calls are then let through again
// (half-open) and the next failure reopens the circuit.
type HealthGateway struct {
	next   Gateway
	config HealthConfig
	now    func() time.Time

	mu       sync.RWMutex
	statuses map[Role]*EndpointHealth
}

// NewHealthGateway wraps next.
func NewHealthGateway(next Gateway, cfg HealthConfig) *HealthGateway {
	return &HealthGateway{
		next:     next,
		config:   cfg,
		now:      time.Now,
		statuses: make(map[Role]*EndpointHealth),
	}
}

// Delegate forwards to the wrapped gateway unless role's circuit is open.
func (g *HealthGateway) Delegate(ctx context.Context, role Role, prompt, sessionID string) (string, error) {
	if !g.IsAvailable(role) {
		return "", &Error{Kind: KindUnavailable, Role: role, Err: ErrCircuitOpen}
	}

	out, err := g.next.Delegate(ctx, role, prompt, sessionID)
	switch {
	case err == nil:
		g.markSuccess(role)
	case ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled):
		// The caller gave up; says nothing about the delegate.
	default:
		// Protocol errors mean the delegate answered, so only outages count.
		if de, ok := AsError(err); !ok || de.Kind != KindProtocol {
			g.markFailure(role)
		}
	}
	return out, err
}

// getOrCreate returns the health status for a role, creating if needed.
// Callers hold g.mu.
func (g *HealthGateway) getOrCreate(role Role) *EndpointHealth {
	if status, ok := g.statuses[role]; ok {
		return status
	}
	status := &EndpointHealth{Available: true}
	g.statuses[role] = status
	return status
}

func (g *HealthGateway) markSuccess(role Role) {
	g.mu.Lock()
	defer g.mu.Unlock()

	status := g.getOrCreate(role)
	status.LastSuccess = g.now()
	status.FailureCount = 0
	status.Available = true
	status.CircuitOpen = false
}

func (g *HealthGateway) markFailure(role Role) {
	g.mu.Lock()
	defer g.mu.Unlock()

	status := g.getOrCreate(role)
	status.LastFailure = g.now()
	status.FailureCount++

	if g.config.FailureThreshold > 0 && status.FailureCount >= g.config.FailureThreshold {
		// A failed half-open probe restarts the recovery window.
		status.CircuitOpen = true
		status.CircuitOpenedAt = g.now()
		status.Available = false
	}
}

// IsAvailable reports whether role may be called. Returns true for roles
// with no recorded history.
func (g *HealthGateway) IsAvailable(role Role) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	status, ok := g.statuses[role]
	if !ok || !status.CircuitOpen {
		return true
	}
	// Recovery timeout passed: allow a test request (half-open)
	return g.now().Sub(status.CircuitOpenedAt) > g.config.RecoveryTimeout
}

// Health returns a copy of every role's health, including roles that have
// not been called yet.
func (g *HealthGateway) Health() map[Role]EndpointHealth {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make(map[Role]EndpointHealth, len(Roles()))
	for _, role := range Roles() {
		out[role] = EndpointHealth{Available: true}
	}
	for role, status := range g.statuses {
		out[role] = *status
	}
	return out
}
