package delegate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedGateway returns queued errors, then succeeds.
type scriptedGateway struct {
	errs  []error
	calls int
}

func (s *scriptedGateway) Delegate(_ context.Context, role Role, _, _ string) (string, error) {
	s.calls++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return "", err
	}
	return string(role) + " ok", nil
}

func unavailable(role Role) error {
	return &Error{Kind: KindUnavailable, Role: role, Attempts: 3, Err: errors.New("503")}
}

func TestHealthGateway_OpensCircuitAfterThreshold(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	next := &scriptedGateway{errs: []error{unavailable(RoleAnalyzer), unavailable(RoleAnalyzer)}}
	g := NewHealthGateway(next, HealthConfig{FailureThreshold: 2, RecoveryTimeout: time.Minute})
	g.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := g.Delegate(ctx, RoleAnalyzer, "p", "s1")
		require.Error(t, err)
	}
	assert.False(t, g.IsAvailable(RoleAnalyzer))
	assert.True(t, g.IsAvailable(RoleGenerator), "circuits are per role")

	_, err := g.Delegate(ctx, RoleAnalyzer, "p", "s1")
	require.ErrorIs(t, err, ErrCircuitOpen)
	de, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, KindUnavailable, de.Kind)
	assert.Equal(t, 2, next.calls, "open circuit must not reach the delegate")

	h := g.Health()[RoleAnalyzer]
	assert.True(t, h.CircuitOpen)
	assert.Equal(t, 2, h.FailureCount)
	assert.Equal(t, now, h.CircuitOpenedAt)

	// Half-open after the recovery timeout; success closes the circuit.
	now = now.Add(2 * time.Minute)
	out, err := g.Delegate(ctx, RoleAnalyzer, "p", "s1")
	require.NoError(t, err)
	assert.Equal(t, "analyzer ok", out)
	h = g.Health()[RoleAnalyzer]
	assert.False(t, h.CircuitOpen)
	assert.True(t, h.Available)
	assert.Zero(t, h.FailureCount)
}

func TestHealthGateway_IgnoresProtocolAndCancellation(t *testing.T) {
	next := &scriptedGateway{errs: []error{
		&Error{Kind: KindProtocol, Role: RoleGenerator, Attempts: 1, Err: errors.New("400")},
		context.Canceled,
	}}
	g := NewHealthGateway(next, HealthConfig{FailureThreshold: 1, RecoveryTimeout: time.Minute})

	_, err := g.Delegate(context.Background(), RoleGenerator, "p", "s1")
	require.Error(t, err)
	assert.True(t, g.IsAvailable(RoleGenerator))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = g.Delegate(ctx, RoleGenerator, "p", "s1")
	require.Error(t, err)
	assert.True(t, g.IsAvailable(RoleGenerator))
	assert.Zero(t, g.Health()[RoleGenerator].FailureCount)
}

func TestHealthGateway_ZeroThresholdNeverOpens(t *testing.T) {
	next := &scriptedGateway{errs: []error{unavailable(RoleAnalyzer), unavailable(RoleAnalyzer), unavailable(RoleAnalyzer)}}
	g := NewHealthGateway(next, HealthConfig{})

	for i := 0; i < 3; i++ {
		_, _ = g.Delegate(context.Background(), RoleAnalyzer, "p", "s1")
	}
	assert.True(t, g.IsAvailable(RoleAnalyzer))
	assert.Equal(t, 3, g.Health()[RoleAnalyzer].FailureCount)
}

func TestHealthGateway_HealthListsAllRoles(t *testing.T) {
	g := NewHealthGateway(&scriptedGateway{}, DefaultHealthConfig())

	h := g.Health()
	require.Len(t, h, 2)
	assert.True(t, h[RoleAnalyzer].Available)
	assert.True(t, h[RoleGenerator].Available)
}
