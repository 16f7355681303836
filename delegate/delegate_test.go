package delegate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRole(t *testing.T) {
	r, err := ParseRole(" Analyzer ")
	require.NoError(t, err)
	assert.Equal(t, RoleAnalyzer, r)

	r, err = ParseRole("generator")
	require.NoError(t, err)
	assert.Equal(t, RoleGenerator, r)

	_, err = ParseRole("reviewer")
	assert.Error(t, err)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"deadline", NewTransientError(errors.Join(context.DeadlineExceeded, errors.New("slow"))), KindTimeout},
		{"canceled", context.Canceled, KindUnavailable},
		{"transient", NewTransientError(errors.New("503")), KindUnavailable},
		{"fatal", NewFatalError(errors.New("400")), KindProtocol},
		{"plain", errors.New("boom"), KindUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(RoleAnalyzer, 1, tt.err).Kind)
		})
	}
}

func TestError_Wrapping(t *testing.T) {
	inner := errors.New("connection refused")
	err := fmt.Errorf("run: %w", &Error{Kind: KindUnavailable, Role: RoleGenerator, Attempts: 3, Err: inner})

	assert.ErrorIs(t, err, inner)
	de, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, RoleGenerator, de.Role)
	assert.Contains(t, err.Error(), "generator unavailable after 3 attempt(s)")
	assert.False(t, IsTimeout(err))
	assert.False(t, IsTimeout(inner))
}

func TestClassifyHTTPError(t *testing.T) {
	assert.True(t, IsTransient(classifyHTTPError(429, nil)))
	assert.True(t, IsTransient(classifyHTTPError(500, nil)))
	assert.True(t, IsTransient(classifyHTTPError(504, nil)))
	assert.True(t, IsFatal(classifyHTTPError(400, nil)))
	assert.True(t, IsFatal(classifyHTTPError(403, nil)))
	assert.True(t, IsFatal(classifyHTTPError(302, nil)))
}

func TestCalculateBackoff(t *testing.T) {
	rc := RetryConfig{BackoffBase: 100 * time.Millisecond, BackoffMultiplier: 2, MaxBackoff: 300 * time.Millisecond}

	for i := 0; i < 20; i++ {
		b1 := rc.calculateBackoff(1)
		assert.InDelta(t, float64(100*time.Millisecond), float64(b1), float64(25*time.Millisecond))

		b2 := rc.calculateBackoff(2)
		assert.InDelta(t, float64(200*time.Millisecond), float64(b2), float64(50*time.Millisecond))

		// Capped before jitter.
		b5 := rc.calculateBackoff(5)
		assert.InDelta(t, float64(300*time.Millisecond), float64(b5), float64(75*time.Millisecond))
	}
}

func TestWithRetry_ZeroAttemptsStillTriesOnce(t *testing.T) {
	calls := 0
	out, err := withRetry(context.Background(), slog.Default(), RetryConfig{}, 0, RoleAnalyzer, "s1",
		func(ctx context.Context) (string, error) {
			calls++
			return "done", nil
		})
	require.NoError(t, err)
	assert.Equal(t, "done", out)
	assert.Equal(t, 1, calls)
}
