package delegate

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"
)

// RetryConfig holds retry configuration for delegate requests.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts per delegation.
	MaxAttempts int

	// BackoffBase is the initial backoff duration.
	BackoffBase time.Duration

	// BackoffMultiplier is applied to backoff on each retry.
	BackoffMultiplier float64

	// MaxBackoff caps the maximum backoff duration.
	MaxBackoff time.Duration
}

// DefaultRetryConfig returns sensible retry defaults for delegate requests.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		BackoffBase:       time.Second,
		BackoffMultiplier: 2.0,
		MaxBackoff:        15 * time.Second,
	}
}

// calculateBackoff computes exponential backoff duration with jitter.
func (rc RetryConfig) calculateBackoff(attempt int) time.Duration {
	multiplier := 1.0
	for i := 1; i < attempt; i++ {
		multiplier *= rc.BackoffMultiplier
	}

	backoff := time.Duration(float64(rc.BackoffBase) * multiplier)
	if rc.MaxBackoff > 0 && backoff > rc.MaxBackoff {
		backoff = rc.MaxBackoff
	}

	// +/- 25%
	jitter := float64(backoff) * 0.25 * (rand.Float64()*2 - 1)
	return backoff + time.Duration(jitter)
}

// attemptFunc performs one delegate call under an attempt-scoped context.
type attemptFunc func(ctx context.Context) (string, error)

// withRetry runs fn until it succeeds, returns a fatal error, or the
// attempt budget is spent. Each attempt gets its own timeout when
// timeout > 0. The returned error is always a *Error.
func withRetry(ctx context.Context, logger *slog.Logger, rc RetryConfig, timeout time.Duration, role Role, sessionID string, fn attemptFunc) (string, error) {
	maxAttempts := rc.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		out, err := runAttempt(ctx, timeout, fn)
		if err == nil {
			return out, nil
		}
		lastErr = err

		// Caller gave up; do not retry or mask its reason.
		if ctx.Err() != nil {
			return "", classify(role, attempt, ctx.Err())
		}
		if IsFatal(err) {
			return "", classify(role, attempt, err)
		}

		if attempt < maxAttempts {
			backoff := rc.calculateBackoff(attempt)
			logger.Debug("Delegation failed, retrying",
				"session_id", sessionID,
				"role", role,
				"attempt", attempt,
				"max_attempts", maxAttempts,
				"backoff", backoff,
				"error", err)

			select {
			case <-ctx.Done():
				return "", classify(role, attempt, ctx.Err())
			case <-time.After(backoff):
			}
		}
	}

	return "", classify(role, maxAttempts, lastErr)
}

func runAttempt(ctx context.Context, timeout time.Duration, fn attemptFunc) (string, error) {
	attemptCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	out, err := fn(attemptCtx)
	if err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		// The attempt ran out of time; keep the deadline visible to classify.
		return "", NewTransientError(errors.Join(context.DeadlineExceeded, err))
	}
	return out, err
}
