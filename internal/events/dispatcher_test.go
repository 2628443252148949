package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wardline/authcore/internal/domain"
)

func TestShouldRetry_DefaultPolicyAllowsFiveRetries(t *testing.T) {
	policy := domain.DefaultRetryPolicy()
	require.Equal(t, 5, policy.MaxAttempts)

	for attempt := 1; attempt <= 5; attempt++ {
		require.True(t, shouldRetry(attempt, policy), "attempt %d should still retry", attempt)
	}
	require.False(t, shouldRetry(6, policy), "the 6th attempt already used up all 5 retries")
}

func TestShouldRetry_ZeroMaxAttemptsNeverRetries(t *testing.T) {
	policy := domain.RetryPolicy{MaxAttempts: 0}
	require.False(t, shouldRetry(1, policy))
}

func TestBackoff_NeverExceedsMaxDelay(t *testing.T) {
	policy := domain.RetryPolicy{
		InitialDelay: time.Second,
		Multiplier:   2,
		MaxDelay:     10 * time.Second,
	}
	for attempt := 1; attempt <= 10; attempt++ {
		d := backoff(policy, attempt)
		require.LessOrEqual(t, d, policy.MaxDelay)
		require.GreaterOrEqual(t, d, time.Duration(0))
	}
}

func TestBackoff_GrowsWithAttemptNumberBeforeCapping(t *testing.T) {
	policy := domain.RetryPolicy{
		InitialDelay: time.Second,
		Multiplier:   2,
		MaxDelay:     time.Hour,
	}
	// backoff jitters uniformly within [0, raw), so the observed max over
	// enough samples converges close to raw; a later attempt's raw ceiling
	// is 16x the first attempt's, which sampling should reliably surface.
	maxFor := func(attempt int, samples int) time.Duration {
		var max time.Duration
		for i := 0; i < samples; i++ {
			if d := backoff(policy, attempt); d > max {
				max = d
			}
		}
		return max
	}

	require.Greater(t, maxFor(5, 200), maxFor(1, 200))
}

func TestBackoff_ZeroInitialDelayStillReturnsNonNegative(t *testing.T) {
	policy := domain.RetryPolicy{InitialDelay: 0, Multiplier: 2, MaxDelay: time.Minute}
	d := backoff(policy, 1)
	require.GreaterOrEqual(t, d, time.Duration(0))
}
