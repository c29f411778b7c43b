package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDo_SucceedsWithoutRetry(t *testing.T) {
	calls := 0
	err := Do(context.Background(), DefaultRetryPolicy(), nil, AlwaysRetryable, func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_RetriesUntilSuccess(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, BackoffMultiplier: 2}
	calls := 0
	err := Do(context.Background(), policy, nil, AlwaysRetryable, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_ExhaustsRetriesReturnsLastError(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, BackoffMultiplier: 2}
	wantErr := errors.New("permanent")
	calls := 0
	err := Do(context.Background(), policy, nil, AlwaysRetryable, func(context.Context) error {
		calls++
		return wantErr
	})
	require.ErrorIs(t, err, wantErr)
	assert.Equal(t, 3, calls) // initial attempt + 2 retries
}

func TestDo_NonRetryableStopsImmediately(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 5, InitialDelay: time.Millisecond}
	calls := 0
	authErr := errors.New("authentication failed")
	err := Do(context.Background(), policy, nil, func(err error) bool { return false }, func(context.Context) error {
		calls++
		return authErr
	})
	require.ErrorIs(t, err, authErr)
	assert.Equal(t, 1, calls)
}

func TestDo_CircuitOpenAbortsWithoutRetry(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 5, InitialDelay: time.Millisecond}
	calls := 0
	err := Do(context.Background(), policy, nil, AlwaysRetryable, func(context.Context) error {
		calls++
		return ErrCircuitOpen
	})
	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 1, calls)
}

func TestDo_ContextCancelDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := RetryPolicy{MaxRetries: 3, InitialDelay: 50 * time.Millisecond, BackoffMultiplier: 2}

	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	err := Do(ctx, policy, nil, AlwaysRetryable, func(context.Context) error {
		return errors.New("fail")
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestUpperBound(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 3, InitialDelay: time.Second, MaxDelay: 30 * time.Second, BackoffMultiplier: 2, Jitter: true}
	bound := UpperBound(policy)
	// 1s + 2s + 4s = 7s, * 1.25 jitter headroom = 8.75s
	assert.InDelta(t, 8750*time.Millisecond, bound, float64(10*time.Millisecond))
}
