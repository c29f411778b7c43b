package resilience

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// RetryPolicy configures exponential backoff with optional jitter.
type RetryPolicy struct {
	MaxRetries        int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
	Jitter            bool

	// OnRetry, if set, is invoked before each delayed retry.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultRetryPolicy returns conservative defaults suitable for LLM calls.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:        3,
		InitialDelay:      time.Second,
		MaxDelay:          30 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}
}

// Classifier decides whether a given error should be retried at all.
// CircuitOpen errors and authentication errors must never be retried;
// the caller supplies the predicate since retryability is provider-specific.
type Classifier func(err error) bool

// AlwaysRetryable retries every non-nil error.
func AlwaysRetryable(err error) bool { return err != nil }

// Do runs fn, retrying per policy while retryable(err) holds and the
// circuit hasn't been reported open. CircuitOpen errors abort immediately
// without consuming a retry attempt.
func Do(ctx context.Context, policy RetryPolicy, logger *zap.Logger, retryable Classifier, fn func(ctx context.Context) error) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	if retryable == nil {
		retryable = AlwaysRetryable
	}

	var lastErr error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(policy, attempt)
			if policy.OnRetry != nil {
				policy.OnRetry(attempt, lastErr, delay)
			}
			logger.Debug("retrying", zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				logger.Info("retry succeeded", zap.Int("attempt", attempt))
			}
			return nil
		}

		if errors.Is(err, ErrCircuitOpen) {
			return err
		}

		lastErr = err
		if !retryable(err) {
			return err
		}
	}

	return lastErr
}

func backoffDelay(policy RetryPolicy, attempt int) time.Duration {
	delay := float64(policy.InitialDelay) * math.Pow(policy.BackoffMultiplier, float64(attempt-1))
	if maxDelay := float64(policy.MaxDelay); maxDelay > 0 && delay > maxDelay {
		delay = maxDelay
	}
	if policy.Jitter {
		jitter := delay * 0.25
		delay += (rand.Float64()*2 - 1) * jitter
	}
	if delay < float64(policy.InitialDelay) {
		delay = float64(policy.InitialDelay)
	}
	return time.Duration(delay)
}

// UpperBound returns the worst-case wall-clock time Do can spend waiting
// between attempts, per the spec's testable property in §8.
func UpperBound(policy RetryPolicy) time.Duration {
	var total time.Duration
	for i := 0; i < policy.MaxRetries; i++ {
		d := time.Duration(float64(policy.InitialDelay) * math.Pow(policy.BackoffMultiplier, float64(i)))
		if policy.MaxDelay > 0 && d > policy.MaxDelay {
			d = policy.MaxDelay
		}
		total += d
	}
	if policy.Jitter {
		total = time.Duration(float64(total) * 1.25)
	}
	return total
}
