// Package resilience provides the retry layer wrapped around outbound LLM
// provider calls and object-store downloads. Database calls are not retried.
package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/anders-planck/parseur/internal/core"
)

// Policy defines retry behavior with exponential backoff.
//
// The default policy retries up to 3 attempts with a 200ms base delay,
// doubling per attempt, capped at 5s, with ±20% jitter. Rate-limit errors
// carrying an upstream hint never wait less than the hint.
type Policy struct {
	// Attempts is the total number of tries, including the first.
	Attempts int

	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration

	// MaxDelay caps the backoff growth.
	MaxDelay time.Duration

	// JitterFraction spreads each delay by ±fraction to avoid thundering
	// herds. 0.2 means the delay varies between 80% and 120%.
	JitterFraction float64

	// IsRetryable decides whether an error is worth another attempt.
	// Nil defaults to core.Retryable (typed error kinds).
	IsRetryable func(error) bool

	// Logger for retry events. Nil uses slog.Default().
	Logger *slog.Logger

	// OperationName labels log records ("llm_classify", "object_download").
	OperationName string
}

// DefaultPolicy returns the policy used for provider and storage calls.
func DefaultPolicy() *Policy {
	return &Policy{
		Attempts:       3,
		BaseDelay:      200 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		JitterFraction: 0.2,
	}
}

// Do executes op under the policy and returns its result.
//
// Context cancellation is respected during backoff waits; the operation
// itself is expected to honor ctx on its own.
func Do[T any](ctx context.Context, policy *Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if policy == nil {
		policy = DefaultPolicy()
	}
	logger := policy.Logger
	if logger == nil {
		logger = slog.Default()
	}
	retryable := policy.IsRetryable
	if retryable == nil {
		retryable = core.Retryable
	}
	attempts := policy.Attempts
	if attempts < 1 {
		attempts = 1
	}

	delay := policy.BaseDelay
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := op(ctx)
		if err == nil {
			if attempt > 1 {
				logger.Info("operation succeeded after retry",
					"operation", policy.OperationName,
					"attempt", attempt,
				)
			}
			return result, nil
		}
		lastErr = err

		if !retryable(err) {
			logger.Debug("non-retryable error, giving up",
				"operation", policy.OperationName,
				"attempt", attempt,
				"error", err,
			)
			return zero, err
		}
		if attempt == attempts {
			break
		}

		wait := applyJitter(delay, policy.JitterFraction)
		// Rate-limit hints are a floor, not a suggestion.
		if hint := core.RetryAfterHint(err); hint > wait {
			wait = hint
		}

		logger.Warn("operation failed, retrying",
			"operation", policy.OperationName,
			"attempt", attempt,
			"max_attempts", attempts,
			"delay", wait,
			"error", err,
		)

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return zero, ctx.Err()
		}

		delay *= 2
		if delay > policy.MaxDelay {
			delay = policy.MaxDelay
		}
	}

	return zero, fmt.Errorf("operation %s failed after %d attempts: %w",
		policy.OperationName, attempts, lastErr)
}

func applyJitter(d time.Duration, fraction float64) time.Duration {
	if fraction <= 0 {
		return d
	}
	// Uniform in [1-fraction, 1+fraction).
	factor := 1 + fraction*(2*rand.Float64()-1)
	return time.Duration(float64(d) * factor)
}
