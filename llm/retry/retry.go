// Package retry implements the small retry policy used for plain
// request/response calls to external backends (the memory service). The main
// chat stream is never retried; only side calls get the fixed budget with
// linear backoff and a bounded per-attempt timeout.
package retry

import (
	"context"
	"time"

	"github.com/parley-chat/parley/llm/types"
)

// Policy configures retry behavior for transient failures.
type Policy struct {
	// MaxRetries is the number of retry attempts after the initial call.
	MaxRetries int

	// BaseDelay is the delay before the first retry. Subsequent delays grow
	// linearly: BaseDelay, 2*BaseDelay, 3*BaseDelay, ...
	BaseDelay time.Duration

	// MaxDelay caps any single delay.
	MaxDelay time.Duration

	// AttemptTimeout bounds each individual attempt. Zero disables the
	// per-attempt bound.
	AttemptTimeout time.Duration

	// OnRetry is an optional callback invoked before each retry attempt.
	OnRetry func(err error, attempt int, delay time.Duration)
}

// DefaultPolicy returns the policy used for external backend calls.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:     2,
		BaseDelay:      500 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		AttemptTimeout: 10 * time.Second,
	}
}

// DelayForAttempt calculates the linear-backoff delay for attempt n
// (0-indexed).
func (p Policy) DelayForAttempt(attempt int) time.Duration {
	delay := p.BaseDelay * time.Duration(attempt+1)
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

// Do executes fn under the policy. Errors implementing IsRetryable() false
// stop the retries immediately; context cancellation always wins.
func Do[T any](ctx context.Context, policy Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	result, err := attempt(ctx, policy, fn)
	if err == nil {
		return result, nil
	}

	for i := 0; i < policy.MaxRetries; i++ {
		if !types.IsRetryable(err) {
			return zero, err
		}

		delay := policy.DelayForAttempt(i)
		if policy.OnRetry != nil {
			policy.OnRetry(err, i, delay)
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}

		result, err = attempt(ctx, policy, fn)
		if err == nil {
			return result, nil
		}
	}

	return zero, err
}

func attempt[T any](ctx context.Context, policy Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	if policy.AttemptTimeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, policy.AttemptTimeout)
	defer cancel()
	return fn(attemptCtx)
}
