package access

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// BackoffKind selects how the pause between attempts evolves.
type BackoffKind string

const (
	// BackoffFixed pauses Delay between every attempt.
	BackoffFixed BackoffKind = "fixed"

	// BackoffExponential starts at Delay and doubles up to MaxDelay.
	BackoffExponential BackoffKind = "exponential"
)

// Default retry settings.
const (
	DefaultMaxAttempts = 3
	DefaultRetryDelay  = 100 * time.Millisecond
)

// RetryPolicy re-invokes an Op on retryable failures.
//
// The policy re-runs the whole Op, so it must be idempotent or wrap its
// work in Transactional so partial effects are rolled back before the next
// attempt.
type RetryPolicy struct {
	// MaxAttempts is the total number of invocations, including the first.
	// Values below 1 are treated as 1.
	MaxAttempts int

	// Delay is the pause before the second attempt. Zero retries immediately.
	Delay time.Duration

	// MaxDelay caps exponential backoff. Zero means no cap.
	MaxDelay time.Duration

	// Backoff selects the delay schedule (default BackoffFixed).
	Backoff BackoffKind

	// Retryable classifies errors. Nil uses DefaultRetryable.
	Retryable func(error) bool

	// Notify, if set, is called before each pause with the failed attempt
	// number (starting at 1), its error and the upcoming delay.
	Notify func(attempt int, err error, delay time.Duration)
}

// DefaultRetryPolicy returns a fixed-delay policy with DefaultMaxAttempts.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: DefaultMaxAttempts,
		Delay:       DefaultRetryDelay,
		Backoff:     BackoffFixed,
	}
}

// NoRetry is a policy that makes exactly one attempt.
func NoRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1}
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

func (p RetryPolicy) retryable(err error) bool {
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return DefaultRetryable(err)
}

// schedule builds the delay sequence for one Retry invocation.
func (p RetryPolicy) schedule() backoff.BackOff {
	if p.Delay <= 0 {
		return &backoff.ZeroBackOff{}
	}
	if p.Backoff != BackoffExponential {
		return backoff.NewConstantBackOff(p.Delay)
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Delay
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = p.MaxDelay
	if b.MaxInterval <= 0 {
		b.MaxInterval = time.Duration(1<<63 - 1)
	}
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Retry wraps op with policy p.
//
// A retryable failure with attempts remaining pauses and retries. When no
// attempts remain an *ExhaustedRetriesError wrapping the last error is
// returned. A fatal failure is returned unchanged without consuming further
// attempts. Pauses honour ctx: cancellation during a pause returns ctx.Err().
func Retry[T any](p RetryPolicy, op Op[T]) Op[T] {
	return func(ctx context.Context) (T, error) {
		var zero T
		limit := p.attempts()
		sched := p.schedule()

		for attempt := 1; ; attempt++ {
			result, err := op(ctx)
			if err == nil {
				return result, nil
			}
			if !p.retryable(err) {
				return zero, err
			}
			if attempt >= limit {
				slog.ErrorContext(ctx, "retries exhausted", "attempts", attempt, "error", err)
				return zero, &ExhaustedRetriesError{Attempts: attempt, Last: err}
			}

			delay := sched.NextBackOff()
			if delay == backoff.Stop {
				return zero, &ExhaustedRetriesError{Attempts: attempt, Last: err}
			}
			slog.WarnContext(ctx, "retrying after transient failure",
				"attempt", attempt, "max_attempts", limit, "delay", delay, "error", err)
			if p.Notify != nil {
				p.Notify(attempt, err, delay)
			}

			if err := sleep(ctx, delay); err != nil {
				return zero, err
			}
		}
	}
}

// sleep pauses for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
