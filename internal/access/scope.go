package access

import (
	"context"
	"fmt"
	"log/slog"
)

// WithConnection binds work to a connection scope.
//
// Each invocation of the returned Op acquires one Handle from c, runs work
// with it and closes it on every exit path, including panics. If acquisition
// fails work is never invoked and the error is reported as a connection
// error. A failure to close the Handle is logged and suppressed so the
// result or error of work takes precedence.
func WithConnection[T any](c Connector, work Work[T]) Op[T] {
	return func(ctx context.Context) (T, error) {
		h, err := c.Connect(ctx)
		if err != nil {
			var zero T
			return zero, NewConnectionError(err)
		}
		defer release(ctx, h)
		return work(ctx, h)
	}
}

// release closes h, logging instead of returning any failure.
func release(ctx context.Context, h Handle) {
	if err := h.Close(); err != nil {
		slog.ErrorContext(ctx, "failed to release store handle", "error", err)
	}
}

// Transactional runs work inside a transaction on the Handle it receives.
//
// On success the transaction is committed and a commit failure is returned.
// If work fails or panics the transaction is rolled back and the original
// error (or panic) propagates unchanged; a rollback failure is only logged.
// Exactly one of commit or rollback is attempted per invocation.
func Transactional[T any](work Work[T]) Work[T] {
	return func(ctx context.Context, h Handle) (T, error) {
		var zero T
		if err := h.Begin(ctx); err != nil {
			return zero, fmt.Errorf("begin transaction: %w", err)
		}

		finished := false
		defer func() {
			if finished {
				return
			}
			if err := h.Rollback(); err != nil {
				slog.ErrorContext(ctx, "failed to roll back transaction", "error", err)
			}
		}()

		result, err := work(ctx, h)
		if err != nil {
			return zero, err
		}

		// Marked before Commit: a failed commit must not be followed by a rollback.
		finished = true
		if err := h.Commit(); err != nil {
			return zero, fmt.Errorf("commit transaction: %w", err)
		}
		return result, nil
	}
}
