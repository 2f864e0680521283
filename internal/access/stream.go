package access

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"
)

// RowStream is a lazy, forward-only, non-restartable sequence of rows.
//
// The stream owns one Handle and one open Cursor from OpenStream until it is
// released. Release happens on natural exhaustion, on the first scan or
// cursor error, on Close, or when a range loop over All stops early. Only
// the current row is held in memory.
//
// Thread-safety: a RowStream must be used from a single goroutine.
//
//	s, err := access.OpenStream(ctx, c, access.Stmt("SELECT ..."), scanUser)
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//	for s.Next() {
//	    u := s.Value()
//	}
//	return s.Err()
type RowStream[T any] struct {
	ctx    context.Context
	handle Handle
	cursor Cursor
	scan   ScanFunc[T]

	current T
	err     error
	done    bool

	closeOnce sync.Once
	closeErr  error
}

// OpenStream acquires a Handle from c and executes stmt on it.
// Acquisition and query failures are returned here, with the Handle already
// released; no rows are fetched until Next is called.
func OpenStream[T any](ctx context.Context, c Connector, stmt Statement, scan ScanFunc[T]) (*RowStream[T], error) {
	h, err := c.Connect(ctx)
	if err != nil {
		return nil, NewConnectionError(err)
	}
	cur, err := h.QueryContext(ctx, stmt.Query, stmt.Args...)
	if err != nil {
		release(ctx, h)
		return nil, err
	}
	return &RowStream[T]{
		ctx:    ctx,
		handle: h,
		cursor: cur,
		scan:   scan,
	}, nil
}

// Next advances to the next row. It returns false when the rows are
// exhausted, an error occurred (see Err), or the stream was closed.
func (s *RowStream[T]) Next() bool {
	if s.done {
		return false
	}
	if !s.cursor.Next() {
		if err := s.cursor.Err(); err != nil {
			s.err = fmt.Errorf("stream rows: %w", err)
		}
		s.finish()
		return false
	}
	v, err := s.scan(s.cursor)
	if err != nil {
		s.err = err
		s.finish()
		return false
	}
	s.current = v
	return true
}

// Value returns the row most recently produced by Next.
func (s *RowStream[T]) Value() T {
	return s.current
}

// Err returns the first error that stopped the stream, if any.
func (s *RowStream[T]) Err() error {
	return s.err
}

// Close releases the cursor and Handle. Safe to call more than once; only
// the first call releases anything.
func (s *RowStream[T]) Close() error {
	s.done = true
	s.closeOnce.Do(func() {
		var errs []error
		if err := s.cursor.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close cursor: %w", err))
		}
		if err := s.handle.Close(); err != nil {
			errs = append(errs, fmt.Errorf("release handle: %w", err))
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}

// finish ends the stream from inside Next. Release failures are logged
// rather than reported so they never mask a row error.
func (s *RowStream[T]) finish() {
	var zero T
	s.current = zero
	if err := s.Close(); err != nil {
		slog.ErrorContext(s.ctx, "failed to release stream", "error", err)
	}
}

// All returns an iterator over the remaining rows. A row error is yielded
// once as the final element. Breaking out of the loop closes the stream.
func (s *RowStream[T]) All() iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		defer func() {
			if err := s.Close(); err != nil {
				slog.ErrorContext(s.ctx, "failed to release stream", "error", err)
			}
		}()
		for s.Next() {
			if !yield(s.Value(), nil) {
				return
			}
		}
		if err := s.Err(); err != nil {
			var zero T
			yield(zero, err)
		}
	}
}

// Collect drains the stream into a slice and closes it. Intended for tests
// and small result sets.
func (s *RowStream[T]) Collect() ([]T, error) {
	out := []T{}
	for v, err := range s.All() {
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
