package access

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorKind categorizes store failures for retry classification.
type ErrorKind string

const (
	// KindConnection indicates a Handle could not be acquired.
	KindConnection ErrorKind = "CONNECTION"

	// KindTransient indicates a retryable failure such as lock contention.
	KindTransient ErrorKind = "TRANSIENT"

	// KindIntegrity indicates a constraint violation. Never retried.
	KindIntegrity ErrorKind = "INTEGRITY"

	// KindQuery indicates any other failure reported by the store.
	KindQuery ErrorKind = "QUERY"
)

var (
	// ErrNoTransaction is returned by Commit or Rollback without Begin.
	ErrNoTransaction = errors.New("no active transaction")

	// ErrTransactionActive is returned by Begin when a transaction is open.
	ErrTransactionActive = errors.New("transaction already active")
)

// StoreError is a classified failure reported by the row store.
type StoreError struct {
	// Kind identifies the error category.
	Kind ErrorKind

	// Op names the boundary operation that failed ("connect", "query", ...).
	Op string

	// Err is the underlying driver error.
	Err error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

// Unwrap returns the underlying driver error.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError classifies err as kind. A nil err yields nil, and an error
// that is already a StoreError is returned unchanged.
func NewStoreError(kind ErrorKind, op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return &StoreError{Kind: kind, Op: op, Err: err}
}

// NewConnectionError wraps an acquisition failure.
func NewConnectionError(err error) error {
	return NewStoreError(KindConnection, "connect", err)
}

// KindOf returns the classification of err, or "" if err is unclassified.
func KindOf(err error) ErrorKind {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

// IsConnectionError returns true if err is a Handle acquisition failure.
// Uses errors.As to handle wrapped errors.
func IsConnectionError(err error) bool {
	return KindOf(err) == KindConnection
}

// IsTransient returns true if err is a retryable store failure.
func IsTransient(err error) bool {
	return KindOf(err) == KindTransient
}

// IsIntegrity returns true if err is a constraint violation.
func IsIntegrity(err error) bool {
	return KindOf(err) == KindIntegrity
}

// DefaultRetryable is the classification used when a RetryPolicy does not
// supply its own: transient store errors and connection failures retry,
// everything else is fatal. Context cancellation is always fatal.
func DefaultRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	switch KindOf(err) {
	case KindTransient, KindConnection:
		return true
	default:
		return false
	}
}

// ExhaustedRetriesError is returned when every attempt of a RetryPolicy
// failed with a retryable error.
type ExhaustedRetriesError struct {
	Attempts int
	Last     error
}

// Error implements the error interface.
func (e *ExhaustedRetriesError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempt(s): %v", e.Attempts, e.Last)
}

// Unwrap returns the error of the final attempt.
func (e *ExhaustedRetriesError) Unwrap() error {
	return e.Last
}

// IsExhausted returns true if err reports exhausted retries.
func IsExhausted(err error) bool {
	var ee *ExhaustedRetriesError
	return errors.As(err, &ee)
}

// TaskFailure identifies one failed task of a Gather call.
type TaskFailure struct {
	Index int
	Name  string
	Err   error
}

// AggregateFetchError is returned by Gather when one or more tasks failed.
// Failures are ordered by task index.
type AggregateFetchError struct {
	Total    int
	Failures []TaskFailure
}

// Error implements the error interface.
func (e *AggregateFetchError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d of %d fetch task(s) failed", len(e.Failures), e.Total)
	for i, f := range e.Failures {
		if i == 0 {
			b.WriteString(": ")
		} else {
			b.WriteString("; ")
		}
		if f.Name != "" {
			fmt.Fprintf(&b, "[%d %s] %v", f.Index, f.Name, f.Err)
		} else {
			fmt.Fprintf(&b, "[%d] %v", f.Index, f.Err)
		}
	}
	return b.String()
}

// Unwrap exposes every task error to errors.Is and errors.As.
func (e *AggregateFetchError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f.Err
	}
	return errs
}

// FailedIndices returns the indices of the failed tasks in ascending order.
func (e *AggregateFetchError) FailedIndices() []int {
	idx := make([]int, len(e.Failures))
	for i, f := range e.Failures {
		idx[i] = f.Index
	}
	return idx
}
