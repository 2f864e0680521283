package access

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// TaskState is the lifecycle state of a fetch task.
type TaskState string

const (
	TaskPending   TaskState = "pending"
	TaskRunning   TaskState = "running"
	TaskCompleted TaskState = "completed"
	TaskFailed    TaskState = "failed"
)

// Terminal reports whether s is Completed or Failed.
func (s TaskState) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// Task is one independent read submitted to Gather or Settle.
type Task[T any] struct {
	// Name identifies the task in errors and logs. Optional.
	Name string

	// Work runs on a Handle acquired for this task alone.
	Work Work[T]

	// Retry, if set, wraps this task's scoped Work.
	Retry *RetryPolicy
}

// GatherOptions configures Gather and Settle.
type GatherOptions struct {
	// Limit bounds how many tasks run at once. Zero means unbounded.
	Limit int

	// Observer receives a TaskFinished event per task. Nil discards them.
	Observer Observer
}

// Outcome is the result of one task run by Settle.
type Outcome[T any] struct {
	Value T
	Err   error
	State TaskState
}

var errNilWork = errors.New("task has no work")

// Settle runs every task concurrently and returns one Outcome per task,
// in task order regardless of completion order.
//
// Each task runs on its own Handle. A failing task does not cancel its
// siblings; only ctx does. Settle never discards results, which makes it the
// partial-results counterpart to Gather.
func Settle[T any](ctx context.Context, c Connector, tasks []Task[T], opts GatherOptions) []Outcome[T] {
	obs := opts.Observer
	if obs == nil {
		obs = NopObserver{}
	}

	outcomes := make([]Outcome[T], len(tasks))
	for i := range outcomes {
		outcomes[i].State = TaskPending
	}

	var g errgroup.Group
	if opts.Limit > 0 {
		g.SetLimit(opts.Limit)
	}

	for i, task := range tasks {
		g.Go(func() error {
			out := &outcomes[i]
			out.State = TaskRunning
			out.Value, out.Err = runTask(ctx, c, task)
			if out.Err != nil {
				out.State = TaskFailed
				slog.DebugContext(ctx, "fetch task failed", "index", i, "name", task.Name, "error", out.Err)
			} else {
				out.State = TaskCompleted
			}
			obs.TaskFinished(out.State)
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

func runTask[T any](ctx context.Context, c Connector, task Task[T]) (T, error) {
	var zero T
	if task.Work == nil {
		return zero, errNilWork
	}
	// A task that had to wait for a slot may find the parent already cancelled.
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	op := WithConnection(c, task.Work)
	if task.Retry != nil {
		op = Retry(*task.Retry, op)
	}
	return op(ctx)
}

// Gather runs every task concurrently and returns their results in task
// order. If any task fails, every result is discarded and an
// *AggregateFetchError naming the failed tasks in index order is returned.
// An empty task list yields an empty slice.
func Gather[T any](ctx context.Context, c Connector, tasks []Task[T], opts GatherOptions) ([]T, error) {
	outcomes := Settle(ctx, c, tasks, opts)

	var failures []TaskFailure
	results := make([]T, len(outcomes))
	for i, out := range outcomes {
		if out.Err != nil {
			failures = append(failures, TaskFailure{Index: i, Name: tasks[i].Name, Err: out.Err})
			continue
		}
		results[i] = out.Value
	}
	if len(failures) > 0 {
		return nil, &AggregateFetchError{Total: len(tasks), Failures: failures}
	}
	return results, nil
}
