package access_test

import (
	"bytes"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/roach88/rsq/internal/access"
	"github.com/roach88/rsq/internal/testutil"
)

type item struct {
	ID   int64
	Name string
}

func scanItem(c access.Cursor) (item, error) {
	var it item
	err := c.Scan(&it.ID, &it.Name)
	return it, err
}

func newStore(n int) *testutil.FakeStore {
	return testutil.NewFakeStore([]string{"id", "name"}, testutil.NumberedRows(n)...)
}

func ids(items []item) []int64 {
	out := make([]int64, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func seq(from, to int64) []int64 {
	out := []int64{}
	for i := from; i <= to; i++ {
		out = append(out, i)
	}
	return out
}

func transientErr() error {
	return access.NewStoreError(access.KindTransient, "query", errors.New("database is locked"))
}

func integrityErr() error {
	return access.NewStoreError(access.KindIntegrity, "exec", errors.New("UNIQUE constraint failed: user_data.email"))
}

func noDelay(attempts int) access.RetryPolicy {
	return access.RetryPolicy{MaxAttempts: attempts}
}

type recordingObserver struct {
	mu       sync.Mutex
	acquired int
	released int
	hits     int
	misses   int
	retries  []int
	tasks    map[access.TaskState]int
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{tasks: make(map[access.TaskState]int)}
}

func (o *recordingObserver) HandleAcquired() { o.mu.Lock(); o.acquired++; o.mu.Unlock() }
func (o *recordingObserver) HandleReleased() { o.mu.Lock(); o.released++; o.mu.Unlock() }
func (o *recordingObserver) CacheHit()       { o.mu.Lock(); o.hits++; o.mu.Unlock() }
func (o *recordingObserver) CacheMiss()      { o.mu.Lock(); o.misses++; o.mu.Unlock() }

func (o *recordingObserver) RetryScheduled(attempt int, _ error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.retries = append(o.retries, attempt)
}

func (o *recordingObserver) TaskFinished(state access.TaskState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.tasks[state]++
}

// captureLogs routes the default slog logger into a buffer for the
// duration of the test.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return buf
}
