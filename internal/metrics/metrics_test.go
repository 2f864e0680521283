package metrics

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rsq/internal/access"
)

func newCollector(t *testing.T) (*Collector, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	c, err := New(reg)
	require.NoError(t, err)
	return c, reg
}

func TestCollector_Handles(t *testing.T) {
	c, _ := newCollector(t)

	c.HandleAcquired()
	c.HandleAcquired()
	c.HandleReleased()

	assert.Equal(t, 2.0, testutil.ToFloat64(c.handlesAcquired))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.handlesReleased))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.handlesOpen))
}

func TestCollector_CacheRetriesAndTasks(t *testing.T) {
	c, _ := newCollector(t)

	c.CacheMiss()
	c.CacheHit()
	c.CacheHit()
	c.RetryScheduled(1, access.NewStoreError(access.KindTransient, "query", errors.New("locked")))
	c.RetryScheduled(1, errors.New("plain"))
	c.TaskFinished(access.TaskCompleted)
	c.TaskFinished(access.TaskFailed)
	c.TaskFinished(access.TaskCompleted)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.cacheRequests.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.cacheRequests.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.retries.WithLabelValues("TRANSIENT")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.retries.WithLabelValues("unclassified")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.tasks.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.tasks.WithLabelValues("failed")))
}

func TestNew_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)

	_, err = New(reg)
	assert.Error(t, err)
}

func TestSnapshot(t *testing.T) {
	c, reg := newCollector(t)
	c.HandleAcquired()
	c.CacheHit()
	c.TaskFinished(access.TaskFailed)

	snap, err := Snapshot(reg)
	require.NoError(t, err)

	assert.Equal(t, 1.0, snap["rsq_store_handles_open"])
	assert.Equal(t, 1.0, snap["rsq_store_handles_acquired_total"])
	assert.Equal(t, 1.0, snap[`rsq_cache_requests_total{result="hit"}`])
	assert.Equal(t, 1.0, snap[`rsq_gather_tasks_total{state="failed"}`])
}

func TestCollector_ObservesClient(t *testing.T) {
	c, _ := newCollector(t)
	connector := access.ConnectorFunc(func(ctx context.Context) (access.Handle, error) {
		return nil, errors.New("refused")
	})
	client := access.New(connector, access.WithObserver(c), access.WithRetryPolicy(access.RetryPolicy{MaxAttempts: 2}))

	_, err := client.Exec(context.Background(), access.Stmt("DELETE FROM user_data"))
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.retries.WithLabelValues("CONNECTION")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.handlesAcquired))
}
