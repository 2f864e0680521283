// Package metrics exports access layer events as Prometheus metrics.
package metrics

import (
	"fmt"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/roach88/rsq/internal/access"
)

// Namespace prefixes every metric name.
const Namespace = "rsq"

// Collector implements access.Observer on Prometheus metrics.
//
// Thread-safety: Collector is safe for concurrent use.
type Collector struct {
	handlesOpen     prometheus.Gauge
	handlesAcquired prometheus.Counter
	handlesReleased prometheus.Counter
	cacheRequests   *prometheus.CounterVec
	retries         *prometheus.CounterVec
	tasks           *prometheus.CounterVec
}

var _ access.Observer = (*Collector)(nil)

// New creates a Collector and registers its metrics with reg.
// A nil reg uses prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &Collector{
		handlesOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "store",
			Name:      "handles_open",
			Help:      "Store handles currently held by a scope.",
		}),
		handlesAcquired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "store",
			Name:      "handles_acquired_total",
			Help:      "Store handles acquired.",
		}),
		handlesReleased: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "store",
			Name:      "handles_released_total",
			Help:      "Store handles released.",
		}),
		cacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "cache",
			Name:      "requests_total",
			Help:      "Result cache lookups by outcome.",
		}, []string{"result"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "retry",
			Name:      "scheduled_total",
			Help:      "Retries scheduled after a failed attempt, by error kind.",
		}, []string{"kind"}),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "gather",
			Name:      "tasks_total",
			Help:      "Fetch tasks finished, by terminal state.",
		}, []string{"state"}),
	}

	for _, m := range []prometheus.Collector{
		c.handlesOpen, c.handlesAcquired, c.handlesReleased,
		c.cacheRequests, c.retries, c.tasks,
	} {
		if err := reg.Register(m); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}
	return c, nil
}

func (c *Collector) HandleAcquired() {
	c.handlesAcquired.Inc()
	c.handlesOpen.Inc()
}

func (c *Collector) HandleReleased() {
	c.handlesReleased.Inc()
	c.handlesOpen.Dec()
}

func (c *Collector) CacheHit()  { c.cacheRequests.WithLabelValues("hit").Inc() }
func (c *Collector) CacheMiss() { c.cacheRequests.WithLabelValues("miss").Inc() }

func (c *Collector) RetryScheduled(_ int, err error) {
	kind := string(access.KindOf(err))
	if kind == "" {
		kind = "unclassified"
	}
	c.retries.WithLabelValues(kind).Inc()
}

func (c *Collector) TaskFinished(state access.TaskState) {
	c.tasks.WithLabelValues(string(state)).Inc()
}

// Snapshot flattens the counters and gauges gathered from g into a map
// keyed by metric name with labels, e.g. `rsq_cache_requests_total{result="hit"}`.
func Snapshot(g prometheus.Gatherer) (map[string]float64, error) {
	families, err := g.Gather()
	if err != nil {
		return nil, fmt.Errorf("gather metrics: %w", err)
	}
	out := make(map[string]float64)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			key := mf.GetName() + formatLabels(m.GetLabel())
			switch mf.GetType() {
			case dto.MetricType_COUNTER:
				out[key] = m.GetCounter().GetValue()
			case dto.MetricType_GAUGE:
				out[key] = m.GetGauge().GetValue()
			}
		}
	}
	return out, nil
}

func formatLabels(labels []*dto.LabelPair) string {
	if len(labels) == 0 {
		return ""
	}
	parts := make([]string, 0, len(labels))
	for _, l := range labels {
		parts = append(parts, fmt.Sprintf("%s=%q", l.GetName(), l.GetValue()))
	}
	sort.Strings(parts)
	return "{" + strings.Join(parts, ",") + "}"
}
