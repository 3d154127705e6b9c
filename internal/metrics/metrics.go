// Package metrics exposes Prometheus instrumentation for graph execution
// and the async worker pool, grounded on the teacher's
// graph/metrics.go/PrometheusMetrics (same promauto-factory construction,
// same step-latency-histogram-plus-counters shape), renamed from the
// teacher's "langgraph" namespace to this system's domain and narrowed to
// the events engine.Emitter actually carries (the teacher's version also
// tracks scheduler-only concepts — inflight_nodes, queue backpressure,
// merge conflicts — that don't exist in this system's single-worker-per-
// task execution model, so those are dropped rather than faked).
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Emitter implements engine.Emitter by recording node step latency and
// failure counts to Prometheus. Safe to share across concurrently running
// tasks: each CreateGraph() call builds its own Engine, but they all feed
// the same process-wide Emitter instance.
type Emitter struct {
	stepLatency *prometheus.HistogramVec
	stepErrors  *prometheus.CounterVec

	mu      sync.Mutex
	started map[string]time.Time
}

// New constructs an Emitter and registers its metrics with registry.
// A nil registry registers with prometheus.DefaultRegisterer.
func New(registry prometheus.Registerer) *Emitter {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Emitter{
		stepLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "contentpipeline",
			Name:      "step_latency_ms",
			Help:      "Node execution duration in milliseconds.",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000, 30000},
		}, []string{"workflow_step", "status"}),
		stepErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "contentpipeline",
			Name:      "step_errors_total",
			Help:      "Cumulative node execution failures.",
		}, []string{"workflow_step"}),
		started: make(map[string]time.Time),
	}
}

// NodeStarted implements engine.Emitter.
func (m *Emitter) NodeStarted(taskID, nodeID string, step int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started[key(taskID, nodeID, step)] = time.Now()
}

// NodeFinished implements engine.Emitter.
func (m *Emitter) NodeFinished(taskID, nodeID string, step int, err error) {
	k := key(taskID, nodeID, step)

	m.mu.Lock()
	started, ok := m.started[k]
	delete(m.started, k)
	m.mu.Unlock()
	if !ok {
		return
	}

	status := "success"
	if err != nil {
		status = "error"
		m.stepErrors.WithLabelValues(nodeID).Inc()
	}
	m.stepLatency.WithLabelValues(nodeID, status).Observe(float64(time.Since(started).Milliseconds()))
}

// RunFinished implements engine.Emitter. Metrics carries no per-task
// bookkeeping beyond the started map, which NodeFinished already drains
// entry by entry, so there is nothing to release here.
func (m *Emitter) RunFinished(taskID string) {}

func key(taskID, nodeID string, step int) string {
	return taskID + "/" + nodeID + "/" + strconv.Itoa(step)
}
