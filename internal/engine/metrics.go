package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects Prometheus-compatible execution metrics. Grounded on
// graph/metrics.go's PrometheusMetrics, trimmed to the signals that still
// mean something once the engine is sequential per task: there is no
// frontier to queue on, so inflight_nodes/queue_depth/backpressure_events
// are dropped; step_latency_ms and node_retries_total survive, and
// node_failures_total is added so a failing node is visible per Kind
// (spec.md §7).
type Metrics struct {
	stepLatency *prometheus.HistogramVec
	retries     *prometheus.CounterVec
	nodesFailed *prometheus.CounterVec
}

// NewMetrics registers the engine's metrics against reg and returns the
// collector. reg may be prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		stepLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pipeline",
			Name:      "step_latency_ms",
			Help:      "Node execution duration in milliseconds.",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000, 30000},
		}, []string{"workflow_type", "node_id", "status"}),
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pipeline",
			Name:      "node_retries_total",
			Help:      "Cumulative intra-node retry attempts.",
		}, []string{"workflow_type", "node_id"}),
		nodesFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pipeline",
			Name:      "node_failures_total",
			Help:      "Node executions that returned a terminal error, by kind.",
		}, []string{"workflow_type", "node_id", "kind"}),
	}
}

// ObserveStep records a node execution's duration and outcome.
func (m *Metrics) ObserveStep(workflowType, nodeID, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.stepLatency.WithLabelValues(workflowType, nodeID, status).Observe(float64(d.Milliseconds()))
}

// ObserveRetry increments the retry counter for a node.
func (m *Metrics) ObserveRetry(workflowType, nodeID string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(workflowType, nodeID).Inc()
}

// ObserveFailure increments the failure counter for a node, labeled by
// error kind.
func (m *Metrics) ObserveFailure(workflowType, nodeID, kind string) {
	if m == nil {
		return
	}
	m.nodesFailed.WithLabelValues(workflowType, nodeID, kind).Inc()
}
