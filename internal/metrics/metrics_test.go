package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestNodeFinishedRecordsLatencyAndNoErrors(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.NodeStarted("task-1", "write", 0)
	m.NodeFinished("task-1", "write", 0, nil)

	families, err := registry.Gather()
	require.NoError(t, err)

	hist := findMetric(families, "contentpipeline_step_latency_ms")
	require.NotNil(t, hist, "expected step_latency_ms to be recorded")
	require.EqualValues(t, 1, hist.GetHistogram().GetSampleCount())

	counter := findMetric(families, "contentpipeline_step_errors_total")
	require.Nil(t, counter, "no node failed, so no error counter should exist yet")
}

func TestNodeFinishedWithErrorIncrementsErrorCounter(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.NodeStarted("task-2", "checkText", 0)
	m.NodeFinished("task-2", "checkText", 0, require.AnError)

	families, err := registry.Gather()
	require.NoError(t, err)

	counter := findMetric(families, "contentpipeline_step_errors_total")
	require.NotNil(t, counter)
	require.InDelta(t, 1, counter.GetCounter().GetValue(), 0)
}

func TestNodeFinishedWithoutMatchingStartIsIgnored(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	// No NodeStarted call for this key: NodeFinished must not panic or
	// record a bogus latency sample.
	m.NodeFinished("task-3", "unknown", 0, nil)

	families, err := registry.Gather()
	require.NoError(t, err)
	require.Nil(t, findMetric(families, "contentpipeline_step_latency_ms"))
}

func findMetric(families []*dto.MetricFamily, name string) *dto.Metric {
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		if len(f.Metric) == 0 {
			return nil
		}
		return f.Metric[0]
	}
	return nil
}
