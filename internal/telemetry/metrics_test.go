package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Collector) float64 {
	t.Helper()
	ch := make(chan prometheus.Metric, 1)
	c.Collect(ch)
	m := &dto.Metric{}
	require.NoError(t, (<-ch).Write(m))
	return m.GetCounter().GetValue()
}

func TestNewMetricsRegistersEveryCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	families, err := reg.Gather()
	require.NoError(t, err)
	// Gather reports only collectors that have emitted a sample: the five
	// label vectors have no children yet, leaving the four plain metrics.
	assert.Len(t, families, 4)
	assert.NotNil(t, m.EstimateRuns)
}

func TestObserveEstimateIncrementsCounterAndHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveEstimate("en:beverages", "ok", 2*time.Second)

	assert.Equal(t, 1.0, counterValue(t, m.EstimateRuns.WithLabelValues("ok")))
}

func TestObserveSampleAndConvergence(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveSample("ok")
	m.ObserveSample("ok")
	m.ObserveConvergence("carbon_footprint")

	assert.Equal(t, 2.0, counterValue(t, m.SamplerAttempts.WithLabelValues("ok")))
	assert.Equal(t, 1.0, counterValue(t, m.ConvergedRuns.WithLabelValues("carbon_footprint")))
}

func TestSetReftablesLoadAge(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.SetReftablesLoadAge(90 * time.Minute)

	ch := make(chan prometheus.Metric, 1)
	m.ReftablesLoadAge.Collect(ch)
	out := &dto.Metric{}
	require.NoError(t, (<-ch).Write(out))
	assert.InDelta(t, 5400.0, out.GetGauge().GetValue(), 1e-9)
}
