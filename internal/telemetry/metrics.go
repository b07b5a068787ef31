// Package telemetry exposes the estimator's operational metrics through
// prometheus/client_golang, covering the same categories the teacher's
// metrics collector tracks (provider/solver health, cache hit rate,
// pipeline latency) against this module's own pipeline stages instead of
// exchange providers.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the full set of counters/histograms/gauges one process
// registers once at startup and shares across every estimate run.
type Metrics struct {
	EstimateRuns       *prometheus.CounterVec
	EstimateDuration   *prometheus.HistogramVec
	SamplerAttempts    *prometheus.CounterVec
	SolverOutcomes     *prometheus.CounterVec
	RelaxationSteps    prometheus.Histogram
	ConvergedRuns      *prometheus.CounterVec
	PercentCacheHits   prometheus.Counter
	PercentCacheMisses prometheus.Counter
	ReftablesLoadAge   prometheus.Gauge
}

// NewMetrics constructs and registers every metric against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EstimateRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "impact",
			Name:      "estimate_runs_total",
			Help:      "Number of completed Estimate calls, by outcome.",
		}, []string{"outcome"}),
		EstimateDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "impact",
			Name:      "estimate_duration_seconds",
			Help:      "Wall-clock duration of Estimate calls.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"product_category"}),
		SamplerAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "impact",
			Name:      "sampler_attempts_total",
			Help:      "Random recipe sampler attempts, by result.",
		}, []string{"result"}),
		SolverOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "impact",
			Name:      "solver_outcomes_total",
			Help:      "LP solve outcomes, by status.",
		}, []string{"status"}),
		RelaxationSteps: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "impact",
			Name:      "relaxation_steps_taken",
			Help:      "Number of relaxation schedule steps tried before a recipe draw succeeded.",
			Buckets:   prometheus.LinearBuckets(0, 2, 12),
		}),
		ConvergedRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "impact",
			Name:      "impact_category_converged_total",
			Help:      "Impact categories that converged to the requested confidence interval, by category.",
		}, []string{"impact"}),
		PercentCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "impact",
			Name:      "percent_distribution_cache_hits_total",
			Help:      "Redis cache hits serving an ingredient's empirical percentage distribution.",
		}),
		PercentCacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "impact",
			Name:      "percent_distribution_cache_misses_total",
			Help:      "Redis cache misses serving an ingredient's empirical percentage distribution.",
		}),
		ReftablesLoadAge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "impact",
			Name:      "reftables_last_load_age_seconds",
			Help:      "Seconds since the reference tables were last (re)loaded from Postgres.",
		}),
	}

	reg.MustRegister(
		m.EstimateRuns,
		m.EstimateDuration,
		m.SamplerAttempts,
		m.SolverOutcomes,
		m.RelaxationSteps,
		m.ConvergedRuns,
		m.PercentCacheHits,
		m.PercentCacheMisses,
		m.ReftablesLoadAge,
	)
	return m
}

// ObserveEstimate records one completed Estimate call.
func (m *Metrics) ObserveEstimate(category string, outcome string, duration time.Duration) {
	m.EstimateRuns.WithLabelValues(outcome).Inc()
	m.EstimateDuration.WithLabelValues(category).Observe(duration.Seconds())
}

// ObserveSolve records one LP solve outcome.
func (m *Metrics) ObserveSolve(status string) {
	m.SolverOutcomes.WithLabelValues(status).Inc()
}

// ObserveSample records one sampler attempt result ("ok" or "relaxable_error").
func (m *Metrics) ObserveSample(result string) {
	m.SamplerAttempts.WithLabelValues(result).Inc()
}

// ObserveRelaxationSteps records how many schedule steps a successful draw
// consumed.
func (m *Metrics) ObserveRelaxationSteps(steps int) {
	m.RelaxationSteps.Observe(float64(steps))
}

// ObserveConvergence records a converged impact category.
func (m *Metrics) ObserveConvergence(impactName string) {
	m.ConvergedRuns.WithLabelValues(impactName).Inc()
}

// SetReftablesLoadAge records how long ago the reference tables were loaded.
func (m *Metrics) SetReftablesLoadAge(age time.Duration) {
	m.ReftablesLoadAge.Set(age.Seconds())
}
