package estimate

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// accumulator collects one impact category's per-run log-space samples
// across a Monte-Carlo run, weighted by each run's confidence score
// (spec.md §4.7 "weighted log-space geometric mean/stdev").
//
// Three run outcomes are spec-distinct (§4.7.5b-d) and handled
// differently: a "None" run (no characterized mass for this category) is
// rolled back and retried, tracked by consecutiveNull/rolledBack; a true
// zero impact or a sign flip against every previously committed value
// permanently disables the category for the rest of the run, since the
// geometric aggregator cannot take the log of zero or mix signs.
type accumulator struct {
	logValues []float64
	weights   []float64
	sign      float64 // 0 = not yet latched, else +1/-1 of every committed value

	disabled       bool
	disabledReason string

	consecutiveNull int
	rolledBack      int
}

func newAccumulator() *accumulator {
	return &accumulator{}
}

// add commits a non-None value (caller has already checked the recipe
// carried characterized mass for this category). It returns false when
// value permanently disables the category instead of being committed: an
// exact zero, or a sign flip against the latched sign of prior values.
func (a *accumulator) add(value, weight float64) bool {
	if a.disabled {
		return false
	}
	if value == 0 {
		a.disabled = true
		a.disabledReason = "impact is exactly zero for at least one run; geometric aggregation cannot continue for this category"
		return false
	}
	sign := 1.0
	if value < 0 {
		sign = -1.0
	}
	if a.sign == 0 {
		a.sign = sign
	} else if sign != a.sign {
		a.disabled = true
		a.disabledReason = "impact changed sign across runs"
		return false
	}
	a.consecutiveNull = 0
	a.logValues = append(a.logValues, math.Log(math.Abs(value)))
	a.weights = append(a.weights, weight)
	return true
}

// registerNone records a run whose recipe carried no characterized mass
// for this category (spec.md §4.7.5c): rolled back and retried, counted
// toward the consecutive-null budget the caller enforces.
func (a *accumulator) registerNone() {
	a.consecutiveNull++
	a.rolledBack++
}

func (a *accumulator) n() int {
	return len(a.logValues)
}

// summary is the finalized statistics for one impact category.
type summary struct {
	GeometricMean   float64
	GeometricStdDev float64
	Quantiles       map[float64]float64
	N               int
	RolledBack      int
	Converged       bool
	RelativeWidth   float64
	Disabled        bool
	DisabledReason  string
}

func (a *accumulator) finalize(confidenceLevel, intervalWidthTarget float64, quantilePoints []float64) summary {
	s := summary{
		N:              a.n(),
		RolledBack:     a.rolledBack,
		Quantiles:      make(map[float64]float64, len(quantilePoints)),
		Disabled:       a.disabled,
		DisabledReason: a.disabledReason,
	}
	if s.N == 0 {
		return s
	}

	sign := a.sign
	if sign == 0 {
		sign = 1
	}

	meanLog := stat.Mean(a.logValues, a.weights)
	meanAbs := math.Exp(meanLog)
	s.GeometricMean = sign * meanAbs

	if s.N > 1 {
		varLog := stat.Variance(a.logValues, a.weights)
		s.GeometricStdDev = math.Exp(math.Sqrt(varLog))

		se := math.Sqrt(varLog / float64(s.N))
		tDist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(s.N - 1)}
		tCrit := tDist.Quantile(1 - (1-confidenceLevel)/2)
		margin := tCrit * se
		low := math.Exp(meanLog - margin)
		high := math.Exp(meanLog + margin)
		if meanAbs > 0 {
			s.RelativeWidth = (high - low) / meanAbs
		}
		s.Converged = s.RelativeWidth <= intervalWidthTarget
	}

	sorted := append([]float64(nil), a.logValues...)
	sort.Float64s(sorted)
	for _, q := range quantilePoints {
		idx := int(q * float64(len(sorted)-1))
		if idx < 0 {
			idx = 0
		}
		if idx >= len(sorted) {
			idx = len(sorted) - 1
		}
		// sign is constant across every committed value, so scaling the
		// magnitude quantile by it preserves the same selected sample.
		s.Quantiles[q] = sign * math.Exp(sorted[idx])
	}

	return s
}
