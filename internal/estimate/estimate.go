// Package estimate is the Monte-Carlo Estimator (spec.md §4.7): it draws
// repeated recipes through internal/relax, accumulates each impact
// category's weighted log-space statistics, and stops once every category
// has converged to the requested confidence interval (or the run budget is
// exhausted).
package estimate

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/openfoodfacts/off-product-environmental-impact/internal/config"
	"github.com/openfoodfacts/off-product-environmental-impact/internal/impact"
	"github.com/openfoodfacts/off-product-environmental-impact/internal/preflight"
	"github.com/openfoodfacts/off-product-environmental-impact/internal/recipe"
	"github.com/openfoodfacts/off-product-environmental-impact/internal/reftables"
	"github.com/openfoodfacts/off-product-environmental-impact/internal/relax"
	"github.com/openfoodfacts/off-product-environmental-impact/internal/sampler"
)

// Reliability grades how trustworthy the whole result is: 1 is best, 4 is
// worst (spec.md §4.7, property P7 "reliability = 1 only when all three
// inputs are zero").
type Reliability int

const (
	ReliabilityHigh Reliability = iota + 1
	ReliabilityGood
	ReliabilityLow
	ReliabilityUnreliable
)

// blockerWarningCodes force reliability to ReliabilityUnreliable regardless
// of how small the other three inputs are (spec.md §4.7).
var blockerWarningCodes = map[string]bool{
	"no_recognized_nutriment_information": true,
}

// ImpactEstimate is the finalized result for one impact category.
type ImpactEstimate struct {
	Name                        string
	GeometricMean               float64
	GeometricStdDev             float64
	Quantiles                   map[float64]float64
	RelativeInterquartileRange  float64
	RunsUsed                    int
	RolledBack                  int
	Converged                   bool
	Warnings                    []string
	Distribution                []float64 // only populated when DistributionsAsResult is set
}

// Result is the full output of one Estimate call (spec.md §6).
type Result struct {
	ProductID  string
	Impacts    map[string]ImpactEstimate
	TotalRuns  int
	Nutriments map[string]float64

	IngredientsImpactsShare map[string]map[string]float64 // impact name -> original ingredient id -> share of total
	IngredientsMassShare    map[string]float64             // original ingredient id -> mean share of total used mass
	ImpactsUnits            map[string]string

	ProductQuantity float64
	ConstRelaxCoef  float64
	Warnings        []string

	Reliability Reliability

	IgnoredUnknownIngredients          []string
	UncharacterizedIngredientsNutrition []string
	UncharacterizedIngredientsImpact    []string
	UncharacterizedIngredientsRatio     float64
	UncharacterizedIngredientsMassProportion float64

	NumberOfIngredients    int
	AverageTotalUsedMass   float64
	CalculationTime        time.Duration
	DataSources            []string
}

// Estimator runs the Monte-Carlo loop for a fixed set of impact categories.
type Estimator struct {
	Tables      *reftables.Tables
	ImpactNames []string

	// OnRun, when set, is called after every completed Monte-Carlo run with
	// the run index and the current geometric mean per impact category,
	// letting a caller (e.g. the websocket progress stream) observe the
	// estimate converging without waiting for the final Result.
	OnRun func(run int, means map[string]float64)
}

// New returns an Estimator over the given impact categories.
func New(tables *reftables.Tables, impactNames []string) *Estimator {
	return &Estimator{Tables: tables, ImpactNames: impactNames}
}

// weightedMean is a running weighted average, used for every per-run
// statistic spec.md §4.7 defines as a "weighted mean across runs".
type weightedMean struct {
	sum       float64
	weightSum float64
}

func (w *weightedMean) add(value, weight float64) {
	w.sum += value * weight
	w.weightSum += weight
}

func (w *weightedMean) value() float64 {
	if w.weightSum == 0 {
		return 0
	}
	return w.sum / w.weightSum
}

// Estimate runs the Monte-Carlo loop for one already-preflighted product.
func (e *Estimator) Estimate(ctx context.Context, out *preflight.Outcome, params config.Params, seed int64) (Result, error) {
	start := time.Now()
	product := out.Product
	if out.MaximumEvaporation > params.MaximumEvaporation {
		params.MaximumEvaporation = out.MaximumEvaporation
	}

	sup := relax.New(sampler.New(e.Tables, seed))
	if out.DisableUseDefinedPercent {
		sup.Schedule = onlyUndefinedPercent(sup.Schedule)
	}
	impactRNG := rand.New(rand.NewSource(seed + 1))

	accs := make(map[string]*accumulator, len(e.ImpactNames))
	for _, name := range e.ImpactNames {
		accs[name] = newAccumulator()
	}

	leaves := recipe.Leaves(product.Ingredients)
	nutritionUnchar := make(map[string]bool)
	impactUnchar := make(map[string]bool)
	for _, leaf := range leaves {
		origID := recipe.OriginalID(leaf.ID)
		rec, ok := e.Tables.Lookup(origID)
		if !ok {
			nutritionUnchar[leaf.ID] = true
			impactUnchar[leaf.ID] = true
			continue
		}
		anyNutriment := false
		for _, key := range reftables.NutrimentKeys {
			if rec.HasNutriment(key) {
				anyNutriment = true
				break
			}
		}
		if !anyNutriment {
			nutritionUnchar[leaf.ID] = true
		}
		anyImpact := false
		for _, name := range e.ImpactNames {
			if rec.HasImpact(name) {
				anyImpact = true
				break
			}
		}
		if !anyImpact {
			impactUnchar[leaf.ID] = true
		}
	}

	maxRuns := params.MaxRunNb
	minRuns := params.MinRunNb
	if params.ForcedRunNb != nil {
		maxRuns = *params.ForcedRunNb
		minRuns = *params.ForcedRunNb
	}

	var consecutiveRecipeErrors int
	var runsUsed int
	var distributions map[string][]float64
	if params.DistributionsAsResult {
		distributions = make(map[string][]float64, len(e.ImpactNames))
	}

	var avgMass weightedMean
	var nutritionUncharMass, impactUncharMass weightedMean
	massShareByOriginalID := make(map[string]*weightedMean)
	impactShareByOriginalID := make(map[string]map[string]*weightedMean, len(e.ImpactNames))
	for _, name := range e.ImpactNames {
		impactShareByOriginalID[name] = make(map[string]*weightedMean)
	}
	var maxConstRelaxCoef float64
	var extraWarnings []string
	warnedSignFlipOrZero := make(map[string]bool)

	if len(product.Nutriments) == 0 {
		extraWarnings = append(extraWarnings, "no_recognized_nutriment_information")
	}

	for run := 0; run < maxRuns; run++ {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		default:
		}

		outcome, err := sup.Sample(ctx, product, params)
		if err != nil {
			consecutiveRecipeErrors++
			if consecutiveRecipeErrors >= params.MaxConsecutiveRecipeCreationError {
				return Result{}, fmt.Errorf("estimate aborted after %d consecutive recipe creation failures: %w", consecutiveRecipeErrors, err)
			}
			continue
		}
		consecutiveRecipeErrors = 0
		if outcome.Step.ConstRelaxCoef > maxConstRelaxCoef {
			maxConstRelaxCoef = outcome.Step.ConstRelaxCoef
		}

		weight := 1.0
		if params.ConfidenceWeighting {
			weight = outcome.Result.ConfidenceScore
			if weight <= 0 {
				weight = 1e-6
			}
		}

		type pendingCommit struct {
			name  string
			value float64
			shares map[string]float64
		}
		var pending []pendingCommit
		rolledBack := false

		for _, name := range e.ImpactNames {
			acc := accs[name]
			if acc.disabled {
				continue
			}
			res := impact.Calculate(impactRNG, outcome.Result.Masses, outcome.Result.TotalMass, name, e.Tables, params.UseIngredientsImpactUncertainty)
			if res.CharacterizedMass == 0 {
				// §4.7.5c: roll back this iteration. Only per-impact values
				// for categories computed BEFORE this one in iteration
				// order are discarded; categories after it in the list are
				// never reached this run. This asymmetry is spec.md's own
				// documented open question (§9), preserved faithfully.
				pending = nil
				acc.registerNone()
				if acc.consecutiveNull >= params.MaxConsecutiveNullImpactCharacterizedIngredientsMass {
					return Result{}, fmt.Errorf("%s: no characterized ingredients remain for impact category %q after %d consecutive rollbacks", product.ID, name, acc.consecutiveNull)
				}
				rolledBack = true
				break
			}
			pending = append(pending, pendingCommit{name: name, value: res.Total, shares: res.SharesByLeafID})
		}

		if rolledBack {
			continue
		}

		for _, pc := range pending {
			acc := accs[pc.name]
			committed := acc.add(pc.value, weight)
			if !committed && !warnedSignFlipOrZero[pc.name] {
				warnedSignFlipOrZero[pc.name] = true
				extraWarnings = append(extraWarnings, fmt.Sprintf("impact_category_disabled:%s", pc.name))
			}
			if !committed {
				continue
			}
			if distributions != nil {
				distributions[pc.name] = append(distributions[pc.name], pc.value)
			}
			if pc.value != 0 {
				shareTrackers := impactShareByOriginalID[pc.name]
				for leafID, v := range pc.shares {
					origID := recipe.OriginalID(leafID)
					t, ok := shareTrackers[origID]
					if !ok {
						t = &weightedMean{}
						shareTrackers[origID] = t
					}
					t.add(v/pc.value, weight)
				}
			}
		}
		runsUsed++

		avgMass.add(outcome.Result.TotalMass, weight)
		for leafID, mass := range outcome.Result.Masses {
			origID := recipe.OriginalID(leafID)
			t, ok := massShareByOriginalID[origID]
			if !ok {
				t = &weightedMean{}
				massShareByOriginalID[origID] = t
			}
			t.add(mass/outcome.Result.TotalMass, weight)
		}
		var runNutritionUncharMass, runImpactUncharMass float64
		for leafID, mass := range outcome.Result.Masses {
			if nutritionUnchar[leafID] {
				runNutritionUncharMass += mass
			}
			if impactUnchar[leafID] {
				runImpactUncharMass += mass
			}
		}
		if outcome.Result.TotalMass > 0 {
			nutritionUncharMass.add(runNutritionUncharMass/outcome.Result.TotalMass, weight)
			impactUncharMass.add(runImpactUncharMass/outcome.Result.TotalMass, weight)
		}

		if e.OnRun != nil {
			means := make(map[string]float64, len(accs))
			for name, acc := range accs {
				means[name] = acc.finalize(params.ConfidenceLevel, params.ConfidenceIntervalWidth, nil).GeometricMean
			}
			e.OnRun(runsUsed, means)
		}

		if params.ForcedRunNb == nil && runsUsed >= minRuns && allConverged(accs, params) {
			break
		}
	}

	impacts := make(map[string]ImpactEstimate, len(e.ImpactNames))
	units := make(map[string]string, len(e.ImpactNames))
	for _, name := range e.ImpactNames {
		for _, leaf := range leaves {
			if ref, ok := e.Tables.Impact(recipe.OriginalID(leaf.ID), name); ok {
				units[name] = ref.Unit
				break
			}
		}
	}
	for _, name := range e.ImpactNames {
		s := accs[name].finalize(params.ConfidenceLevel, params.ConfidenceIntervalWidth, params.QuantilesPoints)
		est := ImpactEstimate{
			Name:            name,
			GeometricMean:   s.GeometricMean,
			GeometricStdDev: s.GeometricStdDev,
			Quantiles:       s.Quantiles,
			RunsUsed:        s.N,
			RolledBack:      s.RolledBack,
			Converged:       s.Converged,
		}
		if s.N == 0 {
			est.Warnings = append(est.Warnings, "no characterized ingredient carries this impact category")
		}
		if s.Disabled {
			est.Warnings = append(est.Warnings, s.DisabledReason)
		}
		if !s.Converged && runsUsed >= maxRuns && s.N > 0 {
			est.Warnings = append(est.Warnings, "did not converge within the configured run budget")
		}
		if q1, ok1 := s.Quantiles[0.25]; ok1 {
			if q3, ok3 := s.Quantiles[0.75]; ok3 {
				if median, okM := s.Quantiles[0.5]; okM && median != 0 {
					est.RelativeInterquartileRange = (q3 - q1) / median
					if est.RelativeInterquartileRange > 0.25 {
						est.Warnings = append(est.Warnings, "interquartile range exceeds 25% of the median")
					}
				}
			}
		}
		if distributions != nil {
			est.Distribution = distributions[name]
		}
		impacts[name] = est
	}

	ingredientsImpactsShare := make(map[string]map[string]float64, len(e.ImpactNames))
	for name, trackers := range impactShareByOriginalID {
		m := make(map[string]float64, len(trackers))
		for id, t := range trackers {
			m[id] = t.value()
		}
		ingredientsImpactsShare[name] = m
	}
	ingredientsMassShare := make(map[string]float64, len(massShareByOriginalID))
	for id, t := range massShareByOriginalID {
		ingredientsMassShare[id] = t.value()
	}

	nutritionUncharIDs := sortedOriginalIDs(nutritionUnchar)
	impactUncharIDs := sortedOriginalIDs(impactUnchar)

	nutritionProp := nutritionUncharMass.value()
	impactProp := impactUncharMass.value()
	ignoredRatio := out.IgnoredUnknownRatio()

	warnings := make([]string, 0, len(out.Warnings)+len(extraWarnings))
	codes := make([]string, 0, len(out.Warnings))
	for _, w := range out.Warnings {
		warnings = append(warnings, w.Message)
		codes = append(codes, w.Code)
	}
	warnings = append(warnings, extraWarnings...)
	codes = append(codes, extraWarnings...)

	reliability := computeReliability(maxConstRelaxCoef, nutritionProp, impactProp, ignoredRatio, codes)

	return Result{
		ProductID:  product.ID,
		Impacts:    impacts,
		TotalRuns:  runsUsed,
		Nutriments: product.Nutriments,

		IngredientsImpactsShare: ingredientsImpactsShare,
		IngredientsMassShare:    ingredientsMassShare,
		ImpactsUnits:            units,

		ProductQuantity: params.Quantity,
		ConstRelaxCoef:  maxConstRelaxCoef,
		Warnings:        warnings,

		Reliability: reliability,

		IgnoredUnknownIngredients:               out.IgnoredUnknownIngredients,
		UncharacterizedIngredientsNutrition:     nutritionUncharIDs,
		UncharacterizedIngredientsImpact:        impactUncharIDs,
		UncharacterizedIngredientsRatio:         ignoredRatio,
		UncharacterizedIngredientsMassProportion: maxFloat(nutritionProp, impactProp),

		NumberOfIngredients:  len(leaves),
		AverageTotalUsedMass: avgMass.value(),
		CalculationTime:      time.Since(start),
		DataSources:          e.Tables.DataSources,
	}, nil
}

// allConverged reports whether every impact category has either converged
// to its requested confidence interval or given up (exhausted its
// consecutive-null-impact budget, or permanently disabled by a zero/sign
// flip), in which case it no longer blocks the other categories from
// ending the run.
func allConverged(accs map[string]*accumulator, params config.Params) bool {
	for _, acc := range accs {
		if acc.disabled {
			continue
		}
		if acc.consecutiveNull >= params.MaxConsecutiveNullImpactCharacterizedIngredientsMass {
			continue
		}
		if acc.n() < 2 {
			return false
		}
		s := acc.finalize(params.ConfidenceLevel, params.ConfidenceIntervalWidth, params.QuantilesPoints)
		if !s.Converged {
			return false
		}
	}
	return true
}

// computeReliability is spec.md §4.7's single overall reliability score, a
// function of the relaxation coefficient actually used, the nutrition and
// impact uncharacterized-mass proportions, and the ignored-unknown ratio.
func computeReliability(relax, nutritionProp, impactProp, ignoredRatio float64, warningCodes []string) Reliability {
	for _, code := range warningCodes {
		if blockerWarningCodes[code] {
			return ReliabilityUnreliable
		}
	}
	if relax > 0.05 {
		return ReliabilityUnreliable
	}
	switch {
	case nutritionProp == 0 && impactProp == 0 && ignoredRatio == 0 && relax == 0:
		return ReliabilityHigh
	case nutritionProp <= 0.05 && impactProp <= 0.05 && ignoredRatio <= 0.05 && relax == 0:
		return ReliabilityGood
	case nutritionProp <= 0.25 && impactProp <= 0.25 && ignoredRatio <= 0.25 && relax <= 0.05:
		return ReliabilityLow
	default:
		return ReliabilityUnreliable
	}
}

func sortedOriginalIDs(set map[string]bool) []string {
	seen := make(map[string]bool, len(set))
	var out []string
	for id := range set {
		origID := recipe.OriginalID(id)
		if seen[origID] {
			continue
		}
		seen[origID] = true
		out = append(out, origID)
	}
	return out
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// onlyUndefinedPercent narrows a relaxation schedule to the steps that
// don't pin declared percentages, preserving their relative order, for
// products whose declared label order can't be trusted (spec.md §8
// scenario S6).
func onlyUndefinedPercent(schedule []config.RelaxationStep) []config.RelaxationStep {
	out := make([]config.RelaxationStep, 0, len(schedule))
	for _, step := range schedule {
		if !step.UseDefinedPercent {
			out = append(out, step)
		}
	}
	return out
}
