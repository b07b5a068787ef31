// Package sampler is the Random Recipe Sampler (spec.md §4.4): given a
// product's ingredient tree and a set of estimator parameters, it builds
// one constraint model, pins every leaf's share of the total mass exactly
// once via a shuffled bound-query-then-sample-then-freeze pass, and only
// afterward resolves the one remaining free variable — the total
// pre-processing mass m — by bound-querying it and, when its range is
// wide, grid-scanning it to maximize the confidence score.
package sampler

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/openfoodfacts/off-product-environmental-impact/internal/config"
	"github.com/openfoodfacts/off-product-environmental-impact/internal/confidence"
	"github.com/openfoodfacts/off-product-environmental-impact/internal/constraints"
	"github.com/openfoodfacts/off-product-environmental-impact/internal/recipe"
	"github.com/openfoodfacts/off-product-environmental-impact/internal/reftables"
	"github.com/openfoodfacts/off-product-environmental-impact/internal/solver"
)

// dropOrderLimitPercent is DECREASING_PROPORTION_ORDER_LIMIT (spec.md
// glossary, §4.4 step 3): a freshly pinned top-level share at or below this
// threshold drops the declared-order constraint from its rank onward,
// since the original declared order carries no information once shares
// get this small.
const dropOrderLimitPercent = 2.0

// massGridStepThresholdFraction decides when m's bound-queried range counts
// as "narrower than the distribution step" (spec.md §4.4 step 4): below
// this fraction of quantity, the midpoint is used directly instead of
// grid-scanning.
const massGridStepThresholdFraction = 0.01

// Sampler draws random recipes for one run of the estimator. It is not
// safe for concurrent use; the Monte-Carlo Estimator creates one per
// Estimate call, seeded from that call's seed (spec.md §4.7).
type Sampler struct {
	Tables *reftables.Tables
	RNG    *rand.Rand

	MaxRejectAttempts   int
	TotalMassGridPoints int
}

// New returns a Sampler seeded deterministically from seed.
func New(tables *reftables.Tables, seed int64) *Sampler {
	return &Sampler{
		Tables:              tables,
		RNG:                 rand.New(rand.NewSource(seed)),
		MaxRejectAttempts:   50,
		TotalMassGridPoints: 25,
	}
}

// Result is one sampled recipe.
type Result struct {
	Masses          map[string]float64 // individualized leaf id -> mass, grams
	TotalMass       float64
	Evaporation     float64
	ConfidenceScore float64
}

// RandomRecipe draws one recipe for product under params and the given
// relaxation step. dropFromRank disables the declared-order constraint from
// that top-level rank onward (0 means every rank pair stays ordered); the
// Relaxation Supervisor raises it as a last-resort structural relaxation
// when no (use_defined_prct, const_relax_coef) schedule step succeeds
// (spec.md §4.4 "drop-decreasing-from-rank").
func (s *Sampler) RandomRecipe(ctx context.Context, product *recipe.Product, params config.Params, step config.RelaxationStep, dropFromRank int) (Result, error) {
	leaves := recipe.Leaves(product.Ingredients)
	if len(leaves) == 0 {
		return Result{}, errors.New("product has no leaf ingredients to sample")
	}
	assignRanks(product.Ingredients)

	opts := constraints.Options{
		Quantity:               params.Quantity,
		MaximumEvaporation:     params.MaximumEvaporation,
		UseDefinedPercent:      step.UseDefinedPercent,
		UseNutritionalInfo:     params.UseNutritionalInfo,
		ConstRelaxCoef:         step.ConstRelaxCoef,
		DropDecreasingFromRank: dropFromRank,
		AllowUnbalancedRecipe:  params.AllowUnbalancedRecipe,
		TotalMassUsed:          params.TotalMassUsed,
	}
	built, err := constraints.Build(product, s.Tables, opts)
	if err != nil {
		return Result{}, err
	}

	solveOpts := solver.SolveOptions{
		DualGapType:           params.DualGapType,
		DualGapLimit:          params.DualGapLimit,
		TimeLimit:             time.Duration(params.SolverTimeLimitSeconds * float64(time.Second)),
		TimeLimitDualGapLimit: params.TimeLimitDualGapLimit,
	}

	// Step 2-3: shuffle the leaves once, then pin each one's share in turn
	// via bound-query, sample, freeze. The last leaf is left unpinned: by
	// the time every other leaf is frozen, I1 (leaves sum to 100%) already
	// forces its value to a single point.
	order := s.RNG.Perm(len(leaves))
	for _, idx := range order[:len(order)-1] {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		default:
		}

		leaf := leaves[idx]
		varIdx := built.VarByLeafID[leaf.ID]

		lower, upper, err := queryBounds(built.Model, varIdx, solveOpts)
		if err != nil {
			return Result{}, err
		}

		percentSamples := s.percentSamplesFor(leaf.ID, product.CategoriesTags, params.MinPercentDistSize)
		sampledPct := SampleKDE(s.RNG, percentSamples, lower, upper, s.MaxRejectAttempts)
		built.Model.SetVariableBounds(varIdx, sampledPct, sampledPct)

		if sampledPct <= dropOrderLimitPercent && leaf.Rank != nil {
			constraints.DropDecreasingFromRank(built, product.Ingredients, *leaf.Rank)
		}
	}

	built.Model.SetObjective(nil, 0)
	sol, err := built.Model.Minimize(ctx, solveOpts)
	if err != nil {
		return Result{}, err
	}
	percentages := make(map[string]float64, len(leaves))
	for _, leaf := range leaves {
		percentages[leaf.ID] = sol.Values[built.VarByLeafID[leaf.ID]]
	}

	// Step 4-5: m is the only variable left free. Bound-query it and, if
	// its range is wide, grid-scan it to maximize the confidence score
	// computed from the now-fixed percentages (allow_unbalanced_recipe's
	// bound relaxation was already baked into m's bounds by constraints.Build).
	totalMass, score, err := s.pickTotalMass(built, product, params, percentages, solveOpts)
	if err != nil {
		return Result{}, err
	}

	masses := make(map[string]float64, len(leaves))
	for id, pct := range percentages {
		masses[id] = pct / 100 * totalMass
	}

	return Result{Masses: masses, TotalMass: totalMass, Evaporation: built.Evaporation(totalMass), ConfidenceScore: score}, nil
}

// pickTotalMass resolves m (spec.md §4.4 step 4). When total_mass_used is
// set, constraints.Build already pinned m's bounds to that single value, so
// the bound-query below degenerates to returning it directly — matching
// the original's _pick_total_mass short-circuit.
func (s *Sampler) pickTotalMass(built *constraints.Built, product *recipe.Product, params config.Params, percentages map[string]float64, solveOpts solver.SolveOptions) (float64, float64, error) {
	lower, upper, err := queryBounds(built.Model, built.MassVar, solveOpts)
	if err != nil {
		return 0, 0, err
	}

	if upper-lower <= massGridStepThresholdFraction*params.Quantity {
		mid := (lower + upper) / 2
		score, _ := s.scoreAt(percentages, mid, lower, upper, product, params)
		return mid, score, nil
	}

	points := s.TotalMassGridPoints
	if points < 2 {
		points = 2
	}
	gridStep := (upper - lower) / float64(points-1)

	bestScore := math.Inf(-1)
	var bestMass float64
	found := false
	for i := 0; i < points; i++ {
		candidate := lower + float64(i)*gridStep
		score, ok := s.scoreAt(percentages, candidate, lower, upper, product, params)
		if !ok {
			continue
		}
		if score > bestScore {
			bestScore = score
			bestMass = candidate
			found = true
		}
	}
	if !found {
		return 0, 0, &solver.RecipeCreationError{Reason: "no candidate total mass scored within the feasible range"}
	}
	return bestMass, bestScore, nil
}

// scoreAt computes the confidence score (spec.md §4.6) at one candidate
// total mass, holding percentages fixed. ok is false when the nutritional
// squared difference exceeded 1 (confidence.ErrOutOfRange): the caller
// skips this candidate (spec.md §4.4.4, §7 NumericDegeneracy).
func (s *Sampler) scoreAt(percentages map[string]float64, candidateMass float64, lower, upper float64, product *recipe.Product, params config.Params) (float64, bool) {
	if !params.UseNutritionalInfo || len(product.Nutriments) == 0 {
		return 1, true
	}
	masses := make(map[string]float64, len(percentages))
	for id, pct := range percentages {
		masses[id] = pct / 100 * candidateMass
	}
	nutri := recipe.Nutriments(masses, candidateMass, s.Tables)
	score, err := confidence.Score(confidence.Input{
		Nutri:           nutri,
		RefNutri:        product.Nutriments,
		TotalMass:       candidateMass,
		MinMass:         lower,
		MaxMass:         upper,
		WeightingFactor: params.ConfidenceScoreWeightingFactor,
	})
	if err != nil {
		return 0, false
	}
	return score, true
}

// queryBounds solves min and max of a single variable under the model's
// current constraints, mirroring _get_variable_bounds.
func queryBounds(m *solver.Model, varIdx int, opts solver.SolveOptions) (float64, float64, error) {
	m.SetObjective(map[int]float64{varIdx: 1}, 0)
	minSol, err := m.Minimize(context.Background(), opts)
	if err != nil {
		return 0, 0, err
	}
	maxSol, err := m.Maximize(context.Background(), opts)
	if err != nil {
		return 0, 0, err
	}
	return minSol.Values[varIdx], maxSol.Values[varIdx], nil
}

func (s *Sampler) percentSamplesFor(leafID string, categoriesTags []string, minSize int) []float64 {
	origID := recipe.OriginalID(leafID)
	rows := s.Tables.PercentDist[origID]
	if len(rows) == 0 {
		return nil
	}
	narrowed := narrowByCategory(rows, categoriesTags, minSize)
	values := make([]float64, len(narrowed))
	for i, r := range narrowed {
		values[i] = r.Percent
	}
	return values
}

// assignRanks assigns a 1-based rank to every top-level node lacking one,
// in declared order.
func assignRanks(nodes []*recipe.Node) {
	for i, n := range nodes {
		if n.Rank == nil {
			r := i + 1
			n.Rank = &r
		}
	}
}
