package constraints

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfoodfacts/off-product-environmental-impact/internal/recipe"
	"github.com/openfoodfacts/off-product-environmental-impact/internal/reftables"
	"github.com/openfoodfacts/off-product-environmental-impact/internal/solver"
)

func pct(v float64) *float64 { return &v }
func rankOf(v int) *int      { return &v }

func twoLeafProduct() *recipe.Product {
	p := recipe.NewProduct("prod-two-leaf")
	p.Ingredients = []*recipe.Node{
		{ID: "en:water", Rank: rankOf(1)},
		{ID: "en:sugar", Rank: rankOf(2)},
	}
	return p
}

func baseOptions() Options {
	return Options{
		Quantity:           100,
		MaximumEvaporation: 0.4,
	}
}

// P1/I1: every leaf's share of the total pre-processing mass sums to 100%,
// a model with no declared percentages or nutritional info is feasible.
func TestBuildFeasibleRecipeLeavesSumTo100Percent(t *testing.T) {
	product := twoLeafProduct()
	tables := reftables.NewTables()

	built, err := Build(product, tables, baseOptions())
	require.NoError(t, err)

	built.Model.SetObjective(nil, 0)
	sol, err := built.Model.Minimize(context.Background(), solver.SolveOptions{})
	require.NoError(t, err)
	assert.Equal(t, solver.StatusOptimal, sol.Status)

	sum := 0.0
	for _, idx := range built.VarByLeafID {
		sum += sol.Values[idx]
	}
	assert.InDelta(t, 100.0, sum, 1e-6)
}

// I7 / review comment 2 & 3 groundwork: a declared percentage with
// const_relax_coef 0 pins the leaf's variable to exactly that value,
// regardless of the objective.
func TestBuildPinsDeclaredPercentageWithZeroRelaxCoef(t *testing.T) {
	product := twoLeafProduct()
	product.Ingredients[0].Percent = pct(60)
	tables := reftables.NewTables()

	opts := baseOptions()
	opts.UseDefinedPercent = true
	opts.ConstRelaxCoef = 0

	built, err := Build(product, tables, opts)
	require.NoError(t, err)

	idx := built.VarByLeafID["en:water"]
	built.Model.SetObjective(map[int]float64{idx: 1}, 0)

	minSol, err := built.Model.Minimize(context.Background(), solver.SolveOptions{})
	require.NoError(t, err)
	assert.InDelta(t, 60.0, minSol.Values[idx], 1e-6)

	maxSol, err := built.Model.Maximize(context.Background(), solver.SolveOptions{})
	require.NoError(t, err)
	assert.InDelta(t, 60.0, maxSol.Values[idx], 1e-6)
}

// review comment 2: total_mass_used pins m to that single value, bypassing
// the sampler's mass-choice step entirely.
func TestBuildPinsTotalMassUsedToExactValue(t *testing.T) {
	product := twoLeafProduct()
	tables := reftables.NewTables()

	opts := baseOptions()
	pinned := 110.0
	opts.TotalMassUsed = &pinned

	built, err := Build(product, tables, opts)
	require.NoError(t, err)

	lower, upper := built.Model.VarBounds(built.MassVar)
	assert.Equal(t, 110.0, lower)
	assert.Equal(t, 110.0, upper)
}

// review comment 3: allow_unbalanced_recipe lowers m's quantity lower
// bound (down to 0.5*quantity) and removes its evaporation-derived upper bound
// (up to +Inf), instead of being silently ignored.
func TestMassBoundsAllowUnbalancedRecipeRelaxesBothBounds(t *testing.T) {
	opts := Options{Quantity: 100, MaximumEvaporation: 0.4, AllowUnbalancedRecipe: true}
	lower, upper := massBounds(opts)
	assert.Equal(t, 50.0, lower)
	assert.True(t, math.IsInf(upper, 1))
}

func TestMassBoundsDefaultBalancedRecipe(t *testing.T) {
	lower, upper := massBounds(Options{Quantity: 100, MaximumEvaporation: 0.4})
	assert.Equal(t, 100.0, lower)
	assert.InDelta(t, 100.0/0.6, upper, 1e-9)
}

func TestMassBoundsTotalMassUsedTakesPrecedenceOverUnbalanced(t *testing.T) {
	pinned := 120.0
	lower, upper := massBounds(Options{Quantity: 100, MaximumEvaporation: 0.4, AllowUnbalancedRecipe: true, TotalMassUsed: &pinned})
	assert.Equal(t, 120.0, lower)
	assert.Equal(t, 120.0, upper)
}
