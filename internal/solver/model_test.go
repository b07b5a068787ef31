package solver

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultOpts() SolveOptions {
	return SolveOptions{
		DualGapType:           "absolute",
		DualGapLimit:          1e-3,
		TimeLimit:             5 * time.Second,
		TimeLimitDualGapLimit: 0.01,
	}
}

func TestMinimizeSimpleBoundedProblem(t *testing.T) {
	m := NewModel()
	x := m.AddVariable("x", 0, 10)
	y := m.AddVariable("y", 0, 10)
	m.AddConstraint("sum", map[int]float64{x: 1, y: 1}, GE, 4)
	m.SetObjective(map[int]float64{x: 1, y: 2}, 0)

	sol, err := m.Minimize(context.Background(), defaultOpts())
	require.NoError(t, err)
	assert.Equal(t, StatusOptimal, sol.Status)
	assert.InDelta(t, 4.0, sol.ObjectiveValue, 1e-6)
	assert.InDelta(t, 4.0, sol.Values[x], 1e-6)
	assert.InDelta(t, 0.0, sol.Values[y], 1e-6)
}

func TestMaximizeRespectsUpperBound(t *testing.T) {
	m := NewModel()
	x := m.AddVariable("x", 0, 5)
	m.AddConstraint("cap", map[int]float64{x: 1}, LE, 100)
	m.SetObjective(map[int]float64{x: 1}, 0)

	sol, err := m.Maximize(context.Background(), defaultOpts())
	require.NoError(t, err)
	assert.Equal(t, StatusOptimal, sol.Status)
	assert.InDelta(t, 5.0, sol.Values[x], 1e-6)
}

func TestInfeasibleReturnsRecipeCreationError(t *testing.T) {
	m := NewModel()
	x := m.AddVariable("x", 0, 1)
	m.AddConstraint("lower", map[int]float64{x: 1}, GE, 5)
	m.SetObjective(map[int]float64{x: 1}, 0)

	_, err := m.Minimize(context.Background(), defaultOpts())
	require.Error(t, err)
	var rce *RecipeCreationError
	assert.ErrorAs(t, err, &rce)
}

func TestDeleteConstraintRelaxesModel(t *testing.T) {
	m := NewModel()
	x := m.AddVariable("x", 0, 1)
	id := m.AddConstraint("lower", map[int]float64{x: 1}, GE, 5)
	m.SetObjective(map[int]float64{x: 1}, 0)

	_, err := m.Minimize(context.Background(), defaultOpts())
	require.Error(t, err)

	m.DeleteConstraint(id)
	sol, err := m.Minimize(context.Background(), defaultOpts())
	require.NoError(t, err)
	assert.Equal(t, StatusOptimal, sol.Status)
	assert.InDelta(t, 0.0, sol.Values[x], 1e-6)
}

func TestEqualityConstraint(t *testing.T) {
	m := NewModel()
	x := m.AddVariable("x", 0, 10)
	y := m.AddVariable("y", 0, 10)
	m.AddConstraint("eq", map[int]float64{x: 1, y: 1}, EQ, 7)
	m.SetObjective(map[int]float64{x: 1}, 0)

	sol, err := m.Minimize(context.Background(), defaultOpts())
	require.NoError(t, err)
	assert.InDelta(t, 0.0, sol.Values[x], 1e-6)
	assert.InDelta(t, 7.0, sol.Values[y], 1e-6)
}
