// Package solver is the Feasibility Solver Adapter (spec.md §4.3): a thin,
// backend-agnostic LP modeling surface (add_variable / add_constraint /
// delete_constraint / minimize / maximize) backed by a hand-rolled
// bounded-variable two-phase simplex engine. No pure-Go LP library and no
// portable cgo binding (lp_solve, GLPK, CLP) exists in the dependency pack,
// so the engine itself is implemented here rather than wrapped; see
// DESIGN.md for the full justification.
package solver

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Sense is a constraint's relational operator.
type Sense int

const (
	LE Sense = iota
	GE
	EQ
)

// Status is the outcome of a solve call (spec.md §4.3 "Solver status").
type Status int

const (
	StatusOptimal Status = iota
	StatusGapLimit
	StatusTimeLimit
	StatusInfeasible
	StatusUnbounded
)

func (s Status) String() string {
	switch s {
	case StatusOptimal:
		return "optimal"
	case StatusGapLimit:
		return "gap_limit"
	case StatusTimeLimit:
		return "time_limit"
	case StatusInfeasible:
		return "infeasible"
	case StatusUnbounded:
		return "unbounded"
	default:
		return "unknown"
	}
}

// RecipeCreationError is raised when the model is provably infeasible:
// no recipe satisfies the active constraints (spec.md §4.3, §4.4).
type RecipeCreationError struct {
	Reason string
}

func (e *RecipeCreationError) Error() string {
	return fmt.Sprintf("recipe creation error: %s", e.Reason)
}

// SolverTimeoutError is raised when the solver hits its wall-clock budget
// without reaching a dual gap within TimeLimitDualGapLimit.
type SolverTimeoutError struct {
	Elapsed time.Duration
}

func (e *SolverTimeoutError) Error() string {
	return fmt.Sprintf("solver timed out after %s without an acceptable gap", e.Elapsed)
}

// Variable is one bounded decision variable. Lower must be finite and >= 0;
// this adapter only ever models naturally non-negative quantities (masses,
// percentages, an evaporation coefficient), so free variables are not
// supported.
type Variable struct {
	Name  string
	Lower float64
	Upper float64 // math.Inf(1) for unbounded above
}

// Constraint is one linear constraint over variable indices.
type Constraint struct {
	id     int
	Name   string
	Coeffs map[int]float64 // variable index -> coefficient
	Sense  Sense
	RHS    float64
}

// Model is a mutable LP model: variables are append-only, constraints can
// be added and deleted between solves (spec.md §4.4 "drop-decreasing-from-rank").
type Model struct {
	vars        []Variable
	constraints map[int]*Constraint
	nextID      int
	objective   map[int]float64
	objConst    float64
}

// NewModel returns an empty model.
func NewModel() *Model {
	return &Model{
		constraints: make(map[int]*Constraint),
		objective:   make(map[int]float64),
	}
}

// AddVariable registers a new bounded variable and returns its index.
func (m *Model) AddVariable(name string, lower, upper float64) int {
	m.vars = append(m.vars, Variable{Name: name, Lower: lower, Upper: upper})
	return len(m.vars) - 1
}

// AddConstraint registers a new constraint and returns its id, used later
// with DeleteConstraint.
func (m *Model) AddConstraint(name string, coeffs map[int]float64, sense Sense, rhs float64) int {
	id := m.nextID
	m.nextID++
	cp := make(map[int]float64, len(coeffs))
	for k, v := range coeffs {
		cp[k] = v
	}
	m.constraints[id] = &Constraint{id: id, Name: name, Coeffs: cp, Sense: sense, RHS: rhs}
	return id
}

// DeleteConstraint removes a constraint by id. Deleting an id that is not
// present is a no-op, matching the idempotent relaxation-schedule usage.
func (m *Model) DeleteConstraint(id int) {
	delete(m.constraints, id)
}

// SetObjective replaces the current objective: minimize/maximize
// sum(coeffs[i] * x_i) + constant.
func (m *Model) SetObjective(coeffs map[int]float64, constant float64) {
	m.objective = make(map[int]float64, len(coeffs))
	for k, v := range coeffs {
		m.objective[k] = v
	}
	m.objConst = constant
}

// VarBounds returns the current [lower, upper] of variable i.
func (m *Model) VarBounds(i int) (float64, float64) {
	return m.vars[i].Lower, m.vars[i].Upper
}

// SetVariableBounds narrows (or widens) variable i's bounds in place. The
// sampler uses this to pin one ingredient at a time to a sampled value
// between successive feasibility solves, mirroring the adapter's pyscipopt
// analogue of reassigning a variable's lb/ub.
func (m *Model) SetVariableBounds(i int, lower, upper float64) {
	m.vars[i].Lower = lower
	m.vars[i].Upper = upper
}

// NumVariables returns how many variables have been registered.
func (m *Model) NumVariables() int {
	return len(m.vars)
}

// SolveOptions controls termination (spec.md §4.3 "tolerances").
type SolveOptions struct {
	DualGapType           string // "absolute" or "relative"
	DualGapLimit          float64
	TimeLimit             time.Duration
	TimeLimitDualGapLimit float64
}

// Solution is the result of a successful or partially-successful solve.
type Solution struct {
	Status         Status
	Values         []float64 // one entry per variable, in AddVariable order
	ObjectiveValue float64
	Gap            float64
}

// Minimize solves the model to minimize the current objective.
func (m *Model) Minimize(ctx context.Context, opts SolveOptions) (Solution, error) {
	return m.solve(ctx, opts, false)
}

// Maximize solves the model to maximize the current objective.
func (m *Model) Maximize(ctx context.Context, opts SolveOptions) (Solution, error) {
	return m.solve(ctx, opts, true)
}

func (m *Model) solve(ctx context.Context, opts SolveOptions, maximize bool) (Solution, error) {
	obj := m.objective
	if maximize {
		obj = make(map[int]float64, len(m.objective))
		for k, v := range m.objective {
			obj[k] = -v
		}
	}

	deadline := time.Now().Add(opts.TimeLimit)
	if opts.TimeLimit <= 0 {
		deadline = time.Now().Add(60 * time.Second)
	}

	tab, err := buildTableau(m.vars, m.constraints, obj)
	if err != nil {
		return Solution{}, err
	}

	res, err := tab.solve(ctx, deadline)
	if err != nil {
		return Solution{}, err
	}

	values := tab.extractValues(res.assignment, m.vars)
	objValue := 0.0
	for i, v := range values {
		objValue += m.objective[i] * v
	}
	objValue += m.objConst

	status := res.status
	if status == StatusTimeLimit {
		gap := res.gap
		within := false
		switch opts.DualGapType {
		case "relative":
			denom := math.Max(1e-9, math.Abs(objValue))
			within = gap/denom <= opts.TimeLimitDualGapLimit
		default:
			within = gap <= opts.TimeLimitDualGapLimit
		}
		if !within {
			return Solution{}, &SolverTimeoutError{Elapsed: time.Since(deadline.Add(-opts.TimeLimit))}
		}
	}
	if status == StatusInfeasible {
		return Solution{}, &RecipeCreationError{Reason: "no feasible solution under the active constraints"}
	}
	if status == StatusUnbounded {
		return Solution{}, &RecipeCreationError{Reason: "objective is unbounded under the active constraints"}
	}

	return Solution{Status: status, Values: values, ObjectiveValue: objValue, Gap: res.gap}, nil
}
