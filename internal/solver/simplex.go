package solver

import (
	"context"
	"math"
	"time"
)

const simplexEpsilon = 1e-9

// row is one dense tableau row: coefficients over every column, with the
// right-hand side in the last slot.
type row []float64

type tableau struct {
	numStructural  int // one y_i column per original variable, y_i = x_i - lower_i
	totalCols      int
	rows           []row
	basis          []int
	lower          []float64 // lower_i per original variable, for value extraction
	artificialCols []int
	phase2Cost     []float64
}

// buildTableau translates the model's bounded variables and active
// constraints into standard form: every variable shifted to start at 0,
// every finite upper bound turned into an extra <= row, and every
// inequality/equality converted to slack/surplus/artificial form with a
// non-negative right-hand side.
func buildTableau(vars []Variable, constraints map[int]*Constraint, obj map[int]float64) (*tableau, error) {
	n := len(vars)
	lower := make([]float64, n)
	for i, v := range vars {
		lower[i] = v.Lower
	}

	type stdRow struct {
		coeffs map[int]float64
		sense  Sense
		rhs    float64
	}
	var stdRows []stdRow

	for _, c := range constraints {
		rhs := c.RHS
		for i, a := range c.Coeffs {
			rhs -= a * lower[i]
		}
		stdRows = append(stdRows, stdRow{coeffs: c.Coeffs, sense: c.Sense, rhs: rhs})
	}
	for i, v := range vars {
		if !math.IsInf(v.Upper, 1) {
			stdRows = append(stdRows, stdRow{
				coeffs: map[int]float64{i: 1},
				sense:  LE,
				rhs:    v.Upper - v.Lower,
			})
		}
	}

	// Normalize so every rhs is non-negative.
	for i := range stdRows {
		if stdRows[i].rhs < 0 {
			flipped := make(map[int]float64, len(stdRows[i].coeffs))
			for k, v := range stdRows[i].coeffs {
				flipped[k] = -v
			}
			stdRows[i].coeffs = flipped
			stdRows[i].rhs = -stdRows[i].rhs
			switch stdRows[i].sense {
			case LE:
				stdRows[i].sense = GE
			case GE:
				stdRows[i].sense = LE
			}
		}
	}

	numSlackSurplus := 0
	numArtificial := 0
	for _, r := range stdRows {
		switch r.sense {
		case LE:
			numSlackSurplus++
		case GE:
			numSlackSurplus++
			numArtificial++
		case EQ:
			numArtificial++
		}
	}

	totalCols := n + numSlackSurplus + numArtificial
	rows := make([]row, len(stdRows))
	basis := make([]int, len(stdRows))
	artificialCols := make([]int, 0, numArtificial)

	slackCol := n
	artCol := n + numSlackSurplus
	for ri, r := range stdRows {
		rr := make(row, totalCols+1)
		for k, v := range r.coeffs {
			rr[k] += v
		}
		switch r.sense {
		case LE:
			rr[slackCol] = 1
			basis[ri] = slackCol
			slackCol++
		case GE:
			rr[slackCol] = -1
			slackCol++
			rr[artCol] = 1
			basis[ri] = artCol
			artificialCols = append(artificialCols, artCol)
			artCol++
		case EQ:
			rr[artCol] = 1
			basis[ri] = artCol
			artificialCols = append(artificialCols, artCol)
			artCol++
		}
		rr[totalCols] = r.rhs
		rows[ri] = rr
	}

	t := &tableau{numStructural: n, totalCols: totalCols, rows: rows, basis: basis, lower: lower, artificialCols: artificialCols}

	if len(artificialCols) > 0 {
		phase1Cost := make([]float64, totalCols)
		for _, c := range artificialCols {
			phase1Cost[c] = 1
		}
		objRow := t.buildObjectiveRow(phase1Cost)
		status, _ := t.iterate(objRow, nil, context.Background(), time.Now().Add(time.Hour))
		if status != StatusOptimal {
			return nil, &RecipeCreationError{Reason: "phase 1 failed to establish a feasible basis"}
		}
		if -objRow[totalCols] > 1e-6 {
			return nil, &RecipeCreationError{Reason: "no feasible solution: artificial variables remain positive"}
		}
		for ri, b := range t.basis {
			isArt := false
			for _, c := range artificialCols {
				if b == c {
					isArt = true
					break
				}
			}
			if !isArt {
				continue
			}
			pivoted := false
			for j := 0; j < n+numSlackSurplus; j++ {
				if math.Abs(t.rows[ri][j]) > simplexEpsilon {
					t.pivot(ri, j)
					t.basis[ri] = j
					pivoted = true
					break
				}
			}
			if !pivoted {
				// Redundant row: zero it out of consideration by leaving the
				// artificial basic at value 0; phase 2 never prices it back in
				// because its column is excluded from entering below.
			}
		}
	}

	// Phase 2 never re-admits an artificial column.
	obj2Cost := make([]float64, totalCols)
	for k, v := range obj {
		if k < n {
			obj2Cost[k] = v
		}
	}
	t.phase2Cost = obj2Cost

	return t, nil
}

func (t *tableau) buildObjectiveRow(cost []float64) row {
	objRow := make(row, t.totalCols+1)
	copy(objRow, cost)
	for ri, b := range t.basis {
		c := cost[b]
		if c == 0 {
			continue
		}
		for j := 0; j <= t.totalCols; j++ {
			objRow[j] -= c * t.rows[ri][j]
		}
	}
	return objRow
}

type solveResult struct {
	status     Status
	assignment []float64 // length totalCols
	gap        float64
}

func (t *tableau) solve(ctx context.Context, deadline time.Time) (solveResult, error) {
	objRow := t.buildObjectiveRow(t.phase2Cost)
	status, gap := t.iterate(objRow, t.artificialCols, ctx, deadline)

	assignment := make([]float64, t.totalCols)
	for ri, b := range t.basis {
		assignment[b] = t.rows[ri][t.totalCols]
	}

	return solveResult{status: status, assignment: assignment, gap: gap}, nil
}

// iterate runs primal simplex on objRow (minimizing), forbidding entry of
// the given excluded columns (artificials once their row has been purged),
// until optimal, unbounded, or the deadline/iteration cap is hit.
func (t *tableau) iterate(objRow row, excluded []int, ctx context.Context, deadline time.Time) (Status, float64) {
	excludedSet := make(map[int]bool, len(excluded))
	for _, c := range excluded {
		excludedSet[c] = true
	}
	maxIterations := 5000 * (len(t.rows) + t.totalCols + 1)

	for iter := 0; iter < maxIterations; iter++ {
		if iter%64 == 0 {
			select {
			case <-ctx.Done():
				return StatusTimeLimit, math.Abs(objRow[t.totalCols])
			default:
			}
			if time.Now().After(deadline) {
				return StatusTimeLimit, math.Abs(objRow[t.totalCols])
			}
		}

		enter := -1
		best := -simplexEpsilon
		for j := 0; j < t.totalCols; j++ {
			if excludedSet[j] {
				continue
			}
			if objRow[j] < best {
				best = objRow[j]
				enter = j
			}
		}
		if enter == -1 {
			return StatusOptimal, 0
		}

		leave := -1
		bestRatio := math.Inf(1)
		for ri, r := range t.rows {
			coef := r[enter]
			if coef <= simplexEpsilon {
				continue
			}
			ratio := r[t.totalCols] / coef
			if ratio < bestRatio-simplexEpsilon {
				bestRatio = ratio
				leave = ri
			}
		}
		if leave == -1 {
			return StatusUnbounded, 0
		}

		t.pivot(leave, enter)
		t.basis[leave] = enter

		pivotVal := objRow[enter]
		if pivotVal != 0 {
			for j := 0; j <= t.totalCols; j++ {
				objRow[j] -= pivotVal * t.rows[leave][j]
			}
		}
	}
	return StatusTimeLimit, math.Abs(objRow[t.totalCols])
}

func (t *tableau) pivot(pivotRow, pivotCol int) {
	pv := t.rows[pivotRow][pivotCol]
	for j := 0; j <= t.totalCols; j++ {
		t.rows[pivotRow][j] /= pv
	}
	for ri := range t.rows {
		if ri == pivotRow {
			continue
		}
		factor := t.rows[ri][pivotCol]
		if factor == 0 {
			continue
		}
		for j := 0; j <= t.totalCols; j++ {
			t.rows[ri][j] -= factor * t.rows[pivotRow][j]
		}
	}
}

func (t *tableau) extractValues(assignment []float64, vars []Variable) []float64 {
	values := make([]float64, t.numStructural)
	for i := range values {
		values[i] = assignment[i] + t.lower[i]
	}
	return values
}
