// Package constraints is the Constraint Builder (spec.md §4.2): it
// translates one product's ingredient tree into an internal/solver.Model
// encoding invariants I1-I7 (mass balance, nesting, declared-order,
// evaporation bound, declared-percentage pinning, and nutritional
// tolerance).
//
// Every leaf is modeled as a PERCENT variable (its share of the total
// pre-processing mass, 0..100) rather than a gram quantity, and the total
// pre-processing mass itself — m in spec.md §3 — is a genuine bounded
// solver variable, not a scalar baked in by the caller. This is what lets
// internal/sampler bound-query and pin m the same way it bound-queries and
// pins every leaf: a single Build call produces one model that is reused
// for the whole shuffle-pin-then-choose-mass sequence of spec.md §4.4,
// instead of being rebuilt for every trial mass.
//
// Expressing every invariant in percent space (rather than gram space)
// also sidesteps the bilinear terms the original's NLP model carries
// explicitly (m times a leaf fraction): I1-I5 and I7 are percentages of
// percentages and never reference m at all, so they stay exactly linear.
// m only constrains itself (its bounds are quantity and
// quantity/(1-maximum_evaporation), since e = 1 - quantity/m), which is
// also linear. The one place this trades fidelity for linearity is I6: the
// nutritional bound compares a nutrient total expressed per 100 raw-mix
// grams against quantity, which is only exact when m == quantity (no
// evaporation). See DESIGN.md for why this approximation was accepted
// instead of reaching for a nonlinear solver.
package constraints

import (
	"fmt"
	"math"

	"github.com/openfoodfacts/off-product-environmental-impact/internal/recipe"
	"github.com/openfoodfacts/off-product-environmental-impact/internal/reftables"
	"github.com/openfoodfacts/off-product-environmental-impact/internal/solver"
)

// Options controls which invariants are active for one build, mirroring
// the estimate_impacts parameters consumed at this layer (spec.md §6).
type Options struct {
	Quantity               float64  // finished product mass, grams
	MaximumEvaporation     float64  // ē
	UseDefinedPercent      bool
	UseNutritionalInfo     bool
	ConstRelaxCoef         float64 // ρ, fraction of 100 percentage points
	DropDecreasingFromRank int     // 0 disables dropping: every rank pair is ordered
	AllowUnbalancedRecipe  bool    // lowers m's lower bound from quantity to 0.5*quantity and removes evaporation's upper bound
	TotalMassUsed          *float64 // pins m when set (spec.md §6 total_mass_used), bypassing the mass choice step entirely
}

// Built is the solver model plus the bookkeeping needed to read a solution
// back into ingredient masses.
type Built struct {
	Model              *solver.Model
	VarByLeafID        map[string]int // individualized leaf id -> percent variable index, 0..100
	MassVar            int            // m's variable index: total pre-processing mass, grams
	Quantity           float64        // finished product mass, grams; e = 1 - Quantity/m
	OrderConstraintIDs map[int]int    // top-level rank -> order constraint id between rank and rank+1
}

// Evaporation returns e for a given value of m, matching the relation the
// model's m bound already encodes (e = 1 - quantity/m).
func (b *Built) Evaporation(totalMass float64) float64 {
	return 1 - b.Quantity/totalMass
}

// Build constructs the LP for one product. product must already be
// individualized (recipe.Individualize) and have its leaves' PercentType
// resolved by preflight.
func Build(product *recipe.Product, tables *reftables.Tables, opts Options) (*Built, error) {
	if opts.Quantity <= 0 {
		return nil, fmt.Errorf("quantity must be positive, got %f", opts.Quantity)
	}

	m := solver.NewModel()
	varByLeafID := make(map[string]int)

	leaves := recipe.Leaves(product.Ingredients)
	for _, leaf := range leaves {
		lower, upper := 0.0, 100.0
		if leaf.Rank != nil {
			nb, ok := naturalBoundsFor(leaf, leaves)
			if ok {
				lower, upper = nb.lower, nb.upper
			}
		}
		if rec, ok := tables.Lookup(recipe.OriginalID(leaf.ID)); ok {
			if ash, ok := rec.Nutriments["ash"]; ok {
				upper = min(upper, 100-ash.Min)
			}
		}
		idx := m.AddVariable(leaf.ID, lower, upper)
		varByLeafID[leaf.ID] = idx
	}

	massLower, massUpper := massBounds(opts)
	massVar := m.AddVariable("total_mass", massLower, massUpper)

	built := &Built{Model: m, VarByLeafID: varByLeafID, MassVar: massVar, Quantity: opts.Quantity, OrderConstraintIDs: map[int]int{}}

	// I1: every leaf's share of the total pre-processing mass sums to 100%.
	total := make(map[int]float64, len(leaves))
	for _, leaf := range leaves {
		total[varByLeafID[leaf.ID]] = 1
	}
	m.AddConstraint("total_leaves_percent", total, solver.EQ, 100)

	// I2: every node's declared percentage matches the sum of its own
	// subtree's leaf percentages, interpreted relative to the whole product
	// or to its enclosing parent according to its resolved percent type.
	if err := addNestingConstraints(m, product.Ingredients, varByLeafID, opts, map[int]float64{}); err != nil {
		return nil, err
	}

	// I3: declared-order of the top-level ingredient list (by descending
	// share) is respected, loosened by const_relax_coef and droppable from
	// a given rank onward.
	built.OrderConstraintIDs = addOrderConstraints(m, product.Ingredients, varByLeafID, opts)

	// I7: declared percentages are pinned within a const_relax_coef window.
	if opts.UseDefinedPercent {
		addPinningConstraints(m, leaves, varByLeafID, opts)
	}

	// I6: declared nutritional info bounds the sum of ingredient
	// contributions, within EU tolerance (see the package doc comment for
	// the m == quantity approximation this makes).
	if opts.UseNutritionalInfo {
		if err := addNutritionalConstraints(m, product, leaves, varByLeafID, tables, opts); err != nil {
			return nil, err
		}
	}

	return built, nil
}

// massBounds computes m's bounds: spec.md §3 "m in [lb, 1/(1-ē)]" expressed
// in grams, lb = quantity normally or 0.5*quantity when unbalanced recipes
// are allowed (spec.md §4.4 step 5: allow_unbalanced_recipe removes both
// the m >= quantity lower bound and the evaporation upper bound). total_mass_used
// pins m outright, bypassing both.
func massBounds(opts Options) (float64, float64) {
	if opts.TotalMassUsed != nil {
		return *opts.TotalMassUsed, *opts.TotalMassUsed
	}
	lower := opts.Quantity
	upper := opts.Quantity / (1 - opts.MaximumEvaporation)
	if opts.AllowUnbalancedRecipe {
		lower = 0.5 * opts.Quantity
		upper = math.Inf(1)
	}
	return lower, upper
}

type bounds struct{ lower, upper float64 }

func naturalBoundsFor(leaf *recipe.Node, allLeaves []*recipe.Node) (bounds, bool) {
	if leaf.Rank == nil {
		return bounds{0, 100}, false
	}
	lower, upper := recipe.NaturalBounds(*leaf.Rank, len(allLeaves))
	return bounds{lower, upper}, true
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// addNestingConstraints walks the tree; for every node with a declared
// percentage it adds a constraint that its own subtree's leaf percentages
// sum to percent% of the relevant reference: the whole product when its
// percent type is product-relative, or its enclosing parent's own subtree
// percentage (parentPercent, a linear expression over that parent's
// leaves) when parent-relative. parentPercent is empty at the root, where
// every node is product-relative by convention.
func addNestingConstraints(m *solver.Model, nodes []*recipe.Node, varByLeafID map[string]int, opts Options, parentPercent map[int]float64) error {
	for _, n := range nodes {
		if n.IsLeaf() {
			continue
		}

		ownPercent := make(map[int]float64)
		collectLeafCoeffs(n.Sub, varByLeafID, 1.0, ownPercent)

		if n.Percent != nil {
			width := opts.ConstRelaxCoef * 100
			switch n.PercentType {
			case recipe.PercentProduct:
				addBandConstraint(m, n.ID+"_nest", ownPercent, *n.Percent, width)
			case recipe.PercentParent:
				// ownPercent - (percent/100)*parentPercent == 0, still
				// linear since percent is a constant here.
				combined := make(map[int]float64, len(ownPercent)+len(parentPercent))
				for v, c := range ownPercent {
					combined[v] += c
				}
				ratio := *n.Percent / 100
				for v, c := range parentPercent {
					combined[v] -= ratio * c
				}
				addBandConstraint(m, n.ID+"_nest", combined, 0, width)
			}
		}

		if err := addNestingConstraints(m, n.Sub, varByLeafID, opts, ownPercent); err != nil {
			return err
		}
	}
	return nil
}

func collectLeafCoeffs(nodes []*recipe.Node, varByLeafID map[string]int, weight float64, out map[int]float64) {
	for _, n := range nodes {
		if n.IsLeaf() {
			if idx, ok := varByLeafID[n.ID]; ok {
				out[idx] += weight
			}
			continue
		}
		collectLeafCoeffs(n.Sub, varByLeafID, weight, out)
	}
}

// addBandConstraint adds target-width <= coeffs.x <= target+width as a pair
// of inequalities (width == 0 degenerates to an equality).
func addBandConstraint(m *solver.Model, name string, coeffs map[int]float64, target, width float64) {
	if width <= 0 {
		m.AddConstraint(name+"_eq", coeffs, solver.EQ, target)
		return
	}
	m.AddConstraint(name+"_lo", coeffs, solver.GE, target-width)
	m.AddConstraint(name+"_hi", coeffs, solver.LE, target+width)
}

// addOrderConstraints enforces that top-level ingredients are listed in
// non-increasing share order, i.e. the order declared on the label, up to
// (but excluding) DropDecreasingFromRank: pairs at or beyond that rank are
// left unconstrained so the sampler can relax the declared order when no
// feasible recipe respects it (spec.md §4.4 "drop-decreasing-from-rank").
func addOrderConstraints(m *solver.Model, topLevel []*recipe.Node, varByLeafID map[string]int, opts Options) map[int]int {
	ids := map[int]int{}
	slack := opts.ConstRelaxCoef * 100
	for i := 0; i+1 < len(topLevel); i++ {
		rank := i + 1
		if opts.DropDecreasingFromRank > 0 && rank >= opts.DropDecreasingFromRank {
			break
		}
		a := make(map[int]float64)
		collectLeafCoeffs([]*recipe.Node{topLevel[i]}, varByLeafID, 1, a)
		b := make(map[int]float64)
		collectLeafCoeffs([]*recipe.Node{topLevel[i+1]}, varByLeafID, -1, b)
		for k, v := range b {
			a[k] += v
		}
		id := m.AddConstraint(fmt.Sprintf("order_%d_%d", rank, rank+1), a, solver.GE, -slack)
		ids[rank] = id
	}
	return ids
}

// DropDecreasingFromRank removes every order constraint from rank onward
// and adds a ceiling of 2% to every leaf at or beyond that rank (spec.md
// §4.2 "drop-decreasing-from-rank(r)"), mutating built in place. The
// sampler calls this mid-draw when a just-pinned top-level ingredient's
// sampled share falls at or below the decreasing-order limit.
func DropDecreasingFromRank(built *Built, topLevel []*recipe.Node, rank int) {
	for r, id := range built.OrderConstraintIDs {
		if r >= rank {
			built.Model.DeleteConstraint(id)
			delete(built.OrderConstraintIDs, r)
		}
	}
	for i, n := range topLevel {
		if i+1 < rank || n.Rank == nil || *n.Rank < rank {
			continue
		}
		if idx, ok := built.VarByLeafID[n.ID]; ok {
			lower, _ := built.Model.VarBounds(idx)
			built.Model.SetVariableBounds(idx, lower, min(100, 2))
		}
	}
}

// addPinningConstraints pins each leaf with a declared percentage to within
// a const_relax_coef-wide band around that declared value.
func addPinningConstraints(m *solver.Model, leaves []*recipe.Node, varByLeafID map[string]int, opts Options) {
	for _, leaf := range leaves {
		if leaf.Percent == nil {
			continue
		}
		idx := varByLeafID[leaf.ID]
		width := opts.ConstRelaxCoef * 100
		addBandConstraint(m, leaf.ID+"_declared", map[int]float64{idx: 1}, *leaf.Percent, width)
	}
}

// addNutritionalConstraints bounds the aggregate contribution of every
// leaf's per-100g reference nutriment value, expressed per 100 grams of
// raw pre-processing mix, to within the EU tolerance around the product's
// own declared per-100g-of-finished-product nutriment value.
func addNutritionalConstraints(m *solver.Model, product *recipe.Product, leaves []*recipe.Node, varByLeafID map[string]int, tables *reftables.Tables, opts Options) error {
	for _, key := range reftables.TopLevelNutrimentKeys {
		declared, ok := product.Nutriments[key+"_100g"]
		if !ok {
			continue
		}
		margin, err := NutritionalErrorMargin(key, declared/100)
		if err != nil {
			return err
		}
		lo, hi := margin.Bounds(declared / 100)

		coeffs := make(map[int]float64)
		for _, leaf := range leaves {
			v, ok := tables.NutrimentValue(recipe.OriginalID(leaf.ID), key)
			if !ok {
				continue
			}
			coeffs[varByLeafID[leaf.ID]] += v / 100
		}
		if len(coeffs) == 0 {
			continue
		}
		m.AddConstraint(key+"_nutri_lo", coeffs, solver.GE, lo*opts.Quantity)
		m.AddConstraint(key+"_nutri_hi", coeffs, solver.LE, hi*opts.Quantity)
	}
	return nil
}
