// Package preflight runs the product-level checks and normalizations that
// must happen once, before a product is ever handed to the sampler
// (spec.md §4.1): fermentation detection, category-driven evaporation
// overrides, legacy flat-with-rank flattening, rank assignment,
// unknown/uncharacterized ingredient removal, percent-type resolution, and
// percentage sanity checks.
package preflight

import (
	"fmt"

	"github.com/openfoodfacts/off-product-environmental-impact/internal/config"
	"github.com/openfoodfacts/off-product-environmental-impact/internal/recipe"
	"github.com/openfoodfacts/off-product-environmental-impact/internal/reftables"
)

// NoKnownIngredientsError means every ingredient was removed as unknown,
// leaving nothing to sample.
type NoKnownIngredientsError struct{ ProductID string }

func (e *NoKnownIngredientsError) Error() string {
	return fmt.Sprintf("product %s: no known ingredients remain after preflight", e.ProductID)
}

// NoCharacterizedIngredientsError means every remaining ingredient lacks
// both nutritional and impact reference data.
type NoCharacterizedIngredientsError struct{ ProductID string }

func (e *NoCharacterizedIngredientsError) Error() string {
	return fmt.Sprintf("product %s: no characterized ingredients remain after preflight", e.ProductID)
}

// Warning is a non-fatal observation surfaced to the caller (spec.md §4.1
// "quality data warnings").
type Warning struct {
	Code    string
	Message string
}

// Outcome is the prepared product plus everything preflight learned about it.
type Outcome struct {
	Product            *recipe.Product
	Warnings           []Warning
	MaximumEvaporation float64 // category-overridden ceiling, >= params.MaximumEvaporation
	IsFermented        bool

	// OriginalLeafCount is the number of leaves before any removal, the
	// denominator for IgnoredUnknownRatio.
	OriginalLeafCount int
	// IgnoredUnknownIngredients are leaf ids dropped outright: absent from
	// the taxonomy, no declared percentage, no surviving subingredients
	// (spec.md §4.1 step 4).
	IgnoredUnknownIngredients []string
	// UncharacterizedIngredients are leaf ids that survived preflight but
	// carry no nutrition or impact reference data at all (spec.md §4.1
	// step 5's retained siblings, plus any compound node collapsed to a
	// bare leaf when its whole subingredient list was dropped).
	UncharacterizedIngredients []string

	// DisableUseDefinedPercent is set when the top-level declared
	// percentages are not in non-increasing order: the declared label
	// order can no longer be trusted to pin percentages, so the caller
	// should fall back to the undeclared-percentage relaxation steps
	// (spec.md §8 scenario S6).
	DisableUseDefinedPercent bool
}

// IgnoredUnknownRatio is the fraction of the product's original leaves that
// were dropped as unknown, one of the three inputs to the overall
// reliability score (spec.md §4.7).
func (o *Outcome) IgnoredUnknownRatio() float64 {
	if o.OriginalLeafCount == 0 {
		return 0
	}
	return float64(len(o.IgnoredUnknownIngredients)) / float64(o.OriginalLeafCount)
}

// Run prepares product for sampling. The input product is never mutated;
// Outcome.Product is an individualized clone.
func Run(product *recipe.Product, tables *reftables.Tables, params config.Params) (*Outcome, error) {
	p := product.Clone()
	out := &Outcome{Product: p, MaximumEvaporation: params.MaximumEvaporation}
	out.OriginalLeafCount = len(recipe.Leaves(p.Ingredients))

	detectFermentation(p, tables, out)
	applyWaterLossOverride(p, tables, out)
	flattenFlatWithRank(p, out)
	assignRanks(p.Ingredients)

	removeUnknownIngredients(p, tables, params, out)
	if len(recipe.Leaves(p.Ingredients)) == 0 {
		return nil, &NoKnownIngredientsError{ProductID: p.ID}
	}

	pruneUncharacterizedLeaves(p, tables, out)
	leaves := recipe.Leaves(p.Ingredients)
	if !anyCharacterized(leaves, tables) {
		return nil, &NoCharacterizedIngredientsError{ProductID: p.ID}
	}

	for _, n := range p.Ingredients {
		n.PercentType = recipe.PercentProduct
	}
	resolvePercentTypes(p.Ingredients, out)
	checkPercentageSanity(p.Ingredients, out)
	checkDeclaredOrder(p.Ingredients, out)
	warnUncharacterizedRatio(leaves, tables, out)

	recipe.Individualize(p)
	return out, nil
}

func detectFermentation(p *recipe.Product, tables *reftables.Tables, out *Outcome) {
	if tables.IsFermentedCategory(p.CategoriesTags) {
		out.IsFermented = true
	}
	for _, leaf := range recipe.Leaves(p.Ingredients) {
		if tables.IsFermentationAgent(leaf.ID) {
			out.IsFermented = true
		}
	}
	if out.IsFermented {
		out.Warnings = append(out.Warnings, Warning{
			Code:    "fermented_product",
			Message: "product belongs to a fermented food category or declares a fermentation agent",
		})
	}
}

func applyWaterLossOverride(p *recipe.Product, tables *reftables.Tables, out *Outcome) {
	if maxEvap, ok := tables.MaxEvaporationFor(p.CategoriesTags); ok && maxEvap > out.MaximumEvaporation {
		out.MaximumEvaporation = maxEvap
		out.Warnings = append(out.Warnings, Warning{
			Code:    "water_loss_override",
			Message: fmt.Sprintf("maximum evaporation raised to %.2f for this product's category", maxEvap),
		})
	}
}

// isFlatWithRank reports whether nodes is a legacy flat-with-rank
// representation: every top-level entry is a leaf and at least one of them
// already carries an explicit rank supplied on the wire (before
// assignRanks has had a chance to fill every node in, which would make
// every node look ranked). Subingredients of a nested recipe are
// duplicated at top level in this format without a rank of their own.
func isFlatWithRank(nodes []*recipe.Node) bool {
	if len(nodes) == 0 {
		return false
	}
	anyRanked := false
	for _, n := range nodes {
		if !n.IsLeaf() {
			return false
		}
		if n.Rank != nil {
			anyRanked = true
		}
	}
	return anyRanked
}

// flattenFlatWithRank drops every non-ranked top-level entry of a legacy
// flat-with-rank product: those entries are subingredients duplicated at
// top level, not genuine declared ingredients (spec.md §4.1 step 3).
func flattenFlatWithRank(p *recipe.Product, out *Outcome) {
	if !isFlatWithRank(p.Ingredients) {
		return
	}
	var kept []*recipe.Node
	dropped := 0
	for _, n := range p.Ingredients {
		if n.Rank != nil {
			kept = append(kept, n)
			continue
		}
		dropped++
	}
	p.Ingredients = kept
	if dropped > 0 {
		out.Warnings = append(out.Warnings, Warning{
			Code:    "flat_with_rank_flattened",
			Message: fmt.Sprintf("dropped %d non-ranked entries duplicated from a legacy flat-with-rank representation", dropped),
		})
	}
}

func assignRanks(nodes []*recipe.Node) {
	for i, n := range nodes {
		if n.Rank == nil {
			r := i + 1
			n.Rank = &r
		}
	}
}

// removeUnknownIngredients drops leaves absent from the taxonomy, unless
// ignore_unknown_ingredients is disabled (nothing is removed) or the leaf
// still carries a declared percentage — its mass is retained even though
// its identity is unknown (spec.md §4.1 step 4).
func removeUnknownIngredients(p *recipe.Product, tables *reftables.Tables, params config.Params, out *Outcome) {
	if !params.IgnoreUnknownIngredients {
		return
	}
	p.Ingredients = filterTree(p.Ingredients, func(n *recipe.Node) bool {
		if tables.IsKnown(n.ID) {
			return true
		}
		if n.Percent != nil {
			return true
		}
		out.IgnoredUnknownIngredients = append(out.IgnoredUnknownIngredients, n.ID)
		out.Warnings = append(out.Warnings, Warning{
			Code:    "unknown_ingredient",
			Message: fmt.Sprintf("ingredient %q is absent from the taxonomy and declares no percentage; dropped", n.ID),
		})
		return false
	})
}

// pruneUncharacterizedLeaves drops a compound node's entire subingredient
// list in one shot, but only when none of its direct children carry any
// information at all — a declared percentage, taxonomy membership, or
// their own surviving subingredients (spec.md §4.1 step 5). This keeps a
// partially-characterized parent's informative children instead of
// stripping them alongside their uncharacterized siblings.
func pruneUncharacterizedLeaves(p *recipe.Product, tables *reftables.Tables, out *Outcome) {
	p.Ingredients = pruneChildren(p.Ingredients, tables, out)
}

func pruneChildren(nodes []*recipe.Node, tables *reftables.Tables, out *Outcome) []*recipe.Node {
	result := make([]*recipe.Node, 0, len(nodes))
	for _, n := range nodes {
		if n.IsLeaf() {
			if !isCharacterized(n, tables) {
				out.UncharacterizedIngredients = append(out.UncharacterizedIngredients, n.ID)
			}
			result = append(result, n)
			continue
		}
		if noChildCarriesInfo(n.Sub, tables) {
			out.Warnings = append(out.Warnings, Warning{
				Code:    "uncharacterized_subingredients_dropped",
				Message: fmt.Sprintf("dropped every subingredient of %q: none are known, declare a percentage, or have surviving subingredients of their own", n.ID),
			})
			n.Sub = nil
			if !isCharacterized(n, tables) {
				out.UncharacterizedIngredients = append(out.UncharacterizedIngredients, n.ID)
			}
			result = append(result, n)
			continue
		}
		n.Sub = pruneChildren(n.Sub, tables, out)
		result = append(result, n)
	}
	return result
}

// noChildCarriesInfo reports whether none of children carries any
// information: a declared percentage, taxonomy membership, or (for a
// compound child) its own surviving subingredients.
func noChildCarriesInfo(children []*recipe.Node, tables *reftables.Tables) bool {
	for _, c := range children {
		if c.Percent != nil {
			return false
		}
		if tables.IsKnown(c.ID) {
			return false
		}
		if !c.IsLeaf() && !noChildCarriesInfo(c.Sub, tables) {
			return false
		}
	}
	return true
}

// isCharacterized reports whether id carries any nutrition or impact
// reference data (distinct from taxonomy membership, which only means the
// id is a recognized ingredient name).
func isCharacterized(n *recipe.Node, tables *reftables.Tables) bool {
	_, ok := tables.Lookup(n.ID)
	return ok
}

// filterTree keeps a node when keep(node) is true; a compound node that
// loses every child is dropped in turn.
func filterTree(nodes []*recipe.Node, keep func(*recipe.Node) bool) []*recipe.Node {
	var out []*recipe.Node
	for _, n := range nodes {
		if !n.IsLeaf() {
			n.Sub = filterTree(n.Sub, keep)
			if len(n.Sub) == 0 {
				continue
			}
			out = append(out, n)
			continue
		}
		if keep(n) {
			out = append(out, n)
		}
	}
	return out
}

func anyCharacterized(leaves []*recipe.Node, tables *reftables.Tables) bool {
	for _, leaf := range leaves {
		if _, ok := tables.Lookup(leaf.ID); ok {
			return true
		}
	}
	return false
}

// resolvePercentTypes decides, for every compound node, whether its own
// children's declared percentages are relative to the whole product or to
// this node's own mass, and stamps that decision onto each child
// (spec.md §4.1 step 6; a node's PercentType describes how its OWN percent
// should be read, decided by its parent, never by itself).
func resolvePercentTypes(nodes []*recipe.Node, out *Outcome) {
	for _, n := range nodes {
		if n.IsLeaf() {
			continue
		}
		parentRange := recipe.Range{Min: 0, Max: 100}
		if n.Percent != nil {
			parentRange = recipe.Range{Min: *n.Percent, Max: *n.Percent}
		}
		childType := recipe.DefinePercentageType(n, parentRange)
		for _, child := range n.Sub {
			child.PercentType = childType
		}
		resolvePercentTypes(n.Sub, out)
	}
}

func checkPercentageSanity(topLevel []*recipe.Node, out *Outcome) {
	sum := recipe.MinimumPercentageSum(topLevel)
	if sum > 100.5 {
		out.Warnings = append(out.Warnings, Warning{
			Code:    "declared_percentages_exceed_100",
			Message: fmt.Sprintf("declared top-level percentages sum to %.2f%%, above the 100%% tolerance", sum),
		})
	}
}

// checkDeclaredOrder flags a product whose top-level declared percentages
// are not listed in non-increasing order: the label order is the only
// signal the declared-percentage pinning constraint (I7) can trust rank
// from, so a violation disables it rather than pin percentages against an
// order the product itself doesn't respect (spec.md §8 scenario S6).
func checkDeclaredOrder(topLevel []*recipe.Node, out *Outcome) {
	var prev *float64
	for _, n := range topLevel {
		if n.Percent == nil {
			continue
		}
		if prev != nil && *n.Percent > *prev {
			out.DisableUseDefinedPercent = true
			out.Warnings = append(out.Warnings, Warning{
				Code:    "declared_percent_order_disabled",
				Message: "declared top-level percentages are not in non-increasing order; declared-percentage pinning disabled for this product",
			})
			return
		}
		prev = n.Percent
	}
}

func warnUncharacterizedRatio(leaves []*recipe.Node, tables *reftables.Tables, out *Outcome) {
	var declared, uncharacterizedDeclared float64
	for _, leaf := range leaves {
		if leaf.Percent == nil {
			continue
		}
		declared += *leaf.Percent
		if _, ok := tables.Lookup(leaf.ID); !ok {
			uncharacterizedDeclared += *leaf.Percent
		}
	}
	if declared == 0 {
		return
	}
	ratio := uncharacterizedDeclared / declared
	if ratio > 0.5 {
		out.Warnings = append(out.Warnings, Warning{
			Code:    "high_uncharacterized_ratio",
			Message: fmt.Sprintf("%.0f%% of declared mass has no nutrition or impact reference data", ratio*100),
		})
	}
}
