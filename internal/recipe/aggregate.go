package recipe

import "github.com/openfoodfacts/off-product-environmental-impact/internal/reftables"

// MinimumPercentageSum and MaximumPercentageSum compute the bounds a node's
// declared sub-ingredient percentages can sum to, accounting for
// undeclared entries (spec.md §4.1 step 6, grounded on the original's
// minimum_percentage_sum/maximum_percentage_sum).
//
// MinimumPercentageSum assumes every undeclared sub-ingredient is 0%.
func MinimumPercentageSum(nodes []*Node) float64 {
	var sum float64
	for _, n := range nodes {
		if n.Percent != nil {
			sum += *n.Percent
		}
	}
	return sum
}

// MaximumPercentageSum assumes every undeclared sub-ingredient takes the
// largest share natural bounds allow it at its rank.
func MaximumPercentageSum(nodes []*Node) float64 {
	var sum float64
	n := len(nodes)
	for i, node := range nodes {
		if node.Percent != nil {
			sum += *node.Percent
			continue
		}
		rank := i + 1
		if node.Rank != nil {
			rank = *node.Rank
		}
		_, upper := NaturalBounds(rank, n)
		sum += upper
	}
	return sum
}

// DefinePercentageType decides, for one compound node's sub-ingredients,
// whether declared percentages are expressed relative to the parent's mass
// ("parent") or to the whole product's mass ("product"), following the
// original's define_subingredients_percentage_type: product-relative is
// assumed first and rejected only if it is mathematically infeasible given
// the parent's own declared or bounded percentage.
func DefinePercentageType(parent *Node, parentPercent Range) PercentType {
	minSum := MinimumPercentageSum(parent.Sub)
	maxSum := MaximumPercentageSum(parent.Sub)

	if minSum <= parentPercent.Max && maxSum >= parentPercent.Min {
		return PercentProduct
	}
	return PercentParent
}

// Nutriments aggregates the recipe's per-ingredient masses into a per-100g
// nutritional profile, mirroring the original's nutriments_from_recipe.
// recipeMasses maps individualized ingredient id to mass (same unit as
// totalMass); only leaves with reference data contribute.
func Nutriments(recipeMasses map[string]float64, totalMass float64, tables *reftables.Tables) map[string]float64 {
	out := make(map[string]float64, len(reftables.NutrimentKeys))
	if totalMass <= 0 {
		return out
	}
	for _, key := range reftables.NutrimentKeys {
		var acc float64
		for id, mass := range recipeMasses {
			origID := OriginalID(id)
			if v, ok := tables.NutrimentValue(origID, key); ok {
				acc += mass * v / 100.0
			}
		}
		out[key+"_100g"] = acc / totalMass * 100.0
	}
	return out
}

// SumByOriginalID folds individualized ids back onto their pre-individualization
// id, summing masses, mirroring the static recipe_from_proportions step that
// recombines duplicated ingredient entries.
func SumByOriginalID(masses map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(masses))
	for id, mass := range masses {
		out[OriginalID(id)] += mass
	}
	return out
}
