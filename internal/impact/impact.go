// Package impact is the Recipe Impact Calculator (spec.md §4.5): it turns
// one sampled recipe's per-leaf masses into a total impact amount for one
// impact category, sampling each characterized ingredient's uncertainty
// distribution when requested and inflating the result to account for
// ingredients the reference tables do not characterize.
package impact

import (
	"math/rand"

	"github.com/openfoodfacts/off-product-environmental-impact/internal/recipe"
	"github.com/openfoodfacts/off-product-environmental-impact/internal/reftables"
)

// Result is one impact category's total for a recipe, plus the per-leaf
// contribution after mass-inflation.
type Result struct {
	Total             float64
	SharesByLeafID    map[string]float64
	CharacterizedMass float64
}

// Calculate computes impactName's total for a recipe whose masses are keyed
// by individualized leaf id, drawing from each ingredient's uncertainty
// distribution when useUncertainty is set (spec.md §6
// use_ingredients_impact_uncertainty).
//
// Ingredients the reference tables do not characterize for impactName are
// excluded from the raw sum, then the whole result is inflated by
// totalMass / characterizedMass so uncharacterized mass does not silently
// shrink the estimate (the mass-inflation formula S * total_mass / K).
func Calculate(rng *rand.Rand, masses map[string]float64, totalMass float64, impactName string, tables *reftables.Tables, useUncertainty bool) Result {
	raw := make(map[string]float64, len(masses))
	var rawSum, characterizedMass float64

	for leafID, mass := range masses {
		origID := recipe.OriginalID(leafID)
		ref, ok := tables.Impact(origID, impactName)
		if !ok {
			continue
		}
		amount := ref.Amount
		if useUncertainty && len(ref.UncertaintyDistributions) > 0 {
			chosen := ref.UncertaintyDistributions[rng.Intn(len(ref.UncertaintyDistributions))]
			amount = Sample(rng, chosen)
		}
		contribution := amount * mass / reftables.ImpactMassUnit
		raw[leafID] = contribution
		rawSum += contribution
		characterizedMass += mass
	}

	if characterizedMass == 0 {
		return Result{SharesByLeafID: raw}
	}

	inflated := rawSum * totalMass / characterizedMass
	scale := 1.0
	if rawSum != 0 {
		scale = inflated / rawSum
	}
	shares := make(map[string]float64, len(raw))
	for id, v := range raw {
		shares[id] = v * scale
	}

	return Result{Total: inflated, SharesByLeafID: shares, CharacterizedMass: characterizedMass}
}
