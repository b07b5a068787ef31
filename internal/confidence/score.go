// Package confidence computes the confidence score attached to one sampled
// recipe (spec.md §4.6): the squared-difference distance between the
// recipe's own aggregate nutritional profile and the product's declared
// profile, combined with a mass_term that penalizes a chosen total mass the
// further it strays from the reference 100g basis. This score is the
// Monte-Carlo weight for every impact category (spec.md §4.7), so it must
// be a function of the nutritional agreement and mass choice spec.md §4.6
// actually specifies, not a proxy built from the empirical percentage
// distribution (that signal belongs to §4.4's KDE prior, a different
// concern — see DESIGN.md for why an earlier revision conflated the two).
package confidence

import (
	"errors"
	"math"

	"github.com/openfoodfacts/off-product-environmental-impact/internal/reftables"
)

// RefMass is the mass (grams) every Input mass is normalized against
// (spec.md §4.6 ref_mass, default 100).
const RefMass = 100.0

// ErrOutOfRange is returned when a per-nutriment squared difference
// exceeds 1 (spec.md §4.6: "require each <= 1, else ValueError"). The
// sampler's mass-choice grid scan treats this as "skip this candidate m".
var ErrOutOfRange = errors.New("confidence: nutritional squared difference exceeds 1")

// Input is everything Score needs about one sampled recipe.
type Input struct {
	Nutri           map[string]float64 // recipe's own aggregate profile, keys like "proteins_100g" (recipe.Nutriments)
	RefNutri        map[string]float64 // product's declared profile
	TotalMass       float64            // m, grams
	MinMass         float64            // m's current lower bound, grams
	MaxMass         float64            // m's current upper bound, grams
	WeightingFactor float64            // w, spec.md's confidence_score_weighting_factor (default 10)
}

// Score returns the confidence score for one sampled recipe: higher is
// better. Returns ErrOutOfRange when a nutriment's squared difference (on
// a per-100g basis) exceeds 1, per spec.md §4.6.
func Score(in Input) (float64, error) {
	w := in.WeightingFactor
	if w <= 0 {
		w = 10
	}

	var sumSq float64
	var anyCommon bool
	for _, key := range reftables.TopLevelNutrimentKeys {
		k := key + "_100g"
		nv, ok1 := in.Nutri[k]
		rv, ok2 := in.RefNutri[k]
		if !ok1 || !ok2 {
			continue
		}
		anyCommon = true
		d := nv - rv
		sq := d * d
		if sq > 1 {
			return 0, ErrOutOfRange
		}
		if sq < 1e-7 {
			sq = 1e-7
		}
		sumSq += sq
	}
	if !anyCommon {
		return 1, nil
	}

	dist := math.Sqrt(sumSq) / math.Sqrt2

	mass := in.TotalMass / RefMass
	minMass := in.MinMass / RefMass
	maxMass := in.MaxMass / RefMass

	var massTerm float64
	switch {
	case mass < 1 && minMass < 1:
		massTerm = (1 - mass) / (1 - minMass)
	case mass >= 1 && maxMass > 1:
		massTerm = (mass - 1) / (maxMass - 1)
	}

	denom := w*dist + massTerm
	if denom <= 0 {
		return math.Inf(1), nil
	}
	return 1 / denom, nil
}
