package sampler

import (
	"math"
	"math/rand"

	"github.com/openfoodfacts/off-product-environmental-impact/internal/reftables"
)

// narrowByCategory returns the subset of samples whose product shared at
// least one of the most specific categoriesTags, starting from the last
// (most specific) tag alone and adding one more general tag at a time,
// stopping as soon as a narrowing leaves at least minSize samples (grounded
// on _pick_proportion's category-tag narrowing loop: prefer the most
// specific match the data supports). All samples are returned when no
// narrowing reaches minSize.
func narrowByCategory(samples []reftables.PercentageSample, categoriesTags []string, minSize int) []reftables.PercentageSample {
	if len(categoriesTags) == 0 || len(samples) <= minSize {
		return samples
	}
	for start := len(categoriesTags) - 1; start >= 0; start-- {
		tagSet := make(map[string]struct{}, len(categoriesTags)-start)
		for _, t := range categoriesTags[start:] {
			tagSet[t] = struct{}{}
		}
		var narrowed []reftables.PercentageSample
		for _, s := range samples {
			if sharesTag(s.CategoriesTags, tagSet) {
				narrowed = append(narrowed, s)
			}
		}
		if len(narrowed) >= minSize {
			return narrowed
		}
	}
	return samples
}

func sharesTag(tags []string, set map[string]struct{}) bool {
	for _, t := range tags {
		if _, ok := set[t]; ok {
			return true
		}
	}
	return false
}

// silvermanBandwidth is the Gaussian-kernel rule-of-thumb bandwidth for a
// 1-D sample.
func silvermanBandwidth(values []float64) float64 {
	n := float64(len(values))
	if n < 2 {
		return 1
	}
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= n
	var variance float64
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= n - 1
	std := math.Sqrt(variance)
	if std == 0 {
		std = 1
	}
	return 1.06 * std * math.Pow(n, -0.2)
}

// SampleKDE draws one value from the Gaussian KDE over values, rejecting
// draws outside [lower, upper] and retrying up to maxAttempts times before
// falling back to a uniform draw on that range (grounded on _pick_proportion's
// reject-sampling-then-uniform-fallback behavior).
func SampleKDE(rng *rand.Rand, values []float64, lower, upper float64, maxAttempts int) float64 {
	if len(values) == 0 || lower >= upper {
		return uniform(rng, lower, upper)
	}
	bw := silvermanBandwidth(values)
	for attempt := 0; attempt < maxAttempts; attempt++ {
		base := values[rng.Intn(len(values))]
		draw := base + rng.NormFloat64()*bw
		if draw >= lower && draw <= upper {
			return draw
		}
	}
	return uniform(rng, lower, upper)
}

func uniform(rng *rand.Rand, lower, upper float64) float64 {
	if lower >= upper {
		return lower
	}
	return lower + rng.Float64()*(upper-lower)
}
