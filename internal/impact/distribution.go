package impact

import (
	"math"
	"math/rand"

	"github.com/openfoodfacts/off-product-environmental-impact/internal/reftables"
)

// Sample draws one value from an ingredient's impact uncertainty
// distribution (spec.md §4.5). Four shapes are recognized:
//   - normal: mean/stddev, drawn directly.
//   - lognormal: geometric mean/stddev, with the sign of GMean restored
//     after sampling in log-space (AGRIBALYSE reports some impacts, e.g.
//     land-use change credits, as signed quantities whose magnitude alone
//     is lognormally distributed).
//   - triangular: min/mode/max, drawn by inverse transform sampling.
//   - uniform: min/max.
func Sample(rng *rand.Rand, d reftables.UncertaintyDistribution) float64 {
	switch d.Kind {
	case reftables.DistNormal:
		return d.Mean + rng.NormFloat64()*d.StdDev
	case reftables.DistLognormal:
		sign := 1.0
		if d.GMean < 0 {
			sign = -1.0
		}
		logMean := math.Log(math.Abs(d.GMean))
		logStd := math.Log(math.Max(d.GStdDev, 1+1e-9))
		return sign * math.Exp(logMean+rng.NormFloat64()*logStd)
	case reftables.DistTriangular:
		return sampleTriangular(rng, d.Min, d.Mode, d.Max)
	case reftables.DistUniform:
		return d.Min + rng.Float64()*(d.Max-d.Min)
	default:
		return 0
	}
}

func sampleTriangular(rng *rand.Rand, min, mode, max float64) float64 {
	if max <= min {
		return min
	}
	u := rng.Float64()
	fc := (mode - min) / (max - min)
	if u < fc {
		return min + math.Sqrt(u*(max-min)*(mode-min))
	}
	return max - math.Sqrt((1-u)*(max-min)*(max-mode))
}
