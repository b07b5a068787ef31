package impact

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/openfoodfacts/off-product-environmental-impact/internal/reftables"
)

func tablesWithImpact(id, name string, amount float64) *reftables.Tables {
	t := reftables.NewTables()
	t.Ingredients[id] = reftables.IngredientRecord{
		ID:      id,
		Impacts: map[string]reftables.ImpactRef{name: {Amount: amount}},
	}
	return t
}

func TestCalculateNoCharacterizedMassReturnsZeroTotal(t *testing.T) {
	tables := reftables.NewTables()
	rng := rand.New(rand.NewSource(1))
	res := Calculate(rng, map[string]float64{"en:mystery*": 50}, 50, "carbon_footprint", tables, false)
	assert.Equal(t, 0.0, res.Total)
	assert.Equal(t, 0.0, res.CharacterizedMass)
}

func TestCalculateFullyCharacterizedNoInflation(t *testing.T) {
	tables := tablesWithImpact("en:water", "carbon_footprint", 1.0) // 1 per kg
	rng := rand.New(rand.NewSource(1))
	res := Calculate(rng, map[string]float64{"en:water*": 1000}, 1000, "carbon_footprint", tables, false)
	assert.InDelta(t, 1.0, res.Total, 1e-9)
	assert.Equal(t, 1000.0, res.CharacterizedMass)
}

func TestCalculateInflatesForUncharacterizedMass(t *testing.T) {
	tables := tablesWithImpact("en:water", "carbon_footprint", 2.0)
	rng := rand.New(rand.NewSource(1))
	masses := map[string]float64{"en:water*": 500, "en:unknown*": 500}
	res := Calculate(rng, masses, 1000, "carbon_footprint", tables, false)
	// raw = 2.0 * 500 / 1000 = 1.0, characterized mass 500, inflated = 1.0 * 1000/500 = 2.0
	assert.InDelta(t, 2.0, res.Total, 1e-9)
	assert.InDelta(t, 2.0, res.SharesByLeafID["en:water*"], 1e-9)
}

func TestSampleNormalMatchesMeanOnAverage(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	d := reftables.UncertaintyDistribution{Kind: reftables.DistNormal, Mean: 10, StdDev: 0}
	assert.Equal(t, 10.0, Sample(rng, d))
}

func TestSampleLognormalPreservesSign(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	d := reftables.UncertaintyDistribution{Kind: reftables.DistLognormal, GMean: -5, GStdDev: 1}
	v := Sample(rng, d)
	assert.Less(t, v, 0.0)
}

func TestSampleUniformBounded(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	d := reftables.UncertaintyDistribution{Kind: reftables.DistUniform, Min: 2, Max: 4}
	for i := 0; i < 50; i++ {
		v := Sample(rng, d)
		assert.GreaterOrEqual(t, v, 2.0)
		assert.LessOrEqual(t, v, 4.0)
	}
}

func TestSampleTriangularDegenerateReturnsMin(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	assert.Equal(t, 3.0, sampleTriangular(rng, 3, 3, 3))
}

func TestSampleUnknownKindReturnsZero(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	assert.Equal(t, 0.0, Sample(rng, reftables.UncertaintyDistribution{Kind: "bogus"}))
}
