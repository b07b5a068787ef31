package confidence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScoreNoCommonNutrimentsReturnsOne(t *testing.T) {
	score, err := Score(Input{
		Nutri:     map[string]float64{"fiber_100g": 2},
		RefNutri:  map[string]float64{"salt_100g": 1},
		TotalMass: 100,
		MinMass:   50,
		MaxMass:   150,
	})
	require.NoError(t, err)
	assert.Equal(t, 1.0, score)
}

func TestScoreHigherWhenNutrimentsCloser(t *testing.T) {
	ref := map[string]float64{"proteins_100g": 6, "carbohydrates_100g": 46, "fat_100g": 26, "fiber_100g": 1, "salt_100g": 1}

	near, err := Score(Input{
		Nutri:           map[string]float64{"proteins_100g": 6.05, "carbohydrates_100g": 46.1, "fat_100g": 25.9, "fiber_100g": 1, "salt_100g": 1},
		RefNutri:        ref,
		TotalMass:       100,
		MinMass:         50,
		MaxMass:         150,
		WeightingFactor: 10,
	})
	require.NoError(t, err)

	far, err := Score(Input{
		Nutri:           map[string]float64{"proteins_100g": 6.8, "carbohydrates_100g": 46.9, "fat_100g": 25.1, "fiber_100g": 1, "salt_100g": 1},
		RefNutri:        ref,
		TotalMass:       100,
		MinMass:         50,
		MaxMass:         150,
		WeightingFactor: 10,
	})
	require.NoError(t, err)

	assert.Greater(t, near, far)
}

func TestScoreOutOfRangeWhenSquaredDifferenceExceedsOne(t *testing.T) {
	_, err := Score(Input{
		Nutri:     map[string]float64{"proteins_100g": 90},
		RefNutri:  map[string]float64{"proteins_100g": 6},
		TotalMass: 100,
		MinMass:   50,
		MaxMass:   150,
	})
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestScorePenalizesMassFarFromReferenceMass(t *testing.T) {
	nutri := map[string]float64{"proteins_100g": 6}
	small, err := Score(Input{Nutri: nutri, RefNutri: nutri, TotalMass: 10, MinMass: 5, MaxMass: 100})
	require.NoError(t, err)
	reference, err := Score(Input{Nutri: nutri, RefNutri: nutri, TotalMass: 100, MinMass: 5, MaxMass: 100})
	require.NoError(t, err)
	assert.Less(t, small, reference)
}

func TestScoreMonotonicAroundReferenceMass(t *testing.T) {
	// P9: holding the nutritional vector at the reference, the score is
	// maximal at total mass = 100g and strictly decreases moving away from
	// it in either direction within the configured bounds.
	nutri := map[string]float64{"proteins_100g": 6}
	at100, err := Score(Input{Nutri: nutri, RefNutri: nutri, TotalMass: 100, MinMass: 50, MaxMass: 150})
	require.NoError(t, err)
	below, err := Score(Input{Nutri: nutri, RefNutri: nutri, TotalMass: 80, MinMass: 50, MaxMass: 150})
	require.NoError(t, err)
	above, err := Score(Input{Nutri: nutri, RefNutri: nutri, TotalMass: 120, MinMass: 50, MaxMass: 150})
	require.NoError(t, err)

	assert.Greater(t, at100, below)
	assert.Greater(t, at100, above)
}
