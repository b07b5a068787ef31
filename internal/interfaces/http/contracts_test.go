package http

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/openfoodfacts/off-product-environmental-impact/internal/config"
	"github.com/openfoodfacts/off-product-environmental-impact/internal/estimate"
)

func TestNodeRequestToNodeConvertsNestedTree(t *testing.T) {
	percent := 40.0
	req := NodeRequest{
		ID:      "en:filling",
		Percent: &percent,
		Ingredients: []NodeRequest{
			{ID: "en:sugar"},
			{ID: "en:flour"},
		},
	}
	node := req.ToNode()
	assert.Equal(t, "en:filling", node.ID)
	assert.Equal(t, 40.0, *node.Percent)
	assert.Len(t, node.Sub, 2)
	assert.Equal(t, "en:sugar", node.Sub[0].ID)
	assert.Nil(t, node.Sub[0].Percent)
}

func TestEstimateRequestToProduct(t *testing.T) {
	req := EstimateRequest{
		ProductID:      "prod-1",
		Ingredients:    []NodeRequest{{ID: "en:water"}},
		Nutriments:     map[string]float64{"proteins_100g": 5},
		CategoriesTags: []string{"en:beverages"},
	}
	product := req.ToProduct()
	assert.Equal(t, "prod-1", product.ID)
	assert.Len(t, product.Ingredients, 1)
	assert.Equal(t, 5.0, product.Nutriments["proteins_100g"])
	assert.Equal(t, []string{"en:beverages"}, product.CategoriesTags)
}

func TestParamsOverrideApplyOnlyOverridesSetFields(t *testing.T) {
	base := config.Defaults()
	quantity := 250.0
	override := &ParamsOverride{Quantity: &quantity}

	result := override.Apply(base)

	assert.Equal(t, 250.0, result.Quantity)
	assert.Equal(t, base.MaximumEvaporation, result.MaximumEvaporation)
	assert.Equal(t, base.MinRunNb, result.MinRunNb)
}

func TestParamsOverrideApplyNilReturnsBase(t *testing.T) {
	base := config.Defaults()
	var override *ParamsOverride
	assert.Equal(t, base, override.Apply(base))
}

func TestParamsOverrideApplyForcedRunNb(t *testing.T) {
	base := config.Defaults()
	forced := 42
	override := &ParamsOverride{ForcedRunNb: &forced}
	result := override.Apply(base)
	assert.NotNil(t, result.ForcedRunNb)
	assert.Equal(t, 42, *result.ForcedRunNb)
}

func TestFormatQuantileKey(t *testing.T) {
	assert.Equal(t, "q0.05", formatQuantileKey(0.05))
	assert.Equal(t, "q0.5", formatQuantileKey(0.5))
}

func TestReliabilityName(t *testing.T) {
	assert.Equal(t, "high", reliabilityName(estimate.ReliabilityHigh))
	assert.Equal(t, "good", reliabilityName(estimate.ReliabilityGood))
	assert.Equal(t, "low", reliabilityName(estimate.ReliabilityLow))
	assert.Equal(t, "unreliable", reliabilityName(estimate.Reliability(99)))
}

func TestFromResultConvertsQuantileKeys(t *testing.T) {
	res := estimate.Result{
		ProductID:   "prod-1",
		TotalRuns:   30,
		Reliability: estimate.ReliabilityGood,
		Impacts: map[string]estimate.ImpactEstimate{
			"carbon_footprint": {
				GeometricMean: 1.2,
				Quantiles:     map[float64]float64{0.05: 0.9, 0.95: 1.5},
				Converged:     true,
			},
		},
	}
	resp := FromResult(res)
	assert.Equal(t, "prod-1", resp.ProductID)
	assert.Equal(t, 0.9, resp.Impacts["carbon_footprint"].Quantiles["q0.05"])
	assert.Equal(t, 1.5, resp.Impacts["carbon_footprint"].Quantiles["q0.95"])
	assert.True(t, resp.Impacts["carbon_footprint"].Converged)
	assert.Equal(t, "good", resp.Reliability)
}

func TestFirstCategoryTag(t *testing.T) {
	assert.Equal(t, "unknown", firstCategoryTag(nil))
	assert.Equal(t, "en:beverages", firstCategoryTag([]string{"en:beverages", "en:sodas"}))
}
