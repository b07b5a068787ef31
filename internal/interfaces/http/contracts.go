// Package http is the estimator's read/write HTTP API: a POST /estimate
// endpoint and its GET /estimate/stream websocket variant, plus /health and
// /metrics, laid out the way the
// teacher lays out its own read-only HTTP server (gorilla/mux, structured
// middleware, a dedicated health handler).
package http

import (
	"strconv"
	"time"

	"github.com/openfoodfacts/off-product-environmental-impact/internal/config"
	"github.com/openfoodfacts/off-product-environmental-impact/internal/estimate"
	"github.com/openfoodfacts/off-product-environmental-impact/internal/recipe"
)

// NodeRequest is the wire shape of one ingredient tree node. Rank lets a
// legacy flat-with-rank producer mark which top-level entries are the true
// declared order and which are subingredients duplicated at top level
// (spec.md §4.1 step 3); most callers leave it unset and let preflight
// assign ranks from declared order instead.
type NodeRequest struct {
	ID          string        `json:"id"`
	Percent     *float64      `json:"percent,omitempty"`
	Rank        *int          `json:"rank,omitempty"`
	Ingredients []NodeRequest `json:"ingredients,omitempty"`
}

// ToNode converts the wire representation into the internal tree type.
func (n NodeRequest) ToNode() *recipe.Node {
	node := &recipe.Node{ID: n.ID}
	if n.Percent != nil {
		p := *n.Percent
		node.Percent = &p
	}
	if n.Rank != nil {
		r := *n.Rank
		node.Rank = &r
	}
	for _, child := range n.Ingredients {
		node.Sub = append(node.Sub, child.ToNode())
	}
	return node
}

// EstimateRequest is the body of POST /estimate.
type EstimateRequest struct {
	ProductID       string            `json:"product_id"`
	Ingredients     []NodeRequest     `json:"ingredients"`
	Nutriments      map[string]float64 `json:"nutriments"`
	CategoriesTags  []string          `json:"categories_tags"`
	Params          *ParamsOverride   `json:"params,omitempty"`
}

// ParamsOverride carries only the estimate_impacts parameters (spec.md §6)
// a caller chose to set explicitly; nil fields keep the value of the base
// parameters passed to Apply.
type ParamsOverride struct {
	Quantity                *float64 `json:"quantity,omitempty"`
	MaximumEvaporation      *float64 `json:"maximum_evaporation,omitempty"`
	TotalMassUsed           *float64 `json:"total_mass_used,omitempty"`
	MinRunNb                *int     `json:"min_run_nb,omitempty"`
	MaxRunNb                *int     `json:"max_run_nb,omitempty"`
	ForcedRunNb             *int     `json:"forced_run_nb,omitempty"`
	ConfidenceIntervalWidth *float64 `json:"confidence_interval_width,omitempty"`
	ConfidenceLevel         *float64 `json:"confidence_level,omitempty"`
	Seed                    *int64   `json:"seed,omitempty"`
	DistributionsAsResult   *bool    `json:"distributions_as_result,omitempty"`
	SafeMode                *bool    `json:"safe_mode,omitempty"`
	AllowUnbalancedRecipe   *bool    `json:"allow_unbalanced_recipe,omitempty"`
	UseDefinedPercent       *bool    `json:"use_defined_prct,omitempty"`
	UseNutritionalInfo      *bool    `json:"use_nutritional_info,omitempty"`
	ConstRelaxCoef          *float64 `json:"const_relax_coef,omitempty"`
}

// Apply overlays the override onto base, returning the merged parameters.
func (o *ParamsOverride) Apply(base config.Params) config.Params {
	if o == nil {
		return base
	}
	if o.Quantity != nil {
		base.Quantity = *o.Quantity
	}
	if o.MaximumEvaporation != nil {
		base.MaximumEvaporation = *o.MaximumEvaporation
	}
	if o.MinRunNb != nil {
		base.MinRunNb = *o.MinRunNb
	}
	if o.MaxRunNb != nil {
		base.MaxRunNb = *o.MaxRunNb
	}
	if o.ForcedRunNb != nil {
		v := *o.ForcedRunNb
		base.ForcedRunNb = &v
	}
	if o.ConfidenceIntervalWidth != nil {
		base.ConfidenceIntervalWidth = *o.ConfidenceIntervalWidth
	}
	if o.ConfidenceLevel != nil {
		base.ConfidenceLevel = *o.ConfidenceLevel
	}
	if o.Seed != nil {
		base.Seed = *o.Seed
	}
	if o.DistributionsAsResult != nil {
		base.DistributionsAsResult = *o.DistributionsAsResult
	}
	if o.TotalMassUsed != nil {
		v := *o.TotalMassUsed
		base.TotalMassUsed = &v
	}
	if o.SafeMode != nil {
		base.SafeMode = *o.SafeMode
	}
	if o.AllowUnbalancedRecipe != nil {
		base.AllowUnbalancedRecipe = *o.AllowUnbalancedRecipe
	}
	if o.UseDefinedPercent != nil {
		base.UseDefinedPercent = *o.UseDefinedPercent
	}
	if o.UseNutritionalInfo != nil {
		base.UseNutritionalInfo = *o.UseNutritionalInfo
	}
	if o.ConstRelaxCoef != nil {
		base.ConstRelaxCoef = *o.ConstRelaxCoef
	}
	return base
}

// ToProduct converts the request into the internal Product type.
func (r EstimateRequest) ToProduct() *recipe.Product {
	p := recipe.NewProduct(r.ProductID)
	for _, n := range r.Ingredients {
		p.Ingredients = append(p.Ingredients, n.ToNode())
	}
	for k, v := range r.Nutriments {
		p.Nutriments[k] = v
	}
	p.CategoriesTags = r.CategoriesTags
	return p
}

// EstimateResponse is the body of a successful POST /estimate response
// (spec.md §6 result object).
type EstimateResponse struct {
	ProductID  string                             `json:"product_id"`
	Impacts    map[string]ImpactEstimateResponse `json:"impacts"`
	TotalRuns  int                                `json:"total_runs"`
	Nutriments map[string]float64                `json:"nutriments"`

	IngredientsImpactsShare map[string]map[string]float64 `json:"ingredients_impacts_share"`
	IngredientsMassShare    map[string]float64             `json:"ingredients_mass_share"`
	ImpactsUnits            map[string]string              `json:"impacts_units"`

	ProductQuantity float64  `json:"product_quantity"`
	ConstRelaxCoef  float64  `json:"const_relax_coef"`
	Warnings        []string `json:"warnings,omitempty"`

	Reliability string `json:"reliability"`

	IgnoredUnknownIngredients                []string `json:"ignored_unknown_ingredients"`
	UncharacterizedIngredientsNutrition      []string `json:"uncharacterized_ingredients_nutrition"`
	UncharacterizedIngredientsImpact         []string `json:"uncharacterized_ingredients_impact"`
	UncharacterizedIngredientsRatio          float64  `json:"uncharacterized_ingredients_ratio"`
	UncharacterizedIngredientsMassProportion float64  `json:"uncharacterized_ingredients_mass_proportion"`

	NumberOfIngredients  int     `json:"number_of_ingredients"`
	AverageTotalUsedMass float64 `json:"average_total_used_mass"`
	CalculationTimeMs    int64   `json:"calculation_time_ms"`
	DataSources          []string `json:"data_sources"`
}

// ImpactEstimateResponse is the wire shape of one impact category's result.
type ImpactEstimateResponse struct {
	GeometricMean              float64            `json:"geometric_mean"`
	GeometricStdDev            float64            `json:"geometric_stddev"`
	Quantiles                  map[string]float64 `json:"quantiles"`
	RelativeInterquartileRange float64            `json:"relative_interquartile_range"`
	RunsUsed                   int                `json:"runs_used"`
	RolledBack                 int                `json:"rolled_back"`
	Converged                  bool               `json:"converged"`
	Warnings                   []string           `json:"warnings,omitempty"`
	Distribution               []float64          `json:"distribution,omitempty"`
}

// FromResult converts an estimate.Result into its wire representation.
func FromResult(res estimate.Result) EstimateResponse {
	resp := EstimateResponse{
		ProductID:  res.ProductID,
		Impacts:    make(map[string]ImpactEstimateResponse, len(res.Impacts)),
		TotalRuns:  res.TotalRuns,
		Nutriments: res.Nutriments,

		IngredientsImpactsShare: res.IngredientsImpactsShare,
		IngredientsMassShare:    res.IngredientsMassShare,
		ImpactsUnits:            res.ImpactsUnits,

		ProductQuantity: res.ProductQuantity,
		ConstRelaxCoef:  res.ConstRelaxCoef,
		Warnings:        res.Warnings,

		Reliability: reliabilityName(res.Reliability),

		IgnoredUnknownIngredients:                res.IgnoredUnknownIngredients,
		UncharacterizedIngredientsNutrition:      res.UncharacterizedIngredientsNutrition,
		UncharacterizedIngredientsImpact:         res.UncharacterizedIngredientsImpact,
		UncharacterizedIngredientsRatio:          res.UncharacterizedIngredientsRatio,
		UncharacterizedIngredientsMassProportion: res.UncharacterizedIngredientsMassProportion,

		NumberOfIngredients:  res.NumberOfIngredients,
		AverageTotalUsedMass: res.AverageTotalUsedMass,
		CalculationTimeMs:    res.CalculationTime.Milliseconds(),
		DataSources:          res.DataSources,
	}
	for name, est := range res.Impacts {
		quantiles := make(map[string]float64, len(est.Quantiles))
		for q, v := range est.Quantiles {
			quantiles[formatQuantileKey(q)] = v
		}
		resp.Impacts[name] = ImpactEstimateResponse{
			GeometricMean:              est.GeometricMean,
			GeometricStdDev:            est.GeometricStdDev,
			Quantiles:                  quantiles,
			RelativeInterquartileRange: est.RelativeInterquartileRange,
			RunsUsed:                   est.RunsUsed,
			RolledBack:                 est.RolledBack,
			Converged:                  est.Converged,
			Warnings:                   est.Warnings,
			Distribution:               est.Distribution,
		}
	}
	return resp
}

func reliabilityName(r estimate.Reliability) string {
	switch r {
	case estimate.ReliabilityHigh:
		return "high"
	case estimate.ReliabilityGood:
		return "good"
	case estimate.ReliabilityLow:
		return "low"
	default:
		return "unreliable"
	}
}

func formatQuantileKey(q float64) string {
	return "q" + strconv.FormatFloat(q, 'f', -1, 64)
}

// ErrorResponse is the standardized error body, matching the teacher's own
// error envelope shape.
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Code      string    `json:"code"`
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}
