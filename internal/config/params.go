// Package config loads the estimator's tunable parameters (spec.md §6) and
// the constraint-relaxation schedule (spec.md §4.8) from YAML, following the
// same load-then-validate shape as the teacher's provider/guard configs.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Params holds every recognized estimate_impacts parameter (spec.md §6).
// Zero-value Params is invalid; use Defaults() as a base and override.
type Params struct {
	Quantity                      float64 `yaml:"quantity"`
	IgnoreUnknownIngredients      bool    `yaml:"ignore_unknown_ingredients"`
	UseDefinedPercent             bool    `yaml:"use_defined_prct"`
	UseNutritionalInfo            bool    `yaml:"use_nutritional_info"`
	ConstRelaxCoef                float64 `yaml:"const_relax_coef"`
	MaximumEvaporation            float64 `yaml:"maximum_evaporation"`
	TotalMassUsed                 *float64 `yaml:"total_mass_used"`
	MinPercentDistSize            int     `yaml:"min_prct_dist_size"`
	DualGapType                   string  `yaml:"dual_gap_type"`
	DualGapLimit                  float64 `yaml:"dual_gap_limit"`
	SolverTimeLimitSeconds        float64 `yaml:"solver_time_limit"`
	TimeLimitDualGapLimit         float64 `yaml:"time_limit_dual_gap_limit"`
	MinRunNb                      int     `yaml:"min_run_nb"`
	MaxRunNb                      int     `yaml:"max_run_nb"`
	ForcedRunNb                   *int    `yaml:"forced_run_nb"`
	ConfidenceIntervalWidth       float64 `yaml:"confidence_interval_width"`
	ConfidenceLevel                float64 `yaml:"confidence_level"`
	ConfidenceWeighting            bool    `yaml:"confidence_weighting"`
	UseIngredientsImpactUncertainty bool   `yaml:"use_ingredients_impact_uncertainty"`
	QuantilesPoints                []float64 `yaml:"quantiles_points"`
	DistributionsAsResult          bool    `yaml:"distributions_as_result"`
	ConfidenceScoreWeightingFactor  float64 `yaml:"confidence_score_weighting_factor"`
	SafeMode                       bool    `yaml:"safe_mode"`
	AllowUnbalancedRecipe          bool    `yaml:"allow_unbalanced_recipe"`
	Seed                           int64   `yaml:"seed"`

	// MaxConsecutiveRecipeCreationError and
	// MaxConsecutiveNullImpactCharacterizedIngredientsMass are not part of
	// the public §6 surface but are exposed here so a deployment can tune
	// them without a code change, mirroring how the teacher keeps
	// operational knobs in the same config struct as user-facing ones.
	MaxConsecutiveRecipeCreationError                    int `yaml:"max_consecutive_recipe_creation_error"`
	MaxConsecutiveNullImpactCharacterizedIngredientsMass int `yaml:"max_consecutive_null_impact_characterized_ingredients_mass"`
}

// Defaults returns the parameter set documented in spec.md §6.
func Defaults() Params {
	return Params{
		Quantity:                        100,
		IgnoreUnknownIngredients:        true,
		UseDefinedPercent:               true,
		UseNutritionalInfo:              true,
		ConstRelaxCoef:                  0,
		MaximumEvaporation:              0.4,
		TotalMassUsed:                   nil,
		MinPercentDistSize:              30,
		DualGapType:                     "absolute",
		DualGapLimit:                    1e-3,
		SolverTimeLimitSeconds:          60,
		TimeLimitDualGapLimit:           0.01,
		MinRunNb:                        30,
		MaxRunNb:                        1000,
		ForcedRunNb:                     nil,
		ConfidenceIntervalWidth:         0.05,
		ConfidenceLevel:                 0.95,
		ConfidenceWeighting:             true,
		UseIngredientsImpactUncertainty: true,
		QuantilesPoints:                 []float64{0.05, 0.25, 0.5, 0.75, 0.95},
		DistributionsAsResult:           false,
		ConfidenceScoreWeightingFactor:  10,
		SafeMode:                        true,
		AllowUnbalancedRecipe:           false,
		Seed:                            1,
		MaxConsecutiveRecipeCreationError:                    3,
		MaxConsecutiveNullImpactCharacterizedIngredientsMass: 3,
	}
}

// LoadParamsFile loads a YAML parameter override file on top of Defaults().
// Only fields present in the file are overridden; this mirrors
// LoadProvidersConfig's read-then-validate shape.
func LoadParamsFile(path string) (Params, error) {
	p := Defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("failed to read params config: %w", err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("failed to parse params config: %w", err)
	}
	if err := p.Validate(); err != nil {
		return p, fmt.Errorf("invalid params config: %w", err)
	}
	return p, nil
}

// Validate ensures the parameter set is internally consistent.
func (p Params) Validate() error {
	if p.Quantity <= 0 {
		return fmt.Errorf("quantity must be positive, got %f", p.Quantity)
	}
	if p.ConstRelaxCoef < 0 {
		return fmt.Errorf("const_relax_coef cannot be negative, got %f", p.ConstRelaxCoef)
	}
	if p.MaximumEvaporation < 0 || p.MaximumEvaporation >= 1 {
		return fmt.Errorf("maximum_evaporation must be in [0, 1), got %f", p.MaximumEvaporation)
	}
	if p.MinPercentDistSize < 0 {
		return fmt.Errorf("min_prct_dist_size cannot be negative, got %d", p.MinPercentDistSize)
	}
	if p.DualGapType != "absolute" && p.DualGapType != "relative" {
		return fmt.Errorf("dual_gap_type must be 'absolute' or 'relative', got %q", p.DualGapType)
	}
	if p.MinRunNb <= 0 || p.MaxRunNb < p.MinRunNb {
		return fmt.Errorf("min_run_nb/max_run_nb invalid: min=%d max=%d", p.MinRunNb, p.MaxRunNb)
	}
	if p.ConfidenceIntervalWidth <= 0 {
		return fmt.Errorf("confidence_interval_width must be positive, got %f", p.ConfidenceIntervalWidth)
	}
	if p.ConfidenceLevel <= 0 || p.ConfidenceLevel >= 1 {
		return fmt.Errorf("confidence_level must be in (0, 1), got %f", p.ConfidenceLevel)
	}
	for _, q := range p.QuantilesPoints {
		if q < 0 || q > 1 {
			return fmt.Errorf("quantiles_points entries must be in [0, 1], got %f", q)
		}
	}
	if p.MaxConsecutiveRecipeCreationError <= 0 {
		return fmt.Errorf("max_consecutive_recipe_creation_error must be positive")
	}
	if p.MaxConsecutiveNullImpactCharacterizedIngredientsMass <= 0 {
		return fmt.Errorf("max_consecutive_null_impact_characterized_ingredients_mass must be positive")
	}
	return nil
}
