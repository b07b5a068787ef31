// Package relax is the Relaxation Supervisor (spec.md §4.8). It wraps one
// sampler draw, retrying across the estimator's (use_defined_prct,
// const_relax_coef) schedule whenever the constraint model comes back
// infeasible or the solver times out, and, only once that whole schedule is
// exhausted, escalating to progressively dropping the declared-order
// constraint from the tail of the ingredient list inward.
package relax

import (
	"context"
	"errors"

	"github.com/openfoodfacts/off-product-environmental-impact/internal/config"
	"github.com/openfoodfacts/off-product-environmental-impact/internal/recipe"
	"github.com/openfoodfacts/off-product-environmental-impact/internal/sampler"
	"github.com/openfoodfacts/off-product-environmental-impact/internal/solver"
)

// Supervisor retries a single recipe draw across a relaxation schedule.
type Supervisor struct {
	Sampler  *sampler.Sampler
	Schedule []config.RelaxationStep
}

// New returns a Supervisor using the default 24-step schedule.
func New(s *sampler.Sampler) *Supervisor {
	return &Supervisor{Sampler: s, Schedule: config.DefaultRelaxationSchedule()}
}

// Outcome is one successful draw plus the relaxation state it took to get
// it, so callers (the estimator, telemetry) can report how hard a product
// was to sample.
type Outcome struct {
	Result       sampler.Result
	Step         config.RelaxationStep
	DroppedRank  int // 0 if the schedule alone succeeded
}

// Sample draws one recipe for product, escalating relaxation until one
// step succeeds or every option is exhausted. When params.SafeMode is
// false (spec.md §4.8, scenario S3), relaxation is disabled entirely: the
// first infeasibility is returned immediately instead of walking the
// schedule.
func (sv *Supervisor) Sample(ctx context.Context, product *recipe.Product, params config.Params) (Outcome, error) {
	if !params.SafeMode {
		if len(sv.Schedule) == 0 {
			return Outcome{}, errors.New("relaxation schedule is empty")
		}
		step := sv.Schedule[0]
		res, err := sv.Sampler.RandomRecipe(ctx, product, params, step, 0)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Result: res, Step: step}, nil
	}

	var lastErr error

	for _, step := range sv.Schedule {
		res, err := sv.Sampler.RandomRecipe(ctx, product, params, step, 0)
		if err == nil {
			return Outcome{Result: res, Step: step}, nil
		}
		if !isRelaxable(err) {
			return Outcome{}, err
		}
		lastErr = err
	}

	if len(sv.Schedule) == 0 {
		return Outcome{}, errors.New("relaxation schedule is empty")
	}
	lastStep := sv.Schedule[len(sv.Schedule)-1]

	topLevelCount := len(product.Ingredients)
	for rank := topLevelCount; rank >= 2; rank-- {
		res, err := sv.Sampler.RandomRecipe(ctx, product, params, lastStep, rank)
		if err == nil {
			return Outcome{Result: res, Step: lastStep, DroppedRank: rank}, nil
		}
		if !isRelaxable(err) {
			return Outcome{}, err
		}
		lastErr = err
	}

	return Outcome{}, lastErr
}

func isRelaxable(err error) bool {
	var rce *solver.RecipeCreationError
	var ste *solver.SolverTimeoutError
	return errors.As(err, &rce) || errors.As(err, &ste)
}
