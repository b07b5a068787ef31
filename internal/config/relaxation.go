package config

// RelaxationStep is one entry of the constraint-relaxation schedule
// (spec.md §4.8): a (use_defined_prct, const_relax_coef) pair tried, in
// order, by the Relaxation Supervisor when the base call fails with
// RecipeCreationError or SolverTimeoutError.
type RelaxationStep struct {
	UseDefinedPercent bool
	ConstRelaxCoef    float64
}

// DefaultRelaxationSchedule is the 24-step sequence carried over from the
// original implementation (see SPEC_FULL.md "Supplemented features"):
// declared percentages are kept as long as possible while ρ widens, then
// dropped and the same ρ walk repeats. Steps are strictly non-increasing in
// restrictiveness, as spec.md §4.8 requires.
func DefaultRelaxationSchedule() []RelaxationStep {
	coefs := []float64{0.01, 0.05, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0}
	schedule := make([]RelaxationStep, 0, 2*len(coefs))
	for _, useDefined := range []bool{true, false} {
		for _, c := range coefs {
			schedule = append(schedule, RelaxationStep{UseDefinedPercent: useDefined, ConstRelaxCoef: c})
		}
	}
	return schedule
}
