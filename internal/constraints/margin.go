package constraints

import "fmt"

// Margin is a nutriment's EU-directive-derived tolerance: exactly one of
// Absolute/Relative is non-zero (spec.md §3 nutritional tolerance table,
// grounded on utils.nutritional_error_margin).
type Margin struct {
	Absolute float64
	Relative float64
}

// NutritionalErrorMargin returns the tolerance applicable to a declared
// nutriment value (fraction of mass, in [0, 1]).
func NutritionalErrorMargin(nutriment string, value float64) (Margin, error) {
	switch nutriment {
	case "proteins", "carbohydrates", "sugars", "fiber":
		switch {
		case value < 0.1:
			return Margin{Absolute: 0.02}, nil
		case value < 0.4:
			return Margin{Relative: 0.2}, nil
		default:
			return Margin{Absolute: 0.08}, nil
		}
	case "fat":
		switch {
		case value < 0.1:
			return Margin{Absolute: 0.015}, nil
		case value < 0.4:
			return Margin{Relative: 0.2}, nil
		default:
			return Margin{Absolute: 0.08}, nil
		}
	case "saturated-fat":
		if value < 0.04 {
			return Margin{Absolute: 0.008}, nil
		}
		return Margin{Relative: 0.2}, nil
	case "salt":
		if value < 0.0125 {
			return Margin{Absolute: 0.00375}, nil
		}
		return Margin{Relative: 0.2}, nil
	default:
		return Margin{}, fmt.Errorf("nutriment %q is not recognized", nutriment)
	}
}

// Bounds returns [min, max] (fraction of mass) for a declared value once its
// margin is applied.
func (m Margin) Bounds(value float64) (min, max float64) {
	if m.Absolute > 0 {
		return value - m.Absolute, value + m.Absolute
	}
	delta := value * m.Relative
	return value - delta, value + delta
}
