package risk

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidCurve is returned for scaling-curve parameters that cannot produce a valid fraction
var ErrInvalidCurve = errors.New("invalid scaling curve")

// Fraction maps an excursion x (in R) to the share of the position to have closed.
// It is a normalized log curve: 0 at x <= 0, exactly 1 at x >= xMax, concave in between.
// k controls how front-loaded the curve is.
func Fraction(x, k, xMax float64) float64 {
	if x <= 0 || k*xMax <= 0 {
		return 0
	}
	if x >= xMax {
		return 1
	}
	f := math.Log1p(k*x) / math.Log1p(k*xMax)
	if f > 1 {
		return 1
	}
	return f
}

// CurveConfig holds the profit and loss ladder shapes
type CurveConfig struct {
	Alpha float64 // profit curve steepness
	RMax  float64 // MFE in R at which the position is fully scaled out
	Beta  float64 // loss curve steepness
	RStop float64 // MAE in R at which the position is fully cut
}

// DefaultCurveConfig returns the standard ladder shapes
func DefaultCurveConfig() CurveConfig {
	return CurveConfig{
		Alpha: 2.0,
		RMax:  2.0,
		Beta:  1.5,
		RStop: 1.0,
	}
}

// Validate rejects parameters where k*xMax <= 0 for either curve
func (c CurveConfig) Validate() error {
	if c.Alpha <= 0 || c.RMax <= 0 {
		return fmt.Errorf("%w: profit curve needs alpha > 0 and r_max > 0 (alpha=%v, r_max=%v)", ErrInvalidCurve, c.Alpha, c.RMax)
	}
	if c.Beta <= 0 || c.RStop <= 0 {
		return fmt.Errorf("%w: loss curve needs beta > 0 and r_stop > 0 (beta=%v, r_stop=%v)", ErrInvalidCurve, c.Beta, c.RStop)
	}
	return nil
}

// ProfitFraction returns the share to have closed given the maximum favorable excursion
func (c CurveConfig) ProfitFraction(mfe float64) float64 {
	return Fraction(mfe, c.Alpha, c.RMax)
}

// LossFraction returns the share to have cut given the maximum adverse excursion
func (c CurveConfig) LossFraction(mae float64) float64 {
	return Fraction(mae, c.Beta, c.RStop)
}
