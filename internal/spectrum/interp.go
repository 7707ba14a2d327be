package spectrum

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/interp"

	"github.com/starford/spamm/internal/apperr"
)

// Interpolator is a piecewise-linear interpolant that refuses to
// extrapolate outside its native support.
type Interpolator struct {
	pl       interp.PiecewiseLinear
	min, max float64
}

// NewInterpolator fits xs/ys. xs must be strictly increasing with at least
// two points.
func NewInterpolator(xs, ys []float64) (*Interpolator, error) {
	if len(xs) < 2 || len(xs) != len(ys) {
		return nil, fmt.Errorf("interpolator: need >= 2 paired samples, got %d/%d: %w",
			len(xs), len(ys), apperr.ErrInvalidConfig)
	}
	if err := checkIncreasing(xs); err != nil {
		return nil, fmt.Errorf("interpolator: %w", err)
	}
	in := &Interpolator{min: xs[0], max: xs[len(xs)-1]}
	if err := in.pl.Fit(xs, ys); err != nil {
		return nil, fmt.Errorf("interpolator: fit: %w", err)
	}
	return in, nil
}

// Covers reports whether [lo, hi] lies inside the native support.
func (in *Interpolator) Covers(lo, hi float64) bool {
	return lo >= in.min && hi <= in.max
}

// Range returns the native support.
func (in *Interpolator) Range() (float64, float64) { return in.min, in.max }

// At evaluates the interpolant at x.
func (in *Interpolator) At(x float64) (float64, error) {
	if x < in.min || x > in.max {
		return 0, fmt.Errorf("interpolator: %g outside [%g, %g]: %w", x, in.min, in.max, apperr.ErrContract)
	}
	return in.pl.Predict(x), nil
}

// Resample evaluates the interpolant on every point of xs.
func (in *Interpolator) Resample(xs []float64) ([]float64, error) {
	if len(xs) == 0 {
		return nil, nil
	}
	if !in.Covers(floats.Min(xs), floats.Max(xs)) {
		return nil, fmt.Errorf("interpolator: grid [%g, %g] outside [%g, %g]: %w",
			floats.Min(xs), floats.Max(xs), in.min, in.max, apperr.ErrContract)
	}
	out := make([]float64, len(xs))
	for i, x := range xs {
		out[i] = in.pl.Predict(x)
	}
	return out, nil
}

// SmoothedMax returns the maximum of a causal running mean of width window
// over values. Windows running past the end are zero-padded, so the tail is
// damped rather than renormalised. A single noisy spike therefore cannot set
// the ceiling on its own.
func SmoothedMax(values []float64, window int) float64 {
	if len(values) == 0 {
		return 0
	}
	if window < 1 {
		window = 1
	}
	smoothed := make([]float64, len(values))
	for k := range values {
		end := min(k+window, len(values))
		smoothed[k] = floats.Sum(values[k:end]) / float64(window)
	}
	return floats.Max(smoothed)
}
