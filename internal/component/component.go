// Package component defines the physical models that are summed into a
// composite spectrum, and the contract every one of them satisfies.
//
// Lifecycle: construct (no data) → Load (template-based kinds only) →
// Initialize(spectrum) → read-only evaluation. Prior bounds that depend on
// the data are fixed by Initialize. After Initialize a component is safe for
// concurrent LnPriors and Flux calls: every Flux call returns a freshly
// allocated slice.
package component

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/starford/spamm/internal/apperr"
	"github.com/starford/spamm/internal/spectrum"
)

// RejectLnPrior is the log-prior of a parameter outside its bounds. It is
// finite so that sums stay representable.
const RejectLnPrior = -1.0e17

// DefaultBoxcarWidth is the running-mean width applied to the observed flux
// before taking the normalization ceiling.
const DefaultBoxcarWidth = 5

// Combination says how a component's Flux enters the composite model.
type Combination int

const (
	// Additive components contribute flux that is summed.
	Additive Combination = iota
	// Multiplicative components return a transmission curve applied to the
	// summed additive flux.
	Multiplicative
)

func (c Combination) String() string {
	if c == Multiplicative {
		return "multiplicative"
	}
	return "additive"
}

// Component is a pluggable physical model with its own parameters and priors.
type Component interface {
	// Name identifies the component kind, e.g. "nuclear_continuum".
	Name() string
	// ParameterNames is stable and has length ParameterCount. Template-based
	// components report no parameters until their templates are loaded.
	ParameterNames() []string
	ParameterCount() int
	// IsAnalytic is true when flux is closed-form and needs no template grid.
	IsAnalytic() bool
	Combination() Combination

	// Initialize binds the component to the data wavelength grid and fixes
	// data-dependent prior bounds.
	Initialize(sp *spectrum.Spectrum) error
	// InitialValues draws one value per parameter from its prior.
	InitialValues(sp *spectrum.Spectrum, rng *rand.Rand) ([]float64, error)
	// LnPriors returns the natural-log prior density of each parameter.
	LnPriors(params []float64) ([]float64, error)
	// Flux evaluates the component on sp's wavelength grid.
	Flux(sp *spectrum.Spectrum, params []float64) ([]float64, error)
}

// Bounds is a flat prior on the open interval (Min, Max).
type Bounds struct {
	Min float64 `yaml:"min" json:"min"`
	Max float64 `yaml:"max" json:"max"`
}

// Validate checks that the interval is finite and non-empty.
func (b Bounds) Validate() error {
	if math.IsNaN(b.Min) || math.IsInf(b.Min, 0) || math.IsNaN(b.Max) || math.IsInf(b.Max, 0) {
		return fmt.Errorf("bounds (%g, %g) must be finite", b.Min, b.Max)
	}
	if !(b.Max > b.Min) {
		return fmt.Errorf("max %g must exceed min %g", b.Max, b.Min)
	}
	return nil
}

// Contains applies strict inequality on both sides.
func (b Bounds) Contains(v float64) bool {
	return b.Min < v && v < b.Max
}

// LnPrior is 0 inside the bounds and RejectLnPrior outside.
func (b Bounds) LnPrior(v float64) float64 {
	if b.Contains(v) {
		return 0
	}
	return RejectLnPrior
}

// Draw samples uniformly from the open interval.
func (b Bounds) Draw(rng *rand.Rand) float64 {
	for {
		v := b.Min + rng.Float64()*(b.Max-b.Min)
		if b.Contains(v) {
			return v
		}
	}
}

func checkParams(c Component, params []float64) error {
	if len(params) != c.ParameterCount() {
		return fmt.Errorf("%s: got %d parameters, want %d: %w",
			c.Name(), len(params), c.ParameterCount(), apperr.ErrContract)
	}
	return nil
}

func errUnbound(name string) error {
	return fmt.Errorf("%s: not initialized with a data spectrum: %w", name, apperr.ErrContract)
}

func errNoSpectrum(name string) error {
	return fmt.Errorf("%s: the data spectrum must be specified: %w", name, apperr.ErrContract)
}

// normalizationBounds is the prior on any flux normalization: (0, smoothed
// max of the observed flux).
func normalizationBounds(name string, sp *spectrum.Spectrum, boxcar int) (Bounds, error) {
	ceiling := spectrum.SmoothedMax(sp.Flux(), boxcar)
	b := Bounds{Min: 0, Max: ceiling}
	if err := b.Validate(); err != nil {
		return Bounds{}, fmt.Errorf("%s: normalization prior: observed flux has no positive level: %w",
			name, apperr.ErrInvalidConfig)
	}
	return b, nil
}
