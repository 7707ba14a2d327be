// Package spectrum holds the observed data container and the template type
// shared by every component.
//
// A Spectrum is immutable after construction. Accessors return the backing
// slices directly so the hot evaluation path never copies; callers must treat
// them as read-only.
package spectrum

import (
	"fmt"
	"math"
	"sort"

	"github.com/starford/spamm/internal/apperr"
)

// Spectrum is an observed flux density sampled on a strictly increasing
// wavelength axis, with an optional per-point uncertainty.
type Spectrum struct {
	wavelength []float64
	flux       []float64
	fluxError  []float64

	normWavelength float64
	normFlux       float64
}

// New validates the columns and returns an immutable Spectrum. fluxError may
// be nil when no uncertainty is available.
func New(wavelength, flux, fluxError []float64) (*Spectrum, error) {
	if len(wavelength) == 0 {
		return nil, fmt.Errorf("spectrum: empty wavelength axis: %w", apperr.ErrInvalidConfig)
	}
	if len(flux) != len(wavelength) {
		return nil, fmt.Errorf("spectrum: %d flux values for %d wavelengths: %w",
			len(flux), len(wavelength), apperr.ErrInvalidConfig)
	}
	if fluxError != nil && len(fluxError) != len(wavelength) {
		return nil, fmt.Errorf("spectrum: %d flux errors for %d wavelengths: %w",
			len(fluxError), len(wavelength), apperr.ErrInvalidConfig)
	}
	if err := checkIncreasing(wavelength); err != nil {
		return nil, fmt.Errorf("spectrum: %w", err)
	}
	for i, f := range flux {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("spectrum: non-finite flux at index %d: %w", i, apperr.ErrInvalidConfig)
		}
	}
	for i, e := range fluxError {
		if !(e > 0) || math.IsInf(e, 0) {
			return nil, fmt.Errorf("spectrum: flux error at index %d must be positive, got %g: %w",
				i, e, apperr.ErrInvalidConfig)
		}
	}

	s := &Spectrum{
		wavelength: append([]float64(nil), wavelength...),
		flux:       append([]float64(nil), flux...),
	}
	if fluxError != nil {
		s.fluxError = append([]float64(nil), fluxError...)
	}

	s.normWavelength = Median(s.wavelength)
	if len(s.wavelength) == 1 {
		s.normFlux = s.flux[0]
	} else {
		in, err := NewInterpolator(s.wavelength, s.flux)
		if err != nil {
			return nil, fmt.Errorf("spectrum: %w", err)
		}
		s.normFlux, err = in.At(s.normWavelength)
		if err != nil {
			return nil, fmt.Errorf("spectrum: %w", err)
		}
	}
	return s, nil
}

// Len returns the number of samples.
func (s *Spectrum) Len() int { return len(s.wavelength) }

// Wavelength returns the wavelength axis.
func (s *Spectrum) Wavelength() []float64 { return s.wavelength }

// Flux returns the observed flux.
func (s *Spectrum) Flux() []float64 { return s.flux }

// FluxError returns the per-point uncertainty, or nil if none was supplied.
func (s *Spectrum) FluxError() []float64 { return s.fluxError }

// HasFluxError reports whether an uncertainty array is present.
func (s *Spectrum) HasFluxError() bool { return s.fluxError != nil }

// NormalizationWavelength is the median of the wavelength axis. Every
// component defines its normalization parameter at this wavelength.
func (s *Spectrum) NormalizationWavelength() float64 { return s.normWavelength }

// FluxAtNormalizationWavelength is the observed flux linearly interpolated at
// NormalizationWavelength.
func (s *Spectrum) FluxAtNormalizationWavelength() float64 { return s.normFlux }

// Template is a reference spectrum at its native sampling, as loaded from a
// template library. Templates are never mutated after load.
type Template struct {
	Name       string
	Wavelength []float64
	Flux       []float64
}

// Validate checks that the template can be interpolated.
func (t Template) Validate() error {
	if len(t.Wavelength) < 2 {
		return fmt.Errorf("template %q: need at least 2 samples, got %d: %w",
			t.Name, len(t.Wavelength), apperr.ErrInvalidConfig)
	}
	if len(t.Flux) != len(t.Wavelength) {
		return fmt.Errorf("template %q: %d flux values for %d wavelengths: %w",
			t.Name, len(t.Flux), len(t.Wavelength), apperr.ErrInvalidConfig)
	}
	if err := checkIncreasing(t.Wavelength); err != nil {
		return fmt.Errorf("template %q: %w", t.Name, err)
	}
	return nil
}

// Median returns the median of values, averaging the two central elements
// for even lengths. values is not modified.
func Median(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return math.NaN()
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return 0.5 * (sorted[n/2-1] + sorted[n/2])
}

func checkIncreasing(xs []float64) error {
	for i, x := range xs {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return fmt.Errorf("non-finite wavelength at index %d: %w", i, apperr.ErrInvalidConfig)
		}
		if i > 0 && !(x > xs[i-1]) {
			return fmt.Errorf("wavelength not strictly increasing at index %d (%g after %g): %w",
				i, x, xs[i-1], apperr.ErrInvalidConfig)
		}
	}
	return nil
}
