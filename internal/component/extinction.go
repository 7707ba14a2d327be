package component

import (
	"fmt"
	"math"
	"math/rand"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/spamm/internal/apperr"
	"github.com/starford/spamm/internal/spectrum"
)

// ExtinctionConfig holds the prior on E(B-V) and the total-to-selective
// ratio of the Calzetti attenuation curve.
type ExtinctionConfig struct {
	EBV Bounds  `yaml:"ebv"`
	RV  float64 `yaml:"r_v"`
}

// DefaultExtinctionConfig returns E(B-V) in (0, 1) with R_V = 4.05.
func DefaultExtinctionConfig() ExtinctionConfig {
	return ExtinctionConfig{
		EBV: Bounds{Min: 0, Max: 1},
		RV:  4.05,
	}
}

// Validate validates the configuration.
func (c *ExtinctionConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.EBV),
		validation.Field(&c.RV, validation.Required, validation.Min(0.0)),
	)
}

// Extinction attenuates the summed additive flux by the Calzetti (2000)
// starburst curve. Its Flux is the transmission 10^(-0.4·E(B-V)·k(λ)).
type Extinction struct {
	cfg ExtinctionConfig

	bound bool
	curve []float64
}

var _ Component = (*Extinction)(nil)

func NewExtinction(cfg ExtinctionConfig) *Extinction {
	return &Extinction{cfg: cfg}
}

func (e *Extinction) Name() string { return "extinction" }

func (e *Extinction) ParameterNames() []string { return []string{"ebv"} }

func (e *Extinction) ParameterCount() int { return 1 }

func (e *Extinction) IsAnalytic() bool { return true }

func (e *Extinction) Combination() Combination { return Multiplicative }

// Initialize evaluates k(λ) on the data grid once.
func (e *Extinction) Initialize(sp *spectrum.Spectrum) error {
	if sp == nil {
		return errNoSpectrum(e.Name())
	}
	wl := sp.Wavelength()
	curve := make([]float64, len(wl))
	for i, w := range wl {
		curve[i] = CalzettiK(w, e.cfg.RV)
	}
	e.curve = curve
	e.bound = true
	return nil
}

func (e *Extinction) InitialValues(_ *spectrum.Spectrum, rng *rand.Rand) ([]float64, error) {
	if !e.bound {
		return nil, errUnbound(e.Name())
	}
	return []float64{e.cfg.EBV.Draw(rng)}, nil
}

func (e *Extinction) LnPriors(params []float64) ([]float64, error) {
	if err := checkParams(e, params); err != nil {
		return nil, err
	}
	if !e.bound {
		return nil, errUnbound(e.Name())
	}
	return []float64{e.cfg.EBV.LnPrior(params[0])}, nil
}

func (e *Extinction) Flux(sp *spectrum.Spectrum, params []float64) ([]float64, error) {
	if err := checkParams(e, params); err != nil {
		return nil, err
	}
	if !e.bound {
		return nil, errUnbound(e.Name())
	}
	if sp == nil {
		return nil, errNoSpectrum(e.Name())
	}
	if sp.Len() != len(e.curve) {
		return nil, fmt.Errorf("%s: spectrum has %d samples, component bound to %d: %w",
			e.Name(), sp.Len(), len(e.curve), apperr.ErrContract)
	}
	ebv := params[0]
	out := make([]float64, len(e.curve))
	for i, k := range e.curve {
		out[i] = math.Pow(10, -0.4*ebv*k)
	}
	return out, nil
}

// CalzettiK is the Calzetti et al. (2000) attenuation curve k(λ) for λ in Å.
// Outside 1200–22000 Å the polynomial branches are extrapolated; negative
// values are clipped to zero.
func CalzettiK(wavelengthA, rv float64) float64 {
	x := 1 / (wavelengthA * 1e-4)
	var k float64
	if wavelengthA < 6300 {
		k = 2.659*(-2.156+1.509*x-0.198*x*x+0.011*x*x*x) + rv
	} else {
		k = 2.659*(-1.857+1.040*x) + rv
	}
	return math.Max(k, 0)
}
