package component

import (
	"fmt"
	"math"
	"math/rand"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/spamm/internal/apperr"
	"github.com/starford/spamm/internal/spectrum"
)

// BalmerEdge is the Balmer series limit in Å.
const BalmerEdge = 3646.0

const (
	planckH      = 6.62607015e-34
	boltzmannK   = 1.380649e-23
	lightSpeedMS = 2.99792458e8
)

// BalmerContinuumConfig holds the prior settings of the Balmer continuum.
type BalmerContinuumConfig struct {
	ElectronTemperature Bounds `yaml:"electron_temperature"`
	OpticalDepth        Bounds `yaml:"optical_depth"`
	BoxcarWidth         int    `yaml:"boxcar_width"`
}

// DefaultBalmerContinuumConfig returns T_e in (5000, 20000) K and τ in
// (0.1, 2).
func DefaultBalmerContinuumConfig() BalmerContinuumConfig {
	return BalmerContinuumConfig{
		ElectronTemperature: Bounds{Min: 5000, Max: 20000},
		OpticalDepth:        Bounds{Min: 0.1, Max: 2},
		BoxcarWidth:         DefaultBoxcarWidth,
	}
}

// Validate validates the configuration.
func (c *BalmerContinuumConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.ElectronTemperature),
		validation.Field(&c.OpticalDepth),
		validation.Field(&c.BoxcarWidth, validation.Required, validation.Min(1)),
	); err != nil {
		return err
	}
	if c.ElectronTemperature.Min < 0 {
		return validation.Errors{"electron_temperature": validation.NewError("temperature_not_positive", "min must not be negative")}
	}
	if c.OpticalDepth.Min < 0 {
		return validation.Errors{"optical_depth": validation.NewError("optical_depth_not_positive", "min must not be negative")}
	}
	return nil
}

// BalmerContinuum is the partially optically thick Balmer continuum
//
//	F(λ) = N · B_λ(T)(1 − e^{−τ(λ/λ_BE)³}) / (B_λBE(T)(1 − e^{−τ}))
//
// below the Balmer edge and zero above it, so normalization is the flux at
// the edge.
type BalmerContinuum struct {
	cfg BalmerContinuumConfig

	bound         bool
	normalization Bounds
}

var _ Component = (*BalmerContinuum)(nil)

// NewBalmerContinuum creates an unbound Balmer continuum component.
func NewBalmerContinuum(cfg BalmerContinuumConfig) *BalmerContinuum {
	return &BalmerContinuum{cfg: cfg}
}

func (b *BalmerContinuum) Name() string { return "balmer_continuum" }

func (b *BalmerContinuum) ParameterNames() []string {
	return []string{"normalization", "electron_temperature", "optical_depth"}
}

func (b *BalmerContinuum) ParameterCount() int { return 3 }

func (b *BalmerContinuum) IsAnalytic() bool { return true }

func (b *BalmerContinuum) Combination() Combination { return Additive }

func (b *BalmerContinuum) Initialize(sp *spectrum.Spectrum) error {
	if sp == nil {
		return errNoSpectrum(b.Name())
	}
	norm, err := normalizationBounds(b.Name(), sp, b.cfg.BoxcarWidth)
	if err != nil {
		return err
	}
	b.normalization = norm
	b.bound = true
	return nil
}

func (b *BalmerContinuum) InitialValues(_ *spectrum.Spectrum, rng *rand.Rand) ([]float64, error) {
	if !b.bound {
		return nil, errUnbound(b.Name())
	}
	return []float64{
		b.normalization.Draw(rng),
		b.cfg.ElectronTemperature.Draw(rng),
		b.cfg.OpticalDepth.Draw(rng),
	}, nil
}

func (b *BalmerContinuum) LnPriors(params []float64) ([]float64, error) {
	if err := checkParams(b, params); err != nil {
		return nil, err
	}
	if !b.bound {
		return nil, errUnbound(b.Name())
	}
	return []float64{
		b.normalization.LnPrior(params[0]),
		b.cfg.ElectronTemperature.LnPrior(params[1]),
		b.cfg.OpticalDepth.LnPrior(params[2]),
	}, nil
}

func (b *BalmerContinuum) Flux(sp *spectrum.Spectrum, params []float64) ([]float64, error) {
	if err := checkParams(b, params); err != nil {
		return nil, err
	}
	if !b.bound {
		return nil, errUnbound(b.Name())
	}
	if sp == nil {
		return nil, errNoSpectrum(b.Name())
	}
	norm, temp, tau := params[0], params[1], params[2]
	if temp <= 0 || tau <= 0 {
		return nil, fmt.Errorf("%s: temperature %g and optical depth %g must be positive: %w",
			b.Name(), temp, tau, apperr.ErrContract)
	}

	edge := planck(BalmerEdge, temp) * -math.Expm1(-tau)
	out := make([]float64, sp.Len())
	for i, w := range sp.Wavelength() {
		if w > BalmerEdge {
			continue
		}
		x := w / BalmerEdge
		out[i] = norm * planck(w, temp) * -math.Expm1(-tau*x*x*x) / edge
	}
	return out, nil
}

// planck is the blackbody spectral radiance B_λ(T) with λ in Å, in SI units
// per metre.
func planck(wavelengthA, temp float64) float64 {
	lam := wavelengthA * 1e-10
	return 2 * planckH * lightSpeedMS * lightSpeedMS / math.Pow(lam, 5) /
		math.Expm1(planckH*lightSpeedMS/(lam*boltzmannK*temp))
}
