package component

import (
	"math"
	"math/rand"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/spamm/internal/spectrum"
)

// NuclearContinuumConfig holds the prior settings of the power-law continuum.
type NuclearContinuumConfig struct {
	Slope       Bounds `yaml:"slope"`
	BoxcarWidth int    `yaml:"boxcar_width"`
}

// DefaultNuclearContinuumConfig returns slope bounds (-3, 3) and a 5-sample
// smoothing window.
func DefaultNuclearContinuumConfig() NuclearContinuumConfig {
	return NuclearContinuumConfig{
		Slope:       Bounds{Min: -3, Max: 3},
		BoxcarWidth: DefaultBoxcarWidth,
	}
}

// Validate validates the configuration.
func (c *NuclearContinuumConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Slope),
		validation.Field(&c.BoxcarWidth, validation.Required, validation.Min(1)),
	)
}

// NuclearContinuum is the AGN power-law continuum
//
//	F(λ) = normalization · (λ / λ_norm)^slope
//
// where λ_norm is the data's normalization wavelength.
type NuclearContinuum struct {
	cfg NuclearContinuumConfig

	bound          bool
	normWavelength float64
	normalization  Bounds
}

var _ Component = (*NuclearContinuum)(nil)

// NewNuclearContinuum creates an unbound power-law component.
func NewNuclearContinuum(cfg NuclearContinuumConfig) *NuclearContinuum {
	return &NuclearContinuum{cfg: cfg}
}

func (n *NuclearContinuum) Name() string { return "nuclear_continuum" }
func (n *NuclearContinuum) ParameterNames() []string { return []string{"normalization", "slope"} }
func (n *NuclearContinuum) ParameterCount() int { return 2 }
func (n *NuclearContinuum) IsAnalytic() bool { return true }
func (n *NuclearContinuum) Combination() Combination { return Additive }

// NormalizationWavelength returns the cached λ_norm, or an error before
// Initialize.
func (n *NuclearContinuum) NormalizationWavelength() (float64, error) {
	if !n.bound {
		return 0, errUnbound(n.Name())
	}
	return n.normWavelength, nil
}

// Initialize caches λ_norm and the normalization prior.
func (n *NuclearContinuum) Initialize(sp *spectrum.Spectrum) error {
	if sp == nil {
		return errNoSpectrum(n.Name())
	}
	norm, err := normalizationBounds(n.Name(), sp, n.cfg.BoxcarWidth)
	if err != nil {
		return err
	}
	n.normalization = norm
	n.normWavelength = sp.NormalizationWavelength()
	n.bound = true
	return nil
}

func (n *NuclearContinuum) InitialValues(_ *spectrum.Spectrum, rng *rand.Rand) ([]float64, error) {
	if !n.bound {
		return nil, errUnbound(n.Name())
	}
	return []float64{n.normalization.Draw(rng), n.cfg.Slope.Draw(rng)}, nil
}

func (n *NuclearContinuum) LnPriors(params []float64) ([]float64, error) {
	if err := checkParams(n, params); err != nil {
		return nil, err
	}
	if !n.bound {
		return nil, errUnbound(n.Name())
	}
	return []float64{
		n.normalization.LnPrior(params[0]),
		n.cfg.Slope.LnPrior(params[1]),
	}, nil
}

func (n *NuclearContinuum) Flux(sp *spectrum.Spectrum, params []float64) ([]float64, error) {
	if err := checkParams(n, params); err != nil {
		return nil, err
	}
	if !n.bound {
		return nil, errUnbound(n.Name())
	}
	if sp == nil {
		return nil, errNoSpectrum(n.Name())
	}
	norm, slope := params[0], params[1]
	wl := sp.Wavelength()
	out := make([]float64, len(wl))
	for i, w := range wl {
		out[i] = norm * math.Pow(w/n.normWavelength, slope)
	}
	return out, nil
}
