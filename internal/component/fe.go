package component

import (
	"math"
	"sort"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/spamm/internal/spectrum"
)

// SpeedOfLight in km/s.
const SpeedOfLight = 299792.458

// FeForestConfig holds the template set and prior settings of the iron
// emission forest.
type FeForestConfig struct {
	TemplateSet string `yaml:"template_set"`
	Width       Bounds `yaml:"fe_width"`
	BoxcarWidth int    `yaml:"boxcar_width"`
}

// DefaultFeForestConfig uses the "default" set and a (1000, 10000) km/s
// line width prior.
func DefaultFeForestConfig() FeForestConfig {
	return FeForestConfig{
		TemplateSet: "default",
		Width:       Bounds{Min: 1000, Max: 10000},
		BoxcarWidth: DefaultBoxcarWidth,
	}
}

// Validate validates the configuration.
func (c *FeForestConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.TemplateSet, validation.Required),
		validation.Field(&c.Width),
		validation.Field(&c.BoxcarWidth, validation.Required, validation.Min(1)),
	); err != nil {
		return err
	}
	if c.Width.Min < 0 {
		return validation.Errors{"width": validation.NewError("fe_width_negative", "width must be non-negative")}
	}
	return nil
}

// FeForest sums N scaled Fe II templates and broadens the result with a
// Gaussian of velocity width fe_width. Parameters are
// normalization_1..normalization_N followed by fe_width.
type FeForest struct {
	templateComponent
}

var _ Component = (*FeForest)(nil)

// NewFeForest creates an unloaded Fe forest component.
func NewFeForest(cfg FeForestConfig, source TemplateSource) *FeForest {
	return &FeForest{templateComponent{
		kind:      "fe_forest",
		set:       cfg.TemplateSet,
		source:    source,
		boxcar:    cfg.BoxcarWidth,
		shapeName: "fe_width",
		shape:     cfg.Width,
	}}
}

func (f *FeForest) Flux(sp *spectrum.Spectrum, params []float64) ([]float64, error) {
	sum, err := f.scaledSum(sp, params)
	if err != nil {
		return nil, err
	}
	return broaden(sp.Wavelength(), sum, params[len(params)-1]), nil
}

// broaden convolves flux with a Gaussian whose sigma at each output
// wavelength is λ·width/c, truncated at ±4σ and renormalised over the
// samples that fall inside the grid.
func broaden(wl, flux []float64, width float64) []float64 {
	out := make([]float64, len(flux))
	if width <= 0 {
		copy(out, flux)
		return out
	}
	for i, w := range wl {
		sigma := w * width / SpeedOfLight
		lo := sort.SearchFloat64s(wl, w-4*sigma)
		hi := sort.SearchFloat64s(wl, w+4*sigma)
		if hi < len(wl) && wl[hi] <= w+4*sigma {
			hi++
		}
		var num, den float64
		for j := lo; j < hi; j++ {
			d := (wl[j] - w) / sigma
			k := math.Exp(-0.5 * d * d)
			num += k * flux[j]
			den += k
		}
		out[i] = num / den
	}
	return out
}
