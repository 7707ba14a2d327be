package component

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/spamm/internal/spectrum"
)

// HostGalaxyConfig holds the template set and prior settings of the host
// galaxy component.
type HostGalaxyConfig struct {
	TemplateSet       string `yaml:"template_set"`
	StellarDispersion Bounds `yaml:"stellar_dispersion"`
	BoxcarWidth       int    `yaml:"boxcar_width"`
}

// DefaultHostGalaxyConfig uses the "default" set and a (30, 600) km/s
// stellar dispersion prior.
func DefaultHostGalaxyConfig() HostGalaxyConfig {
	return HostGalaxyConfig{
		TemplateSet:       "default",
		StellarDispersion: Bounds{Min: 30, Max: 600},
		BoxcarWidth:       DefaultBoxcarWidth,
	}
}

// Validate validates the configuration.
func (c *HostGalaxyConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.TemplateSet, validation.Required),
		validation.Field(&c.StellarDispersion),
		validation.Field(&c.BoxcarWidth, validation.Required, validation.Min(1)),
	)
}

// HostGalaxy sums N scaled stellar-population templates. Parameters are
// normalization_1..normalization_N followed by stellar_dispersion.
//
// stellar_dispersion is sampled and carries a prior but does not broaden the
// templates yet, so its posterior equals its prior.
type HostGalaxy struct {
	templateComponent
}

var _ Component = (*HostGalaxy)(nil)

// NewHostGalaxy creates an unloaded host galaxy component. Call Load before
// Initialize.
func NewHostGalaxy(cfg HostGalaxyConfig, source TemplateSource) *HostGalaxy {
	return &HostGalaxy{templateComponent{
		kind:      "host_galaxy",
		set:       cfg.TemplateSet,
		source:    source,
		boxcar:    cfg.BoxcarWidth,
		shapeName: "stellar_dispersion",
		shape:     cfg.StellarDispersion,
	}}
}

func (h *HostGalaxy) Flux(sp *spectrum.Spectrum, params []float64) ([]float64, error) {
	return h.scaledSum(sp, params)
}
