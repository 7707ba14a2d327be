package fitservice

import (
	"fmt"
	"sort"
	"strings"

	"github.com/starford/spamm/internal/apperr"
	"github.com/starford/spamm/internal/component"
	"github.com/starford/spamm/internal/sampler"
)

// Settings holds the per-component prior configuration and the default
// sampler settings applied to every run.
type Settings struct {
	NuclearContinuum component.NuclearContinuumConfig
	HostGalaxy       component.HostGalaxyConfig
	FeForest         component.FeForestConfig
	BalmerContinuum  component.BalmerContinuumConfig
	Extinction       component.ExtinctionConfig
	Sampler          sampler.Config
}

// DefaultSettings returns the built-in priors and sampler defaults.
func DefaultSettings() Settings {
	return Settings{
		NuclearContinuum: component.DefaultNuclearContinuumConfig(),
		HostGalaxy:       component.DefaultHostGalaxyConfig(),
		FeForest:         component.DefaultFeForestConfig(),
		BalmerContinuum:  component.DefaultBalmerContinuumConfig(),
		Extinction:       component.DefaultExtinctionConfig(),
		Sampler:          sampler.DefaultConfig(),
	}
}

// ComponentInfo describes one selectable component.
type ComponentInfo struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	Analytic    bool   `json:"analytic"`
	Combination string `json:"combination"`
	Description string `json:"description"`
}

type factory struct {
	info ComponentInfo
	make func(Settings, component.TemplateSource) component.Component
}

var factories = map[string]factory{
	"PL": {
		info: ComponentInfo{Code: "PL", Name: "nuclear_continuum", Analytic: true, Combination: "additive",
			Description: "AGN power-law continuum normalised at the median wavelength"},
		make: func(s Settings, _ component.TemplateSource) component.Component {
			return component.NewNuclearContinuum(s.NuclearContinuum)
		},
	},
	"HOST": {
		info: ComponentInfo{Code: "HOST", Name: "host_galaxy", Combination: "additive",
			Description: "sum of scaled stellar population templates"},
		make: func(s Settings, src component.TemplateSource) component.Component {
			return component.NewHostGalaxy(s.HostGalaxy, src)
		},
	},
	"FE": {
		info: ComponentInfo{Code: "FE", Name: "fe_forest", Combination: "additive",
			Description: "Fe II emission templates broadened by a Gaussian velocity kernel"},
		make: func(s Settings, src component.TemplateSource) component.Component {
			return component.NewFeForest(s.FeForest, src)
		},
	},
	"BC": {
		info: ComponentInfo{Code: "BC", Name: "balmer_continuum", Analytic: true, Combination: "additive",
			Description: "partially optically thick Balmer continuum below 3646 Å"},
		make: func(s Settings, _ component.TemplateSource) component.Component {
			return component.NewBalmerContinuum(s.BalmerContinuum)
		},
	},
	"CALZETTI_EXT": {
		info: ComponentInfo{Code: "CALZETTI_EXT", Name: "extinction", Analytic: true, Combination: "multiplicative",
			Description: "Calzetti (2000) dust attenuation applied to the summed flux"},
		make: func(s Settings, _ component.TemplateSource) component.Component {
			return component.NewExtinction(s.Extinction)
		},
	},
}

// lookup accepts a component code or its full name, case-insensitively.
func lookup(name string) (factory, error) {
	key := strings.ToUpper(strings.TrimSpace(name))
	if f, ok := factories[key]; ok {
		return f, nil
	}
	for _, f := range factories {
		if strings.EqualFold(f.info.Name, name) {
			return f, nil
		}
	}
	return factory{}, fmt.Errorf("fitservice: unknown component %q: %w", name, apperr.ErrInvalidConfig)
}

// NewComponent builds an unbound component by code or name.
func NewComponent(name string, settings Settings, source component.TemplateSource) (component.Component, error) {
	f, err := lookup(name)
	if err != nil {
		return nil, err
	}
	return f.make(settings, source), nil
}

// Catalogue lists every supported component ordered by code.
func Catalogue() []ComponentInfo {
	out := make([]ComponentInfo, 0, len(factories))
	for _, f := range factories {
		out = append(out, f.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}
