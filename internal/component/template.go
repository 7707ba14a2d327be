package component

import (
	"fmt"
	"math/rand"

	"github.com/starford/spamm/internal/apperr"
	"github.com/starford/spamm/internal/spectrum"
)

// TemplateSource resolves a named template set for a component kind.
type TemplateSource interface {
	Templates(kind, set string) ([]spectrum.Template, error)
}

// templateComponent carries the state shared by template-based components:
// N templates, one normalization per template plus one trailing shape
// parameter.
type templateComponent struct {
	kind   string
	set    string
	source TemplateSource
	boxcar int

	shapeName string
	shape     Bounds

	templates []spectrum.Template
	names     []string

	bound         bool
	gridLen       int
	normalization Bounds
	interpolated  [][]float64
	normFlux      []float64
}

func (t *templateComponent) Name() string { return t.kind }

func (t *templateComponent) IsAnalytic() bool { return false }

func (t *templateComponent) Combination() Combination { return Additive }

// ParameterNames is nil until Load succeeds.
func (t *templateComponent) ParameterNames() []string {
	return append([]string(nil), t.names...)
}

// ParameterCount is zero until Load succeeds.
func (t *templateComponent) ParameterCount() int { return len(t.names) }

// Loaded reports whether the templates have been loaded.
func (t *templateComponent) Loaded() bool { return t.templates != nil }

// TemplateNames returns the names of the loaded templates in parameter order.
func (t *templateComponent) TemplateNames() []string {
	out := make([]string, len(t.templates))
	for i, tmpl := range t.templates {
		out[i] = tmpl.Name
	}
	return out
}

// Load fetches the configured template set once. Later calls are no-ops.
func (t *templateComponent) Load() error {
	if t.Loaded() {
		return nil
	}
	if t.source == nil {
		return fmt.Errorf("%s: no template source configured: %w", t.kind, apperr.ErrInvalidConfig)
	}
	templates, err := t.source.Templates(t.kind, t.set)
	if err != nil {
		return fmt.Errorf("%s: load templates: %w", t.kind, err)
	}
	if len(templates) == 0 {
		return fmt.Errorf("%s: template set %q is empty: %w", t.kind, t.set, apperr.ErrInvalidConfig)
	}
	for _, tmpl := range templates {
		if err := tmpl.Validate(); err != nil {
			return fmt.Errorf("%s: %w", t.kind, err)
		}
	}

	names := make([]string, 0, len(templates)+1)
	for i := range templates {
		names = append(names, fmt.Sprintf("normalization_%d", i+1))
	}
	names = append(names, t.shapeName)

	t.templates = templates
	t.names = names
	return nil
}

// Initialize interpolates every template onto the data grid and at the
// normalization wavelength. The data grid must lie inside each template's
// native range.
func (t *templateComponent) Initialize(sp *spectrum.Spectrum) error {
	if sp == nil {
		return errNoSpectrum(t.kind)
	}
	if !t.Loaded() {
		return fmt.Errorf("%s: templates not loaded: %w", t.kind, apperr.ErrContract)
	}
	norm, err := normalizationBounds(t.kind, sp, t.boxcar)
	if err != nil {
		return err
	}

	wl := sp.Wavelength()
	lo, hi := wl[0], wl[len(wl)-1]
	nw := sp.NormalizationWavelength()

	interpolated := make([][]float64, len(t.templates))
	normFlux := make([]float64, len(t.templates))
	for i, tmpl := range t.templates {
		in, err := spectrum.NewInterpolator(tmpl.Wavelength, tmpl.Flux)
		if err != nil {
			return fmt.Errorf("%s: template %q: %w", t.kind, tmpl.Name, err)
		}
		if !in.Covers(lo, hi) {
			tlo, thi := in.Range()
			return fmt.Errorf("%s: template %q covers [%g, %g], data spans [%g, %g]: %w",
				t.kind, tmpl.Name, tlo, thi, lo, hi, apperr.ErrContract)
		}
		if interpolated[i], err = in.Resample(wl); err != nil {
			return fmt.Errorf("%s: template %q: %w", t.kind, tmpl.Name, err)
		}
		if normFlux[i], err = in.At(nw); err != nil {
			return fmt.Errorf("%s: template %q: %w", t.kind, tmpl.Name, err)
		}
		if normFlux[i] == 0 {
			return fmt.Errorf("%s: template %q has zero flux at %g: %w",
				t.kind, tmpl.Name, nw, apperr.ErrInvalidConfig)
		}
	}

	t.normalization = norm
	t.interpolated = interpolated
	t.normFlux = normFlux
	t.gridLen = len(wl)
	t.bound = true
	return nil
}

// InterpolatedNormalizationFlux returns each template's flux at the
// normalization wavelength, in template order.
func (t *templateComponent) InterpolatedNormalizationFlux() []float64 {
	return append([]float64(nil), t.normFlux...)
}

func (t *templateComponent) InitialValues(_ *spectrum.Spectrum, rng *rand.Rand) ([]float64, error) {
	if !t.bound {
		return nil, errUnbound(t.kind)
	}
	out := make([]float64, 0, len(t.names))
	for range t.templates {
		out = append(out, t.normalization.Draw(rng))
	}
	return append(out, t.shape.Draw(rng)), nil
}

func (t *templateComponent) LnPriors(params []float64) ([]float64, error) {
	if len(params) != len(t.names) {
		return nil, fmt.Errorf("%s: got %d parameters, want %d: %w",
			t.kind, len(params), len(t.names), apperr.ErrContract)
	}
	if !t.bound {
		return nil, errUnbound(t.kind)
	}
	out := make([]float64, len(params))
	last := len(params) - 1
	for i := 0; i < last; i++ {
		out[i] = t.normalization.LnPrior(params[i])
	}
	out[last] = t.shape.LnPrior(params[last])
	return out, nil
}

// scaleFactors converts normalization parameters into template multipliers:
// p_i / template_i(λ_norm) · F_obs(λ_norm).
func (t *templateComponent) scaleFactors(sp *spectrum.Spectrum, params []float64) []float64 {
	f0 := sp.FluxAtNormalizationWavelength()
	out := make([]float64, len(t.templates))
	for i := range t.templates {
		out[i] = params[i] / t.normFlux[i] * f0
	}
	return out
}

// scaledSum validates the call and returns Σ scale_i · template_i on the
// bound grid, in a freshly allocated slice.
func (t *templateComponent) scaledSum(sp *spectrum.Spectrum, params []float64) ([]float64, error) {
	if len(params) != len(t.names) {
		return nil, fmt.Errorf("%s: got %d parameters, want %d: %w",
			t.kind, len(params), len(t.names), apperr.ErrContract)
	}
	if !t.bound {
		return nil, errUnbound(t.kind)
	}
	if sp == nil {
		return nil, errNoSpectrum(t.kind)
	}
	if sp.Len() != t.gridLen {
		return nil, fmt.Errorf("%s: spectrum has %d samples, component bound to %d: %w",
			t.kind, sp.Len(), t.gridLen, apperr.ErrContract)
	}
	out := make([]float64, t.gridLen)
	for i, scale := range t.scaleFactors(sp, params) {
		for j, v := range t.interpolated[i] {
			out[j] += scale * v
		}
	}
	return out, nil
}
