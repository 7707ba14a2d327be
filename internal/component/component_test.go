package component

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/starford/spamm/internal/apperr"
	"github.com/starford/spamm/internal/spectrum"
)

func grid(lo, hi, step float64) []float64 {
	var out []float64
	for w := lo; w <= hi; w += step {
		out = append(out, w)
	}
	return out
}

func powerLawSpectrum(t *testing.T) *spectrum.Spectrum {
	t.Helper()
	wl := grid(4000, 7000, 1)
	flux := make([]float64, len(wl))
	for i, w := range wl {
		flux[i] = 2.0 * math.Pow(w/5000, -1.5)
	}
	sp, err := spectrum.New(wl, flux, nil)
	require.NoError(t, err)
	return sp
}

type staticSource map[string][]spectrum.Template

func (s staticSource) Templates(kind, set string) ([]spectrum.Template, error) {
	tmpls, ok := s[kind+"/"+set]
	if !ok {
		return nil, apperr.ErrInvalidConfig
	}
	return tmpls, nil
}

func template(name string, lo, hi float64, flux func(float64) float64) spectrum.Template {
	wl := grid(lo, hi, 5)
	fl := make([]float64, len(wl))
	for i, w := range wl {
		fl[i] = flux(w)
	}
	return spectrum.Template{Name: name, Wavelength: wl, Flux: fl}
}

func hostSource() staticSource {
	return staticSource{
		"host_galaxy/default": {
			template("flat", 3000, 8000, func(float64) float64 { return 3 }),
			template("ramp", 3000, 8000, func(w float64) float64 { return w / 1000 }),
		},
		"host_galaxy/narrow": {
			template("narrow", 4500, 6500, func(float64) float64 { return 1 }),
		},
		"host_galaxy/empty": {},
		"fe_forest/default": {
			template("fe", 3000, 8000, func(w float64) float64 { return 1 + math.Exp(-0.5*math.Pow((w-5500)/20, 2)) }),
		},
	}
}

func TestBounds_OpenInterval(t *testing.T) {
	b := Bounds{Min: 0, Max: 10}
	assert.Equal(t, RejectLnPrior, b.LnPrior(0))
	assert.Equal(t, RejectLnPrior, b.LnPrior(10))
	assert.Equal(t, RejectLnPrior, b.LnPrior(-1))
	assert.Equal(t, 0.0, b.LnPrior(5))

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 1000; i++ {
		v := b.Draw(rng)
		require.True(t, b.Contains(v), "draw %g outside bounds", v)
	}
	assert.Error(t, Bounds{Min: 1, Max: 1}.Validate())
}

func TestBounds_RejectsNonFinite(t *testing.T) {
	for _, b := range []Bounds{
		{Min: math.Inf(-1), Max: math.Inf(1)},
		{Min: 0, Max: math.Inf(1)},
		{Min: math.NaN(), Max: 1},
	} {
		assert.Error(t, b.Validate(), "bounds %+v", b)
	}

	var cfg NuclearContinuumConfig
	require.NoError(t, yaml.Unmarshal([]byte("slope: {min: -.inf, max: .inf}\nboxcar_width: 5\n"), &cfg))
	assert.Error(t, cfg.Validate())
}

func TestNuclearContinuum_ConstantAtZeroSlope(t *testing.T) {
	sp := powerLawSpectrum(t)
	nc := NewNuclearContinuum(DefaultNuclearContinuumConfig())
	require.NoError(t, nc.Initialize(sp))

	flux, err := nc.Flux(sp, []float64{5.0, 0.0})
	require.NoError(t, err)
	require.Len(t, flux, sp.Len())
	for _, f := range flux {
		assert.Equal(t, 5.0, f)
	}
}

func TestNuclearContinuum_NormalizationBoundary(t *testing.T) {
	sp := powerLawSpectrum(t)
	nc := NewNuclearContinuum(DefaultNuclearContinuumConfig())
	require.NoError(t, nc.Initialize(sp))

	ceiling := spectrum.SmoothedMax(sp.Flux(), DefaultBoxcarWidth)
	for _, tc := range []struct {
		norm float64
		want float64
	}{
		{0, RejectLnPrior},
		{ceiling, RejectLnPrior},
		{ceiling / 2, 0},
	} {
		got, err := nc.LnPriors([]float64{tc.norm, 0})
		require.NoError(t, err)
		assert.Equal(t, tc.want, got[0], "normalization %g", tc.norm)
	}
}

func TestNuclearContinuum_LnPriorsIdempotent(t *testing.T) {
	sp := powerLawSpectrum(t)
	nc := NewNuclearContinuum(DefaultNuclearContinuumConfig())
	require.NoError(t, nc.Initialize(sp))

	params := []float64{1.2, 3.5}
	first, err := nc.LnPriors(params)
	require.NoError(t, err)
	second, err := nc.LnPriors(params)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, []float64{0, RejectLnPrior}, first)
}

func TestNuclearContinuum_Contract(t *testing.T) {
	sp := powerLawSpectrum(t)
	nc := NewNuclearContinuum(DefaultNuclearContinuumConfig())

	_, err := nc.Flux(sp, []float64{1, 0})
	assert.True(t, errors.Is(err, apperr.ErrContract), "unbound flux: %v", err)
	_, err = nc.NormalizationWavelength()
	assert.True(t, errors.Is(err, apperr.ErrContract))
	assert.True(t, errors.Is(nc.Initialize(nil), apperr.ErrContract))

	require.NoError(t, nc.Initialize(sp))
	_, err = nc.Flux(sp, []float64{1})
	assert.True(t, errors.Is(err, apperr.ErrContract), "short params: %v", err)

	lw, err := nc.NormalizationWavelength()
	require.NoError(t, err)
	assert.Equal(t, 5500.0, lw)
}

func TestNuclearContinuum_InitialValuesWithinPriors(t *testing.T) {
	sp := powerLawSpectrum(t)
	nc := NewNuclearContinuum(DefaultNuclearContinuumConfig())
	require.NoError(t, nc.Initialize(sp))

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 100; i++ {
		vals, err := nc.InitialValues(sp, rng)
		require.NoError(t, err)
		priors, err := nc.LnPriors(vals)
		require.NoError(t, err)
		assert.Equal(t, []float64{0, 0}, priors)
	}
}

func TestNuclearContinuumConfig_Validate(t *testing.T) {
	cfg := DefaultNuclearContinuumConfig()
	require.NoError(t, cfg.Validate())

	cfg.Slope = Bounds{Min: 3, Max: -3}
	assert.Error(t, cfg.Validate())

	cfg = DefaultNuclearContinuumConfig()
	cfg.BoxcarWidth = 0
	assert.Error(t, cfg.Validate())
}

func TestHostGalaxy_ParameterLayoutAfterLoad(t *testing.T) {
	h := NewHostGalaxy(DefaultHostGalaxyConfig(), hostSource())
	assert.Equal(t, 0, h.ParameterCount())

	require.NoError(t, h.Load())
	require.NoError(t, h.Load())
	assert.Equal(t, []string{"normalization_1", "normalization_2", "stellar_dispersion"}, h.ParameterNames())
	assert.Equal(t, []string{"flat", "ramp"}, h.TemplateNames())
	assert.False(t, h.IsAnalytic())
}

func TestHostGalaxy_NormalizationConvention(t *testing.T) {
	sp := powerLawSpectrum(t)
	h := NewHostGalaxy(DefaultHostGalaxyConfig(), hostSource())
	require.NoError(t, h.Load())
	require.NoError(t, h.Initialize(sp))

	tnorm := h.InterpolatedNormalizationFlux()
	require.Len(t, tnorm, 2)
	assert.InDelta(t, 3.0, tnorm[0], 1e-12)
	assert.InDelta(t, 5.5, tnorm[1], 1e-12)

	f0 := sp.FluxAtNormalizationWavelength()
	mid := 1500 // 5500 Å on the 4000..7000 grid

	for i := range tnorm {
		params := []float64{0, 0, 100}
		params[i] = tnorm[i]

		scales := h.scaleFactors(sp, params)
		assert.InDelta(t, f0, scales[i], 1e-12, "template %d scale", i)

		flux, err := h.Flux(sp, params)
		require.NoError(t, err)
		assert.InDelta(t, f0*tnorm[i], flux[mid], 1e-9, "template %d flux at λ_norm", i)

		params[i] = 1
		flux, err = h.Flux(sp, params)
		require.NoError(t, err)
		assert.InDelta(t, f0, flux[mid], 1e-9, "unit normalization gives F0")
	}
}

func TestHostGalaxy_StellarDispersionDoesNotAffectFlux(t *testing.T) {
	sp := powerLawSpectrum(t)
	h := NewHostGalaxy(DefaultHostGalaxyConfig(), hostSource())
	require.NoError(t, h.Load())
	require.NoError(t, h.Initialize(sp))

	a, err := h.Flux(sp, []float64{0.3, 0.2, 50})
	require.NoError(t, err)
	b, err := h.Flux(sp, []float64{0.3, 0.2, 500})
	require.NoError(t, err)
	assert.Equal(t, a, b)
	a[0] = -1
	assert.NotEqual(t, a[0], b[0], "flux buffers must not be shared")
}

func TestHostGalaxy_Errors(t *testing.T) {
	sp := powerLawSpectrum(t)

	empty := NewHostGalaxy(HostGalaxyConfig{TemplateSet: "empty", StellarDispersion: Bounds{Min: 30, Max: 600}, BoxcarWidth: 5}, hostSource())
	assert.True(t, errors.Is(empty.Load(), apperr.ErrInvalidConfig))
	assert.Equal(t, 0, empty.ParameterCount())

	unknown := NewHostGalaxy(HostGalaxyConfig{TemplateSet: "nope", StellarDispersion: Bounds{Min: 30, Max: 600}, BoxcarWidth: 5}, hostSource())
	assert.True(t, errors.Is(unknown.Load(), apperr.ErrInvalidConfig))

	unloaded := NewHostGalaxy(DefaultHostGalaxyConfig(), hostSource())
	assert.True(t, errors.Is(unloaded.Initialize(sp), apperr.ErrContract))

	narrow := NewHostGalaxy(HostGalaxyConfig{TemplateSet: "narrow", StellarDispersion: Bounds{Min: 30, Max: 600}, BoxcarWidth: 5}, hostSource())
	require.NoError(t, narrow.Load())
	assert.True(t, errors.Is(narrow.Initialize(sp), apperr.ErrContract), "template shorter than data grid")

	h := NewHostGalaxy(DefaultHostGalaxyConfig(), hostSource())
	require.NoError(t, h.Load())
	assert.True(t, errors.Is(h.Initialize(nil), apperr.ErrContract))
	_, err := h.Flux(sp, []float64{1, 1, 100})
	assert.True(t, errors.Is(err, apperr.ErrContract), "flux before initialize")
}

func TestHostGalaxy_Priors(t *testing.T) {
	sp := powerLawSpectrum(t)
	h := NewHostGalaxy(DefaultHostGalaxyConfig(), hostSource())
	require.NoError(t, h.Load())
	require.NoError(t, h.Initialize(sp))

	got, err := h.LnPriors([]float64{0.5, 0, 700})
	require.NoError(t, err)
	assert.Equal(t, []float64{0, RejectLnPrior, RejectLnPrior}, got)

	_, err = h.LnPriors([]float64{0.5})
	assert.True(t, errors.Is(err, apperr.ErrContract))
}

func TestFeForest_BroadeningConservesFlatFlux(t *testing.T) {
	sp := powerLawSpectrum(t)
	fe := NewFeForest(DefaultFeForestConfig(), hostSource())
	require.NoError(t, fe.Load())
	require.NoError(t, fe.Initialize(sp))
	assert.Equal(t, []string{"normalization_1", "fe_width"}, fe.ParameterNames())

	narrow, err := fe.Flux(sp, []float64{1, 1000})
	require.NoError(t, err)
	wide, err := fe.Flux(sp, []float64{1, 9000})
	require.NoError(t, err)

	mid := 1500
	assert.Greater(t, narrow[mid], wide[mid], "wider kernel lowers the line peak")
	assert.InDelta(t, narrow[0], wide[0], 1e-6, "continuum far from the line is unchanged")
}

func TestBroaden_ZeroWidthIsIdentity(t *testing.T) {
	wl := []float64{1, 2, 3}
	flux := []float64{4, 5, 6}
	out := broaden(wl, flux, 0)
	assert.Equal(t, flux, out)
	out[0] = 0
	assert.Equal(t, 4.0, flux[0])
}

func TestBalmerContinuum_EdgeAndCutoff(t *testing.T) {
	wl := grid(3000, 4000, 1)
	flux := make([]float64, len(wl))
	for i := range flux {
		flux[i] = 1
	}
	sp, err := spectrum.New(wl, flux, nil)
	require.NoError(t, err)

	bc := NewBalmerContinuum(DefaultBalmerContinuumConfig())
	require.NoError(t, bc.Initialize(sp))

	out, err := bc.Flux(sp, []float64{0.5, 10000, 1})
	require.NoError(t, err)
	edge := int(BalmerEdge - 3000)
	assert.InDelta(t, 0.5, out[edge], 1e-12, "normalization is the flux at the edge")
	assert.Equal(t, 0.0, out[edge+1])
	assert.Greater(t, out[0], 0.0)
}

func TestBalmerContinuumConfig_RejectsNegativeLowerBounds(t *testing.T) {
	cfg := DefaultBalmerContinuumConfig()
	cfg.OpticalDepth = Bounds{Min: -1, Max: 2}
	assert.Error(t, cfg.Validate())

	cfg = DefaultBalmerContinuumConfig()
	cfg.ElectronTemperature = Bounds{Min: -100, Max: 20000}
	assert.Error(t, cfg.Validate())

	// A zero lower bound is open, so every accepted value stays positive.
	cfg = DefaultBalmerContinuumConfig()
	cfg.OpticalDepth = Bounds{Min: 0, Max: 2}
	require.NoError(t, cfg.Validate())
	bc := NewBalmerContinuum(cfg)
	sp := powerLawSpectrum(t)
	require.NoError(t, bc.Initialize(sp))
	lp, err := bc.LnPriors([]float64{0.5, 10000, 0})
	require.NoError(t, err)
	assert.Equal(t, RejectLnPrior, lp[2])
}

func TestExtinction_Transmission(t *testing.T) {
	sp := powerLawSpectrum(t)
	ext := NewExtinction(DefaultExtinctionConfig())
	require.NoError(t, ext.Initialize(sp))
	assert.Equal(t, Multiplicative, ext.Combination())

	none, err := ext.Flux(sp, []float64{0})
	require.NoError(t, err)
	for _, v := range none {
		assert.Equal(t, 1.0, v)
	}

	dusty, err := ext.Flux(sp, []float64{0.3})
	require.NoError(t, err)
	assert.Less(t, dusty[0], dusty[len(dusty)-1], "blue light is attenuated more")
	for _, v := range dusty {
		assert.True(t, v > 0 && v < 1)
	}
}

func TestCalzettiK_AtV(t *testing.T) {
	// k(V) ≈ R_V at 5500 Å.
	assert.InDelta(t, 4.05, CalzettiK(5500, 4.05), 0.1)
}
