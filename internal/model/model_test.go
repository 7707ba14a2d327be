package model

import (
	"bytes"
	"errors"
	"log/slog"
	"math"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/spamm/internal/apperr"
	"github.com/starford/spamm/internal/component"
	"github.com/starford/spamm/internal/spectrum"
)

func powerLaw(t *testing.T, withErrors bool) *spectrum.Spectrum {
	t.Helper()
	var wl, flux, ferr []float64
	for w := 4000.0; w <= 7000; w++ {
		wl = append(wl, w)
		flux = append(flux, 2.0*math.Pow(w/5000, -1.5))
		ferr = append(ferr, 0.05)
	}
	if !withErrors {
		ferr = nil
	}
	sp, err := spectrum.New(wl, flux, ferr)
	require.NoError(t, err)
	return sp
}

type flatSource struct{}

func (flatSource) Templates(kind, set string) ([]spectrum.Template, error) {
	return []spectrum.Template{
		{Name: "a", Wavelength: []float64{3000, 8000}, Flux: []float64{1, 1}},
		{Name: "b", Wavelength: []float64{3000, 8000}, Flux: []float64{3000, 8000}},
	}, nil
}

func boundModel(t *testing.T, sp *spectrum.Spectrum, comps ...component.Component) *Model {
	t.Helper()
	m := New()
	for _, c := range comps {
		require.NoError(t, m.Register(c))
	}
	require.NoError(t, m.Bind(sp))
	return m
}

func TestSplitJoin_RoundTrip(t *testing.T) {
	sp := powerLaw(t, true)
	m := boundModel(t, sp,
		component.NewNuclearContinuum(component.DefaultNuclearContinuumConfig()),
		component.NewHostGalaxy(component.DefaultHostGalaxyConfig(), flatSource{}),
		component.NewExtinction(component.DefaultExtinctionConfig()),
	)
	require.Equal(t, 2+3+1, m.ParameterCount())
	assert.Equal(t, []Segment{
		{Component: "nuclear_continuum", Offset: 0, Count: 2},
		{Component: "host_galaxy", Offset: 2, Count: 3},
		{Component: "extinction", Offset: 5, Count: 1},
	}, m.Layout())
	assert.Equal(t, []string{
		"nuclear_continuum.normalization", "nuclear_continuum.slope",
		"host_galaxy.normalization_1", "host_galaxy.normalization_2", "host_galaxy.stellar_dispersion",
		"extinction.ebv",
	}, m.ParameterNames())

	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 20; i++ {
		params, err := m.InitialValues(rng)
		require.NoError(t, err)
		segs, err := m.Split(params)
		require.NoError(t, err)
		for j, c := range m.Components() {
			assert.Len(t, segs[j], c.ParameterCount())
		}
		joined, err := m.Join(segs)
		require.NoError(t, err)
		assert.Equal(t, params, joined)
	}
}

func TestLogProbability_PowerLawEndToEnd(t *testing.T) {
	sp := powerLaw(t, false)
	m := boundModel(t, sp, component.NewNuclearContinuum(component.DefaultNuclearContinuumConfig()))

	truth, err := m.LogProbability([]float64{2.0, -1.5})
	require.NoError(t, err)
	wrong, err := m.LogProbability([]float64{2.0, 2.0})
	require.NoError(t, err)
	assert.Greater(t, truth-wrong, 100.0)

	// λ_norm is the grid median, so the exact normalization is F(5500).
	f0 := sp.FluxAtNormalizationWavelength()
	best, err := m.LogProbability([]float64{f0, -1.5})
	require.NoError(t, err)
	assert.InDelta(t, m.MaxLnLikelihood(), best, 1e-6)
	assert.Greater(t, best, truth)
}

func TestLogProbability_RejectsOutsidePrior(t *testing.T) {
	sp := powerLaw(t, true)
	m := boundModel(t, sp, component.NewNuclearContinuum(component.DefaultNuclearContinuumConfig()))

	lp, err := m.LogProbability([]float64{1, 5})
	require.NoError(t, err)
	assert.Equal(t, component.RejectLnPrior, lp)
	assert.False(t, math.IsInf(lp, 0))
}

func TestLogProbability_LikelihoodForm(t *testing.T) {
	sp := powerLaw(t, true)
	m := boundModel(t, sp, component.NewNuclearContinuum(component.DefaultNuclearContinuumConfig()))

	params := []float64{1.5, -1}
	model, err := m.ModelFlux(params)
	require.NoError(t, err)
	want := 0.0
	for i, f := range sp.Flux() {
		s := sp.FluxError()[i]
		r := f - model[i]
		want += r*r/(s*s) + math.Log(2*math.Pi*s*s)
	}
	got, err := m.LnLikelihood(params)
	require.NoError(t, err)
	assert.InDelta(t, -0.5*want, got, 1e-6*math.Abs(want))
}

func TestContractViolations(t *testing.T) {
	sp := powerLaw(t, true)
	m := New()
	require.NoError(t, m.Register(component.NewNuclearContinuum(component.DefaultNuclearContinuumConfig())))

	_, err := m.LogProbability([]float64{1, 0})
	assert.True(t, errors.Is(err, apperr.ErrContract), "before bind: %v", err)

	require.NoError(t, m.Bind(sp))
	_, err = m.LogProbability([]float64{1})
	assert.True(t, errors.Is(err, apperr.ErrContract))
	_, err = m.Join([][]float64{{1}})
	assert.True(t, errors.Is(err, apperr.ErrContract))
	assert.True(t, errors.Is(m.Register(component.NewExtinction(component.DefaultExtinctionConfig())), apperr.ErrContract))
	assert.True(t, errors.Is(m.Bind(sp), apperr.ErrContract))
}

func TestBind_ConfigurationErrors(t *testing.T) {
	sp := powerLaw(t, true)

	assert.True(t, errors.Is(New().Bind(sp), apperr.ErrInvalidConfig), "no components")

	m := New()
	require.NoError(t, m.Register(component.NewNuclearContinuum(component.DefaultNuclearContinuumConfig())))
	assert.True(t, errors.Is(m.Bind(nil), apperr.ErrInvalidConfig), "no spectrum")

	onlyDust := New()
	require.NoError(t, onlyDust.Register(component.NewExtinction(component.DefaultExtinctionConfig())))
	assert.True(t, errors.Is(onlyDust.Bind(sp), apperr.ErrInvalidConfig))
}

func TestBind_WarnsWithoutUncertainty(t *testing.T) {
	var buf bytes.Buffer
	m := New(WithLogger(slog.New(slog.NewJSONHandler(&buf, nil))))
	require.NoError(t, m.Register(component.NewNuclearContinuum(component.DefaultNuclearContinuumConfig())))
	require.NoError(t, m.Bind(powerLaw(t, false)))

	assert.Equal(t, 1, strings.Count(buf.String(), "no flux uncertainty"))
	assert.Contains(t, buf.String(), `"component":"nuclear_continuum"`)
}

func TestComponentFluxes_ExtinctionMultiplies(t *testing.T) {
	sp := powerLaw(t, true)
	m := boundModel(t, sp,
		component.NewNuclearContinuum(component.DefaultNuclearContinuumConfig()),
		component.NewExtinction(component.DefaultExtinctionConfig()),
	)

	params := []float64{1.5, -1, 0.2}
	fluxes, err := m.ComponentFluxes(params)
	require.NoError(t, err)
	require.Len(t, fluxes, 3)
	assert.Equal(t, "nuclear_continuum", fluxes[0].Name)
	assert.Equal(t, "multiplicative", fluxes[1].Combination)
	assert.Equal(t, "total", fluxes[2].Name)

	for i := range fluxes[2].Flux {
		assert.InDelta(t, fluxes[0].Flux[i]*fluxes[1].Flux[i], fluxes[2].Flux[i], 1e-12)
	}
}

func TestLogProbability_ConcurrentCallsAgree(t *testing.T) {
	sp := powerLaw(t, true)
	m := boundModel(t, sp,
		component.NewNuclearContinuum(component.DefaultNuclearContinuumConfig()),
		component.NewHostGalaxy(component.DefaultHostGalaxyConfig(), flatSource{}),
	)
	params := []float64{1, -1, 0.2, 0.1, 100}
	want, err := m.LogProbability(params)
	require.NoError(t, err)

	results := make(chan float64, 16)
	for i := 0; i < 16; i++ {
		go func() {
			lp, err := m.LogProbability(params)
			if err != nil {
				lp = math.NaN()
			}
			results <- lp
		}()
	}
	for i := 0; i < 16; i++ {
		assert.Equal(t, want, <-results)
	}
}
