package fitservice

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/spamm/internal/apperr"
	"github.com/starford/spamm/internal/models"
	"github.com/starford/spamm/internal/sampler"
	"github.com/starford/spamm/internal/testutil"
)

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) PublishFitEvent(kind, runID string, _ map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, kind)
}

func (r *recorder) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func testService(t *testing.T) (*Service, *recorder) {
	t.Helper()
	_, lib := testutil.TestTemplates(t)
	rec := &recorder{}
	svc := NewService(DefaultSettings(), lib, testutil.TestDB(t), rec, testutil.Logger())
	t.Cleanup(svc.Close)
	return svc, rec
}

func powerLawRequest(components ...string) FitRequest {
	wl, flux := testutil.PowerLaw(4000, 7000, 2, -1.5)
	ferr := make([]float64, len(flux))
	for i := range ferr {
		ferr[i] = 0.05
	}
	return FitRequest{
		Components: components,
		Spectrum:   models.SpectrumData{Name: "synthetic", Wavelength: wl, Flux: flux, FluxError: ferr},
		Sampler: SamplerOverride{
			Walkers:    ptr(10),
			Iterations: ptr(60),
			BurnIn:     ptr(20),
			Workers:    ptr(2),
			Seed:       ptr[int64](3),
		},
	}
}

func ptr[T any](v T) *T { return &v }

func TestFit_PowerLawCompletes(t *testing.T) {
	svc, rec := testService(t)

	run, err := svc.Fit(context.Background(), powerLawRequest("PL"))
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, run.Status)
	assert.Equal(t, 60, run.Step)
	assert.Equal(t, []string{"nuclear_continuum.normalization", "nuclear_continuum.slope"}, run.ParameterNames)
	assert.NotEmpty(t, run.Checksum)

	kinds := rec.kinds()
	require.NotEmpty(t, kinds)
	assert.Equal(t, EventStarted, kinds[0])
	assert.Equal(t, EventCompleted, kinds[len(kinds)-1])

	samples, err := svc.Samples(context.Background(), run.ID, -1)
	require.NoError(t, err)
	assert.Len(t, samples, 40*10)

	sum, err := svc.Summary(context.Background(), run.ID, -1)
	require.NoError(t, err)
	assert.Equal(t, 20, sum.BurnIn)
	require.Len(t, sum.Parameters, 2)
	assert.Equal(t, "nuclear_continuum.slope", sum.Parameters[1].Name)
	assert.Len(t, sum.BestFit, 2)

	_, err = svc.Summary(context.Background(), run.ID, 60)
	assert.True(t, errors.Is(err, apperr.ErrInvalidConfig))
}

func TestReconstruct_ComponentsSumToTotal(t *testing.T) {
	svc, _ := testService(t)
	run, err := svc.Fit(context.Background(), powerLawRequest("pl", "host"))
	require.NoError(t, err)
	require.Equal(t, models.StatusCompleted, run.Status, run.Error)

	rec, err := svc.Reconstruct(context.Background(), run.ID, []float64{1, -1, 0.2, 0.3, 100})
	require.NoError(t, err)
	require.Len(t, rec.Components, 3)
	assert.Equal(t, "nuclear_continuum", rec.Components[0].Name)
	assert.Equal(t, "host_galaxy", rec.Components[1].Name)
	assert.Equal(t, "total", rec.Components[2].Name)
	for i := range rec.Wavelength {
		assert.InDelta(t, rec.Components[0].Flux[i]+rec.Components[1].Flux[i], rec.Components[2].Flux[i], 1e-12)
	}

	best, err := svc.Reconstruct(context.Background(), run.ID, nil)
	require.NoError(t, err)
	assert.Len(t, best.Params, 5)

	_, err = svc.Reconstruct(context.Background(), run.ID, []float64{1})
	assert.True(t, errors.Is(err, apperr.ErrContract))
}

func TestStartWaitAndList(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()

	run, err := svc.Start(ctx, powerLawRequest("PL"))
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, run.Status)

	done, err := svc.Wait(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, done.Status)

	runs, total, err := svc.ListRuns(ctx, 10, 0, models.StatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, run.ID, runs[0].ID)

	assert.True(t, errors.Is(svc.Cancel(ctx, run.ID), apperr.ErrConflict))
	assert.True(t, errors.Is(svc.Cancel(ctx, "missing"), apperr.ErrNotFound))
}

func TestCancel(t *testing.T) {
	svc, rec := testService(t)
	ctx := context.Background()

	req := powerLawRequest("PL")
	req.Sampler.Iterations = ptr(1_000_000)
	run, err := svc.Start(ctx, req)
	require.NoError(t, err)
	require.NoError(t, svc.Cancel(ctx, run.ID))

	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	got, err := svc.Wait(waitCtx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, got.Status)
	assert.Contains(t, rec.kinds(), EventFailed)

	_, err = svc.Summary(ctx, run.ID, -1)
	assert.True(t, errors.Is(err, apperr.ErrConflict))
}

func TestFit_ConfigurationErrors(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()

	for _, tc := range []struct {
		name   string
		mutate func(*FitRequest)
	}{
		{"no components", func(r *FitRequest) { r.Components = nil }},
		{"unknown component", func(r *FitRequest) { r.Components = []string{"QUASAR"} }},
		{"empty spectrum", func(r *FitRequest) { r.Spectrum = models.SpectrumData{} }},
		{"odd walkers", func(r *FitRequest) { r.Sampler.Walkers = ptr(9) }},
		{"too few walkers", func(r *FitRequest) { r.Components = []string{"PL", "HOST"}; r.Sampler.Walkers = ptr(6) }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			req := powerLawRequest("PL")
			tc.mutate(&req)
			_, err := svc.Fit(ctx, req)
			assert.True(t, errors.Is(err, apperr.ErrInvalidConfig), "got %v", err)
		})
	}

	_, total, err := svc.ListRuns(ctx, 10, 0, "")
	require.NoError(t, err)
	assert.Equal(t, 0, total, "rejected requests must not create runs")
}

func TestEmptyTemplateSetRejectedBeforeSampling(t *testing.T) {
	_, lib := testutil.TestTemplates(t)
	settings := DefaultSettings()
	settings.HostGalaxy.TemplateSet = "empty"
	svc := NewService(settings, lib, testutil.TestDB(t), nil, testutil.Logger())
	defer svc.Close()

	_, err := svc.Fit(context.Background(), powerLawRequest("PL", "HOST"))
	assert.True(t, errors.Is(err, apperr.ErrInvalidConfig), "got %v", err)
}

func TestCatalogue(t *testing.T) {
	codes := []string{}
	for _, c := range Catalogue() {
		codes = append(codes, c.Code)
	}
	assert.Equal(t, []string{"BC", "CALZETTI_EXT", "FE", "HOST", "PL"}, codes)

	c, err := NewComponent("calzetti_ext", DefaultSettings(), nil)
	require.NoError(t, err)
	assert.Equal(t, "extinction", c.Name())

	c, err = NewComponent("nuclear_continuum", DefaultSettings(), nil)
	require.NoError(t, err)
	assert.Equal(t, "nuclear_continuum", c.Name())
}

func TestMergeSampler(t *testing.T) {
	base := sampler.DefaultConfig()

	assert.Equal(t, base, mergeSampler(base, SamplerOverride{}))

	out := mergeSampler(base, SamplerOverride{BurnIn: ptr(0), Seed: ptr[int64](0)})
	assert.Equal(t, 0, out.BurnIn, "explicit zero burn-in must be kept")
	assert.Equal(t, int64(0), out.Seed, "explicit zero seed must be kept")
	assert.Equal(t, base.Walkers, out.Walkers)

	out = mergeSampler(base, SamplerOverride{Iterations: ptr(100)})
	assert.Equal(t, 20, out.BurnIn, "default burn-in is clamped below a shorter run")

	out = mergeSampler(base, SamplerOverride{Iterations: ptr(100), BurnIn: ptr(150)})
	assert.Equal(t, 150, out.BurnIn, "explicit burn-in is left for validation")
}

func TestFit_ExplicitZeroBurnIn(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()

	req := powerLawRequest("PL")
	req.Sampler.BurnIn = ptr(0)
	run, err := svc.Fit(ctx, req)
	require.NoError(t, err)
	require.Equal(t, models.StatusCompleted, run.Status, run.Error)
	assert.Equal(t, 0, run.BurnIn)

	sum, err := svc.Summary(ctx, run.ID, -1)
	require.NoError(t, err)
	assert.Equal(t, 0, sum.BurnIn)
	assert.Equal(t, 60*10, sum.Samples)

	req.Sampler.BurnIn = ptr(60)
	_, err = svc.Fit(ctx, req)
	assert.True(t, errors.Is(err, apperr.ErrInvalidConfig), "got %v", err)
}

func TestSummary_BestFitIsChainMaximum(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()

	run, err := svc.Fit(ctx, powerLawRequest("PL"))
	require.NoError(t, err)
	require.Equal(t, models.StatusCompleted, run.Status, run.Error)

	sum, err := svc.Summary(ctx, run.ID, 30)
	require.NoError(t, err)
	samples, err := svc.Samples(ctx, run.ID, 30)
	require.NoError(t, err)
	require.Len(t, samples, sum.Samples)

	best := samples[0]
	for _, smp := range samples[1:] {
		if smp.LnProb > best.LnProb {
			best = smp
		}
	}
	assert.Equal(t, best.LnProb, sum.MaxLnProb)
	assert.Equal(t, best.Params, sum.BestFit)
}

func TestCancel_FinishedButStillTrackedConflicts(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()

	run, err := svc.Fit(ctx, powerLawRequest("PL"))
	require.NoError(t, err)

	// A run that passed the point of cancellation but has not left the
	// active set yet.
	cancelled := false
	svc.mu.Lock()
	svc.active[run.ID] = &job{cancel: func() { cancelled = true }, done: make(chan struct{}), finished: true}
	svc.mu.Unlock()

	assert.True(t, errors.Is(svc.Cancel(ctx, run.ID), apperr.ErrConflict))
	assert.False(t, cancelled)
}

func TestRetire_LosesToEarlierCancel(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()

	run, err := svc.Fit(ctx, powerLawRequest("PL"))
	require.NoError(t, err)

	svc.mu.Lock()
	svc.active[run.ID] = &job{cancel: func() {}, done: make(chan struct{})}
	svc.mu.Unlock()

	require.NoError(t, svc.Cancel(ctx, run.ID))
	assert.False(t, svc.retire(run.ID), "a cancel requested before retire wins")
	assert.True(t, svc.retire("untracked"))
}

func TestDeleteRun(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()

	req := powerLawRequest("PL")
	req.Sampler.Iterations = ptr(1_000_000)
	active, err := svc.Start(ctx, req)
	require.NoError(t, err)
	assert.True(t, errors.Is(svc.DeleteRun(ctx, active.ID), apperr.ErrConflict))

	require.NoError(t, svc.Cancel(ctx, active.ID))
	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_, err = svc.Wait(waitCtx, active.ID)
	require.NoError(t, err)

	require.NoError(t, svc.DeleteRun(ctx, active.ID))
	_, err = svc.GetRun(ctx, active.ID)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
	assert.True(t, errors.Is(svc.DeleteRun(ctx, active.ID), apperr.ErrNotFound))
}
