// Package fitservice orchestrates fits: it turns a request into a bound
// model, drives the sampler, persists the chain and reconstructs component
// fluxes from stored runs.
package fitservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/starford/spamm/internal/apperr"
	"github.com/starford/spamm/internal/checksum"
	"github.com/starford/spamm/internal/component"
	"github.com/starford/spamm/internal/model"
	"github.com/starford/spamm/internal/models"
	"github.com/starford/spamm/internal/results"
	"github.com/starford/spamm/internal/sampler"
	"github.com/starford/spamm/internal/spectrum"
)

// Event kinds published during a run.
const (
	EventStarted   = "fit.started"
	EventProgress  = "fit.progress"
	EventCompleted = "fit.completed"
	EventFailed    = "fit.failed"
)

// EventPublisher receives run lifecycle events.
type EventPublisher interface {
	PublishFitEvent(kind, runID string, data map[string]any)
}

// FitRequest selects components for a spectrum. Omitted sampler fields fall
// back to the service defaults.
type FitRequest struct {
	Components []string            `json:"components"`
	Spectrum   models.SpectrumData `json:"spectrum"`
	Sampler    SamplerOverride     `json:"sampler"`
}

// SamplerOverride replaces individual sampler settings for one run. A nil
// field keeps the default; an explicit zero is honoured.
type SamplerOverride struct {
	Walkers    *int     `json:"walkers,omitempty"`
	Iterations *int     `json:"iterations,omitempty"`
	BurnIn     *int     `json:"burn_in,omitempty"`
	Stretch    *float64 `json:"stretch,omitempty"`
	Workers    *int     `json:"workers,omitempty"`
	Seed       *int64   `json:"seed,omitempty"`
}

// Summary is the posterior of a completed run.
type Summary struct {
	RunID      string                     `json:"run_id"`
	BurnIn     int                        `json:"burn_in"`
	Samples    int                        `json:"samples"`
	Acceptance float64                    `json:"acceptance"`
	Parameters []sampler.ParameterSummary `json:"parameters"`
	BestFit    []float64                  `json:"best_fit"`
	MaxLnProb  float64                    `json:"max_ln_prob"`
}

// Reconstruction is every component's flux for one parameter vector.
type Reconstruction struct {
	RunID          string                `json:"run_id"`
	ParameterNames []string              `json:"parameter_names"`
	Params         []float64             `json:"params"`
	Wavelength     []float64             `json:"wavelength"`
	Observed       []float64             `json:"observed"`
	Components     []model.ComponentFlux `json:"components"`
}

type job struct {
	cancel context.CancelFunc
	done   chan struct{}

	// Guarded by Service.mu.
	finished  bool
	cancelled bool
}

// Service coordinates models, the sampler and the results store.
type Service struct {
	settings Settings
	source   component.TemplateSource
	store    results.Store
	events   EventPublisher
	logger   *slog.Logger

	mu     sync.Mutex
	active map[string]*job
	wg     sync.WaitGroup
	ctx    context.Context
	stop   context.CancelFunc
}

// NewService creates a fit service. events may be nil.
func NewService(settings Settings, source component.TemplateSource, store results.Store, events EventPublisher, logger *slog.Logger) *Service {
	ctx, stop := context.WithCancel(context.Background())
	return &Service{
		settings: settings,
		source:   source,
		store:    store,
		events:   events,
		logger:   logger,
		active:   make(map[string]*job),
		ctx:      ctx,
		stop:     stop,
	}
}

// Components lists the supported component codes.
func (s *Service) Components() []ComponentInfo {
	return Catalogue()
}

// Fit runs a fit to completion on the caller's goroutine.
func (s *Service) Fit(ctx context.Context, req FitRequest) (*models.FitRun, error) {
	run, m, cfg, err := s.prepare(req)
	if err != nil {
		return nil, err
	}
	s.execute(ctx, run, m, cfg)
	return s.store.GetRun(run.ID)
}

// Start validates req, records a pending run and samples it in the
// background. The returned run is in the pending state.
func (s *Service) Start(_ context.Context, req FitRequest) (*models.FitRun, error) {
	run, m, cfg, err := s.prepare(req)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(s.ctx)
	j := &job{cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	s.active[run.ID] = j
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		s.execute(ctx, run, m, cfg)
		s.mu.Lock()
		delete(s.active, run.ID)
		s.mu.Unlock()
		close(j.done)
	}()
	return run, nil
}

// Wait blocks until a background run finishes or ctx is done.
func (s *Service) Wait(ctx context.Context, id string) (*models.FitRun, error) {
	s.mu.Lock()
	j, ok := s.active[id]
	s.mu.Unlock()
	if ok {
		select {
		case <-j.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.store.GetRun(id)
}

// Cancel stops a background run. Runs that already reached a final status,
// including ones still flushing their chain, are ErrConflict.
func (s *Service) Cancel(_ context.Context, id string) error {
	s.mu.Lock()
	j, ok := s.active[id]
	if ok && !j.finished {
		j.cancelled = true
		j.cancel()
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	run, err := s.store.GetRun(id)
	if err != nil {
		return err
	}
	if ok {
		return fmt.Errorf("fitservice: run %s already finished: %w", id, apperr.ErrConflict)
	}
	return fmt.Errorf("fitservice: run %s is %s: %w", id, run.Status, apperr.ErrConflict)
}

// DeleteRun removes a stored run and its chain. Runs still sampling are
// ErrConflict; cancel them first.
func (s *Service) DeleteRun(_ context.Context, id string) error {
	s.mu.Lock()
	_, ok := s.active[id]
	s.mu.Unlock()
	if ok {
		return fmt.Errorf("fitservice: run %s is still active: %w", id, apperr.ErrConflict)
	}
	if err := s.store.DeleteRun(id); err != nil {
		return err
	}
	s.logger.Info("fit: deleted", slog.String("run_id", id))
	return nil
}

// retire marks a background run as past the point of cancellation. It
// reports false when a cancel request arrived first.
func (s *Service) retire(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.active[id]
	if !ok {
		return true
	}
	j.finished = true
	return !j.cancelled
}

// Close cancels every background run and waits for them to record their
// final status.
func (s *Service) Close() {
	s.stop()
	s.wg.Wait()
}

// GetRun returns a stored run.
func (s *Service) GetRun(_ context.Context, id string) (*models.FitRun, error) {
	return s.store.GetRun(id)
}

// ListRuns returns stored runs newest first.
func (s *Service) ListRuns(_ context.Context, limit, offset int, status models.RunStatus) ([]models.FitRun, int, error) {
	return s.store.ListRuns(limit, offset, status)
}

// Samples returns the stored chain after burn steps. A negative burn uses
// the run's configured burn-in.
func (s *Service) Samples(_ context.Context, id string, burn int) ([]models.Sample, error) {
	run, err := s.completedRun(id)
	if err != nil {
		return nil, err
	}
	if burn < 0 {
		burn = run.BurnIn
	}
	return s.store.Samples(id, burn)
}

// Summary computes posterior marginals after burn steps. A negative burn
// uses the run's configured burn-in.
func (s *Service) Summary(ctx context.Context, id string, burn int) (*Summary, error) {
	run, err := s.completedRun(id)
	if err != nil {
		return nil, err
	}
	if burn < 0 {
		burn = run.BurnIn
	}
	if burn >= run.Iterations {
		return nil, fmt.Errorf("fitservice: burn-in %d not below %d iterations: %w",
			burn, run.Iterations, apperr.ErrInvalidConfig)
	}
	samples, err := s.store.Samples(id, burn)
	if err != nil {
		return nil, err
	}
	chain, err := storedChain(samples)
	if err != nil {
		return nil, fmt.Errorf("fitservice: %w", err)
	}
	flat, err := chain.Flat(0)
	if err != nil {
		return nil, fmt.Errorf("fitservice: run %s: %w", id, err)
	}
	params, err := sampler.Summarize(run.ParameterNames, flat)
	if err != nil {
		return nil, fmt.Errorf("fitservice: %w", err)
	}
	best, bestLnp := chain.MaxLnProb()
	return &Summary{
		RunID:      id,
		BurnIn:     burn,
		Samples:    len(flat),
		Acceptance: run.Acceptance,
		Parameters: params,
		BestFit:    best,
		MaxLnProb:  bestLnp,
	}, nil
}

// storedChain regroups samples ordered by step then walker into a chain.
func storedChain(samples []models.Sample) (*sampler.Chain, error) {
	var pos [][][]float64
	var lnp [][]float64
	for i, smp := range samples {
		if i == 0 || smp.Step != samples[i-1].Step {
			pos = append(pos, nil)
			lnp = append(lnp, nil)
		}
		last := len(pos) - 1
		pos[last] = append(pos[last], smp.Params)
		lnp[last] = append(lnp[last], smp.LnProb)
	}
	return sampler.NewChain(pos, lnp, nil)
}

// Reconstruct evaluates every component of a stored run at params. An empty
// params uses the highest-probability sample of the chain.
func (s *Service) Reconstruct(ctx context.Context, id string, params []float64) (*Reconstruction, error) {
	run, err := s.store.GetRun(id)
	if err != nil {
		return nil, err
	}
	if len(params) == 0 {
		if run.Status != models.StatusCompleted {
			return nil, fmt.Errorf("fitservice: run %s is %s and has no chain: %w", id, run.Status, apperr.ErrConflict)
		}
		sum, err := s.Summary(ctx, id, 0)
		if err != nil {
			return nil, err
		}
		params = sum.BestFit
	}
	sp, err := spectrum.New(run.Spectrum.Wavelength, run.Spectrum.Flux, run.Spectrum.FluxError)
	if err != nil {
		return nil, fmt.Errorf("fitservice: stored spectrum: %w", err)
	}
	m, err := s.buildModel(run.Components, sp, s.logger.With(slog.String("run_id", id)))
	if err != nil {
		return nil, err
	}
	fluxes, err := m.ComponentFluxes(params)
	if err != nil {
		return nil, err
	}
	return &Reconstruction{
		RunID:          id,
		ParameterNames: m.ParameterNames(),
		Params:         params,
		Wavelength:     sp.Wavelength(),
		Observed:       sp.Flux(),
		Components:     fluxes,
	}, nil
}

func (s *Service) completedRun(id string) (*models.FitRun, error) {
	run, err := s.store.GetRun(id)
	if err != nil {
		return nil, err
	}
	if run.Status != models.StatusCompleted {
		return nil, fmt.Errorf("fitservice: run %s is %s: %w", id, run.Status, apperr.ErrConflict)
	}
	return run, nil
}

// prepare validates the request, binds the model and records a pending run.
// Configuration problems surface here, before any sampling.
func (s *Service) prepare(req FitRequest) (*models.FitRun, *model.Model, sampler.Config, error) {
	if len(req.Components) == 0 {
		return nil, nil, sampler.Config{}, fmt.Errorf("fitservice: no components selected: %w", apperr.ErrInvalidConfig)
	}
	cfg := mergeSampler(s.settings.Sampler, req.Sampler)
	if err := cfg.Validate(); err != nil {
		return nil, nil, sampler.Config{}, fmt.Errorf("fitservice: sampler: %v: %w", err, apperr.ErrInvalidConfig)
	}
	sd := req.Spectrum
	sp, err := spectrum.New(sd.Wavelength, sd.Flux, sd.FluxError)
	if err != nil {
		return nil, nil, sampler.Config{}, fmt.Errorf("fitservice: %w", err)
	}

	id := uuid.NewString()
	m, err := s.buildModel(req.Components, sp, s.logger.With(slog.String("run_id", id)))
	if err != nil {
		return nil, nil, sampler.Config{}, err
	}
	if cfg.Walkers < 2*m.ParameterCount() {
		return nil, nil, sampler.Config{}, fmt.Errorf("fitservice: %d walkers for %d parameters, need at least %d: %w",
			cfg.Walkers, m.ParameterCount(), 2*m.ParameterCount(), apperr.ErrInvalidConfig)
	}

	run := models.FitRun{
		ID:             id,
		Status:         models.StatusPending,
		Components:     req.Components,
		ParameterNames: m.ParameterNames(),
		Spectrum:       sd,
		Checksum:       checksum.Floats(sd.Wavelength, sd.Flux, sd.FluxError),
		Walkers:        cfg.Walkers,
		Iterations:     cfg.Iterations,
		BurnIn:         cfg.BurnIn,
		Seed:           cfg.Seed,
	}
	if err := s.store.CreateRun(run); err != nil {
		return nil, nil, sampler.Config{}, err
	}
	stored, err := s.store.GetRun(id)
	if err != nil {
		return nil, nil, sampler.Config{}, err
	}
	return stored, m, cfg, nil
}

func (s *Service) buildModel(names []string, sp *spectrum.Spectrum, logger *slog.Logger) (*model.Model, error) {
	m := model.New(model.WithLogger(logger))
	for _, name := range names {
		c, err := NewComponent(name, s.settings, s.source)
		if err != nil {
			return nil, err
		}
		if err := m.Register(c); err != nil {
			return nil, err
		}
	}
	if err := m.Bind(sp); err != nil {
		return nil, err
	}
	return m, nil
}

// execute samples a prepared run and records its outcome. Failures are
// stored on the run rather than returned.
func (s *Service) execute(ctx context.Context, run *models.FitRun, m *model.Model, cfg sampler.Config) {
	logger := s.logger.With(slog.String("run_id", run.ID))
	if err := s.store.SetStatus(run.ID, models.StatusRunning, ""); err != nil {
		logger.Error("fit: mark running", slog.String("error", err.Error()))
		return
	}
	s.publish(EventStarted, run.ID, map[string]any{
		"components": run.Components,
		"parameters": m.ParameterCount(),
		"iterations": cfg.Iterations,
	})
	logger.Info("fit: started",
		slog.Int("parameters", m.ParameterCount()),
		slog.Int("walkers", cfg.Walkers),
		slog.Int("iterations", cfg.Iterations),
	)

	every := max(1, cfg.Iterations/100)
	smp, err := sampler.New(cfg, sampler.WithProgress(func(step int, acceptance float64) {
		if step%every != 0 && step != cfg.Iterations {
			return
		}
		if err := s.store.UpdateProgress(run.ID, step, acceptance); err != nil {
			logger.Warn("fit: progress", slog.String("error", err.Error()))
		}
		s.publish(EventProgress, run.ID, map[string]any{
			"step":       step,
			"iterations": cfg.Iterations,
			"acceptance": acceptance,
		})
	}))
	if err != nil {
		s.fail(run.ID, logger, err)
		return
	}

	chain, err := smp.Run(ctx, m)
	if err != nil {
		s.fail(run.ID, logger, err)
		return
	}
	if !s.retire(run.ID) {
		s.fail(run.ID, logger, context.Canceled)
		return
	}

	samples := make([]models.Sample, 0, chain.Steps()*chain.Walkers())
	lnp := chain.LnProb()
	for step, row := range chain.Samples() {
		for w, params := range row {
			samples = append(samples, models.Sample{Step: step, Walker: w, LnProb: lnp[step][w], Params: params})
		}
	}
	if err := s.store.SaveSamples(run.ID, samples); err != nil {
		s.fail(run.ID, logger, err)
		return
	}
	acceptance := chain.MeanAcceptance()
	if err := s.store.UpdateProgress(run.ID, chain.Steps(), acceptance); err != nil {
		s.fail(run.ID, logger, err)
		return
	}
	if err := s.store.SetStatus(run.ID, models.StatusCompleted, ""); err != nil {
		logger.Error("fit: mark completed", slog.String("error", err.Error()))
		return
	}
	s.publish(EventCompleted, run.ID, map[string]any{"acceptance": acceptance})
	logger.Info("fit: completed", slog.Float64("acceptance", acceptance))
}

func (s *Service) fail(id string, logger *slog.Logger, err error) {
	s.retire(id)
	status := models.StatusFailed
	if errors.Is(err, context.Canceled) {
		status = models.StatusCancelled
	}
	if serr := s.store.SetStatus(id, status, err.Error()); serr != nil {
		logger.Error("fit: record failure", slog.String("error", serr.Error()))
	}
	s.publish(EventFailed, id, map[string]any{"status": string(status), "error": err.Error()})
	logger.Warn("fit: stopped", slog.String("status", string(status)), slog.String("error", err.Error()))
}

func (s *Service) publish(kind, id string, data map[string]any) {
	if s.events != nil {
		s.events.PublishFitEvent(kind, id, data)
	}
}

func mergeSampler(base sampler.Config, o SamplerOverride) sampler.Config {
	out := base
	if o.Walkers != nil {
		out.Walkers = *o.Walkers
	}
	if o.Iterations != nil {
		out.Iterations = *o.Iterations
	}
	if o.BurnIn != nil {
		out.BurnIn = *o.BurnIn
	} else if out.BurnIn >= out.Iterations {
		out.BurnIn = out.Iterations / 5
	}
	if o.Stretch != nil {
		out.Stretch = *o.Stretch
	}
	if o.Workers != nil {
		out.Workers = *o.Workers
	}
	if o.Seed != nil {
		out.Seed = *o.Seed
	}
	return out
}
