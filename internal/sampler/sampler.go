// Package sampler drives an affine-invariant ensemble of walkers over a
// log-probability surface using the Goodman & Weare (2010) stretch move.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"runtime"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"golang.org/x/sync/errgroup"

	"github.com/starford/spamm/internal/apperr"
)

// Target is the surface being sampled.
type Target interface {
	ParameterCount() int
	InitialValues(rng *rand.Rand) ([]float64, error)
	LogProbability(params []float64) (float64, error)
}

// Config controls the ensemble.
type Config struct {
	Walkers    int     `yaml:"walkers" json:"walkers"`
	Iterations int     `yaml:"iterations" json:"iterations"`
	BurnIn     int     `yaml:"burn_in" json:"burn_in"`
	Stretch    float64 `yaml:"stretch" json:"stretch"`
	Workers    int     `yaml:"workers" json:"workers"`
	Seed       int64   `yaml:"seed" json:"seed"`
}

// DefaultConfig returns 30 walkers for 500 iterations.
func DefaultConfig() Config {
	return Config{
		Walkers:    30,
		Iterations: 500,
		BurnIn:     100,
		Stretch:    2,
		Seed:       1,
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Walkers, validation.Required, validation.Min(2), validation.By(even)),
		validation.Field(&c.Iterations, validation.Required, validation.Min(1)),
		validation.Field(&c.BurnIn, validation.Min(0), validation.Max(c.Iterations-1)),
		validation.Field(&c.Stretch, validation.Required, validation.By(aboveOne)),
	)
}

func even(value any) error {
	if v, _ := value.(int); v%2 != 0 {
		return errors.New("must be even")
	}
	return nil
}

func aboveOne(value any) error {
	if v, _ := value.(float64); !(v > 1) {
		return errors.New("must be greater than 1")
	}
	return nil
}

// ProgressFunc is called after every iteration with the 1-based step and the
// mean acceptance fraction so far.
type ProgressFunc func(step int, acceptance float64)

// Option configures a Sampler.
type Option func(*Sampler)

// WithProgress registers a per-iteration callback.
func WithProgress(fn ProgressFunc) Option {
	return func(s *Sampler) {
		s.progress = fn
	}
}

// Sampler runs one ensemble. It is not reusable across goroutines.
type Sampler struct {
	cfg      Config
	progress ProgressFunc
}

// New validates cfg and returns a Sampler.
func New(cfg Config, opts ...Option) (*Sampler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("sampler: %v: %w", err, apperr.ErrInvalidConfig)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	s := &Sampler{cfg: cfg}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Config returns the effective configuration.
func (s *Sampler) Config() Config { return s.cfg }

type proposal struct {
	walker int
	params []float64
	lnZ    float64
	lnU    float64
	lnProb float64
}

// Run samples target. On context cancellation it stops between iterations
// and returns the partial chain together with the context error.
func (s *Sampler) Run(ctx context.Context, target Target) (*Chain, error) {
	dim := target.ParameterCount()
	if dim == 0 {
		return nil, fmt.Errorf("sampler: target has no parameters: %w", apperr.ErrInvalidConfig)
	}
	if s.cfg.Walkers < 2*dim {
		return nil, fmt.Errorf("sampler: %d walkers for %d parameters, need at least %d: %w",
			s.cfg.Walkers, dim, 2*dim, apperr.ErrInvalidConfig)
	}

	rng := rand.New(rand.NewSource(s.cfg.Seed))
	nw := s.cfg.Walkers

	pos := make([][]float64, nw)
	for k := range pos {
		v, err := target.InitialValues(rng)
		if err != nil {
			return nil, fmt.Errorf("sampler: initial values: %w", err)
		}
		pos[k] = v
	}
	lnp := make([]float64, nw)
	if err := s.evaluate(ctx, target, len(pos), func(k int) []float64 { return pos[k] }, func(k int, v float64) { lnp[k] = v }); err != nil {
		return nil, err
	}

	chain := newChain(nw, dim, s.cfg.Iterations)
	half := nw / 2
	for step := 0; step < s.cfg.Iterations; step++ {
		if err := ctx.Err(); err != nil {
			return chain, err
		}
		for split := 0; split < 2; split++ {
			active, other := 0, half
			if split == 1 {
				active, other = half, 0
			}
			props := make([]proposal, half)
			for i := range props {
				k := active + i
				j := other + rng.Intn(half)
				z := stretch(rng, s.cfg.Stretch)
				p := make([]float64, dim)
				for d := range p {
					p[d] = pos[j][d] + z*(pos[k][d]-pos[j][d])
				}
				props[i] = proposal{walker: k, params: p, lnZ: float64(dim-1) * math.Log(z), lnU: math.Log(rng.Float64())}
			}
			if err := s.evaluate(ctx, target, len(props),
				func(i int) []float64 { return props[i].params },
				func(i int, v float64) { props[i].lnProb = v },
			); err != nil {
				return chain, err
			}
			for _, p := range props {
				if p.lnU < p.lnZ+p.lnProb-lnp[p.walker] {
					pos[p.walker] = p.params
					lnp[p.walker] = p.lnProb
					chain.accepted[p.walker]++
				}
			}
		}
		chain.record(pos, lnp)
		if s.progress != nil {
			s.progress(chain.Steps(), chain.MeanAcceptance())
		}
	}
	return chain, nil
}

// stretch draws z from g(z) ∝ 1/√z on [1/a, a].
func stretch(rng *rand.Rand, a float64) float64 {
	u := rng.Float64()
	z := (a-1)*u + 1
	return z * z / a
}

func (s *Sampler) evaluate(ctx context.Context, target Target, n int, in func(int) []float64, out func(int, float64)) error {
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			if gCtx.Err() != nil {
				return gCtx.Err()
			}
			v, err := target.LogProbability(in(i))
			if err != nil {
				return fmt.Errorf("sampler: log probability: %w", err)
			}
			if math.IsNaN(v) {
				v = math.Inf(-1)
			}
			out(i, v)
			return nil
		})
	}
	return g.Wait()
}
