package sampler

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/starford/spamm/internal/apperr"
)

// Chain is the recorded walk of an ensemble.
type Chain struct {
	walkers  int
	dim      int
	samples  [][][]float64
	lnProb   [][]float64
	accepted []int
}

func newChain(walkers, dim, capacity int) *Chain {
	return &Chain{
		walkers:  walkers,
		dim:      dim,
		samples:  make([][][]float64, 0, capacity),
		lnProb:   make([][]float64, 0, capacity),
		accepted: make([]int, walkers),
	}
}

// NewChain rebuilds a chain from stored samples indexed [step][walker][dim].
func NewChain(samples [][][]float64, lnProb [][]float64, accepted []int) (*Chain, error) {
	if len(samples) != len(lnProb) {
		return nil, fmt.Errorf("sampler: %d sample steps but %d lnprob steps: %w",
			len(samples), len(lnProb), apperr.ErrContract)
	}
	c := &Chain{samples: samples, lnProb: lnProb, accepted: accepted, walkers: len(accepted)}
	if len(samples) > 0 && len(samples[0]) > 0 {
		c.walkers = len(samples[0])
		c.dim = len(samples[0][0])
	}
	if len(c.accepted) != c.walkers {
		c.accepted = make([]int, c.walkers)
	}
	return c, nil
}

func (c *Chain) record(pos [][]float64, lnp []float64) {
	step := make([][]float64, len(pos))
	for k, p := range pos {
		step[k] = append([]float64(nil), p...)
	}
	c.samples = append(c.samples, step)
	c.lnProb = append(c.lnProb, append([]float64(nil), lnp...))
}

// Steps is the number of recorded iterations.
func (c *Chain) Steps() int { return len(c.samples) }

// Walkers is the ensemble size.
func (c *Chain) Walkers() int { return c.walkers }

// Dim is the number of parameters.
func (c *Chain) Dim() int { return c.dim }

// Samples is indexed [step][walker][parameter].
func (c *Chain) Samples() [][][]float64 { return c.samples }

// LnProb is indexed [step][walker].
func (c *Chain) LnProb() [][]float64 { return c.lnProb }

// Accepted returns accepted proposals per walker.
func (c *Chain) Accepted() []int { return append([]int(nil), c.accepted...) }

// AcceptanceFraction is accepted / steps per walker.
func (c *Chain) AcceptanceFraction() []float64 {
	out := make([]float64, c.walkers)
	if c.Steps() == 0 {
		return out
	}
	for k, a := range c.accepted {
		out[k] = float64(a) / float64(c.Steps())
	}
	return out
}

// MeanAcceptance averages AcceptanceFraction over walkers.
func (c *Chain) MeanAcceptance() float64 {
	if c.walkers == 0 {
		return 0
	}
	return floats.Sum(c.AcceptanceFraction()) / float64(c.walkers)
}

// Flat returns every walker's position after the first burn steps, ordered
// step-major.
func (c *Chain) Flat(burn int) ([][]float64, error) {
	if burn < 0 || burn >= c.Steps() {
		return nil, fmt.Errorf("sampler: burn-in %d outside [0, %d): %w", burn, c.Steps(), apperr.ErrInvalidConfig)
	}
	out := make([][]float64, 0, (c.Steps()-burn)*c.walkers)
	for _, step := range c.samples[burn:] {
		out = append(out, step...)
	}
	return out, nil
}

// MaxLnProb returns the highest-probability position in the chain.
func (c *Chain) MaxLnProb() ([]float64, float64) {
	var best []float64
	bestLnp := 0.0
	for s, row := range c.lnProb {
		for k, v := range row {
			if best == nil || v > bestLnp {
				best, bestLnp = c.samples[s][k], v
			}
		}
	}
	return append([]float64(nil), best...), bestLnp
}

// ParameterSummary describes one marginal posterior.
type ParameterSummary struct {
	Name   string  `json:"name"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	P16    float64 `json:"p16"`
	Median float64 `json:"median"`
	P84    float64 `json:"p84"`
}

// Summarize computes per-parameter marginals of flat samples.
func Summarize(names []string, flat [][]float64) ([]ParameterSummary, error) {
	if len(flat) == 0 {
		return nil, fmt.Errorf("sampler: no samples to summarize: %w", apperr.ErrInvalidConfig)
	}
	for i, row := range flat {
		if len(row) != len(names) {
			return nil, fmt.Errorf("sampler: sample %d has %d values for %d names: %w",
				i, len(row), len(names), apperr.ErrContract)
		}
	}
	out := make([]ParameterSummary, len(names))
	col := make([]float64, len(flat))
	for d, name := range names {
		for i, row := range flat {
			col[i] = row[d]
		}
		mean, std := stat.MeanStdDev(col, nil)
		if len(col) < 2 {
			std = 0
		}
		sort.Float64s(col)
		out[d] = ParameterSummary{
			Name:   name,
			Mean:   mean,
			StdDev: std,
			P16:    stat.Quantile(0.16, stat.Empirical, col, nil),
			Median: stat.Quantile(0.50, stat.Empirical, col, nil),
			P84:    stat.Quantile(0.84, stat.Empirical, col, nil),
		}
	}
	return out, nil
}
