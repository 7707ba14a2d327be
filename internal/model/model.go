// Package model is the composition root of a fit: it owns the ordered
// components and the bound spectrum, lays out the flat parameter vector and
// evaluates the log-probability the sampler explores.
package model

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"

	"github.com/starford/spamm/internal/apperr"
	"github.com/starford/spamm/internal/component"
	"github.com/starford/spamm/internal/spectrum"
)

// Loader is implemented by components that must load external data before
// Initialize.
type Loader interface {
	Load() error
}

// Segment locates one component's parameters inside the flat vector.
type Segment struct {
	Component string `json:"component"`
	Offset    int    `json:"offset"`
	Count     int    `json:"count"`
}

// ComponentFlux is one component's contribution on the data grid. For
// multiplicative components it is the transmission curve.
type ComponentFlux struct {
	Name        string    `json:"name"`
	Combination string    `json:"combination"`
	Flux        []float64 `json:"flux"`
}

// Option configures a Model.
type Option func(*Model)

// WithLogger sets the logger used at bind time.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Model) {
		m.logger = logger
	}
}

// Model is safe for concurrent evaluation once Bind has returned. Register
// and Bind must not race with anything.
type Model struct {
	logger     *slog.Logger
	components []component.Component

	bound    bool
	sp       *spectrum.Spectrum
	layout   []Segment
	total    int
	invVar   []float64
	lnNormal float64
}

// New creates an empty model.
func New(opts ...Option) *Model {
	m := &Model{logger: slog.New(slog.NewJSONHandler(io.Discard, nil))}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Register appends a component. Order fixes the flat parameter layout.
func (m *Model) Register(c component.Component) error {
	if c == nil {
		return fmt.Errorf("model: nil component: %w", apperr.ErrContract)
	}
	if m.bound {
		return fmt.Errorf("model: register %s after bind: %w", c.Name(), apperr.ErrContract)
	}
	m.components = append(m.components, c)
	return nil
}

// Components returns the registered components in order.
func (m *Model) Components() []component.Component {
	return append([]component.Component(nil), m.components...)
}

// Bind loads and initializes every component against sp and freezes the
// parameter layout. A spectrum without uncertainties is fitted with unit
// sigma.
func (m *Model) Bind(sp *spectrum.Spectrum) error {
	if m.bound {
		return fmt.Errorf("model: already bound: %w", apperr.ErrContract)
	}
	if sp == nil {
		return fmt.Errorf("model: a data spectrum is required: %w", apperr.ErrInvalidConfig)
	}
	if len(m.components) == 0 {
		return fmt.Errorf("model: no components registered: %w", apperr.ErrInvalidConfig)
	}

	additive := 0
	layout := make([]Segment, 0, len(m.components))
	offset := 0
	for _, c := range m.components {
		if l, ok := c.(Loader); ok {
			if err := l.Load(); err != nil {
				return fmt.Errorf("model: %w", err)
			}
		}
		if err := c.Initialize(sp); err != nil {
			return fmt.Errorf("model: %w", err)
		}
		n := c.ParameterCount()
		if n != len(c.ParameterNames()) {
			return fmt.Errorf("model: %s reports %d parameters but %d names: %w",
				c.Name(), n, len(c.ParameterNames()), apperr.ErrContract)
		}
		if c.Combination() == component.Additive {
			additive++
		}
		layout = append(layout, Segment{Component: c.Name(), Offset: offset, Count: n})
		offset += n
		m.logger.Info("component bound",
			slog.String("component", c.Name()),
			slog.Int("parameters", n),
			slog.String("combination", c.Combination().String()),
		)
	}
	if additive == 0 {
		return fmt.Errorf("model: at least one additive component is required: %w", apperr.ErrInvalidConfig)
	}

	invVar := make([]float64, sp.Len())
	lnNormal := 0.0
	if sp.HasFluxError() {
		for i, s := range sp.FluxError() {
			invVar[i] = 1 / (s * s)
			lnNormal += math.Log(2 * math.Pi * s * s)
		}
	} else {
		m.logger.Warn("spectrum has no flux uncertainty, using unit sigma",
			slog.Int("points", sp.Len()),
		)
		for i := range invVar {
			invVar[i] = 1
		}
		lnNormal = float64(sp.Len()) * math.Log(2*math.Pi)
	}

	m.sp = sp
	m.layout = layout
	m.total = offset
	m.invVar = invVar
	m.lnNormal = lnNormal
	m.bound = true
	m.logger.Info("model bound",
		slog.Int("components", len(m.components)),
		slog.Int("parameters", offset),
		slog.Int("points", sp.Len()),
		slog.Float64("normalization_wavelength", sp.NormalizationWavelength()),
	)
	return nil
}

// Spectrum returns the bound spectrum, or nil before Bind.
func (m *Model) Spectrum() *spectrum.Spectrum { return m.sp }

// ParameterCount is the length of the flat vector.
func (m *Model) ParameterCount() int { return m.total }

// Layout returns the per-component segments of the flat vector.
func (m *Model) Layout() []Segment {
	return append([]Segment(nil), m.layout...)
}

// ParameterNames labels the flat vector as "component.parameter".
func (m *Model) ParameterNames() []string {
	out := make([]string, 0, m.total)
	for _, c := range m.components {
		for _, p := range c.ParameterNames() {
			out = append(out, c.Name()+"."+p)
		}
	}
	return out
}

// Split cuts params into per-component segments in registration order. The
// segments alias params.
func (m *Model) Split(params []float64) ([][]float64, error) {
	if err := m.check(params); err != nil {
		return nil, err
	}
	out := make([][]float64, len(m.layout))
	for i, seg := range m.layout {
		out[i] = params[seg.Offset : seg.Offset+seg.Count : seg.Offset+seg.Count]
	}
	return out, nil
}

// Join concatenates segments back into a flat vector.
func (m *Model) Join(segments [][]float64) ([]float64, error) {
	if len(segments) != len(m.layout) {
		return nil, fmt.Errorf("model: got %d segments, want %d: %w",
			len(segments), len(m.layout), apperr.ErrContract)
	}
	out := make([]float64, 0, m.total)
	for i, seg := range segments {
		if len(seg) != m.layout[i].Count {
			return nil, fmt.Errorf("model: segment %s has %d values, want %d: %w",
				m.layout[i].Component, len(seg), m.layout[i].Count, apperr.ErrContract)
		}
		out = append(out, seg...)
	}
	return out, nil
}

// InitialValues draws a starting point from every component's prior.
func (m *Model) InitialValues(rng *rand.Rand) ([]float64, error) {
	if !m.bound {
		return nil, errUnbound()
	}
	out := make([]float64, 0, m.total)
	for _, c := range m.components {
		v, err := c.InitialValues(m.sp, rng)
		if err != nil {
			return nil, fmt.Errorf("model: %w", err)
		}
		out = append(out, v...)
	}
	return out, nil
}

// LnPrior sums every component's log-priors.
func (m *Model) LnPrior(params []float64) (float64, error) {
	segs, err := m.Split(params)
	if err != nil {
		return 0, err
	}
	return m.lnPrior(segs)
}

func (m *Model) lnPrior(segs [][]float64) (float64, error) {
	total := 0.0
	for i, c := range m.components {
		lp, err := c.LnPriors(segs[i])
		if err != nil {
			return 0, fmt.Errorf("model: %w", err)
		}
		total += floats.Sum(lp)
	}
	return total, nil
}

// LogProbability is ln prior + ln likelihood. A vector outside any prior
// bound returns the (finite, very negative) prior sum without evaluating
// flux.
func (m *Model) LogProbability(params []float64) (float64, error) {
	segs, err := m.Split(params)
	if err != nil {
		return 0, err
	}
	lp, err := m.lnPrior(segs)
	if err != nil {
		return 0, err
	}
	if lp <= component.RejectLnPrior {
		return lp, nil
	}
	flux, err := m.modelFlux(segs)
	if err != nil {
		return 0, err
	}
	return lp + m.lnLikelihood(flux), nil
}

// LnLikelihood is the Gaussian log-likelihood of params against the data.
func (m *Model) LnLikelihood(params []float64) (float64, error) {
	flux, err := m.ModelFlux(params)
	if err != nil {
		return 0, err
	}
	return m.lnLikelihood(flux), nil
}

func (m *Model) lnLikelihood(model []float64) float64 {
	chi2 := 0.0
	for i, f := range m.sp.Flux() {
		r := f - model[i]
		chi2 += r * r * m.invVar[i]
	}
	return -0.5 * (chi2 + m.lnNormal)
}

// MaxLnLikelihood is the likelihood of a model that reproduces the data
// exactly.
func (m *Model) MaxLnLikelihood() float64 { return -0.5 * m.lnNormal }

// ModelFlux is the summed additive flux multiplied by every multiplicative
// component's transmission.
func (m *Model) ModelFlux(params []float64) ([]float64, error) {
	segs, err := m.Split(params)
	if err != nil {
		return nil, err
	}
	return m.modelFlux(segs)
}

func (m *Model) modelFlux(segs [][]float64) ([]float64, error) {
	total := make([]float64, m.sp.Len())
	var transmissions [][]float64
	for i, c := range m.components {
		f, err := c.Flux(m.sp, segs[i])
		if err != nil {
			return nil, fmt.Errorf("model: %w", err)
		}
		if c.Combination() == component.Multiplicative {
			transmissions = append(transmissions, f)
			continue
		}
		floats.Add(total, f)
	}
	for _, t := range transmissions {
		floats.Mul(total, t)
	}
	return total, nil
}

// ComponentFluxes evaluates every component separately and appends the
// combined model as "total".
func (m *Model) ComponentFluxes(params []float64) ([]ComponentFlux, error) {
	segs, err := m.Split(params)
	if err != nil {
		return nil, err
	}
	out := make([]ComponentFlux, 0, len(m.components)+1)
	for i, c := range m.components {
		f, err := c.Flux(m.sp, segs[i])
		if err != nil {
			return nil, fmt.Errorf("model: %w", err)
		}
		out = append(out, ComponentFlux{Name: c.Name(), Combination: c.Combination().String(), Flux: f})
	}
	total, err := m.modelFlux(segs)
	if err != nil {
		return nil, err
	}
	return append(out, ComponentFlux{Name: "total", Combination: component.Additive.String(), Flux: total}), nil
}

func (m *Model) check(params []float64) error {
	if !m.bound {
		return errUnbound()
	}
	if len(params) != m.total {
		return fmt.Errorf("model: got %d parameters, want %d: %w", len(params), m.total, apperr.ErrContract)
	}
	return nil
}

func errUnbound() error {
	return fmt.Errorf("model: not bound to a spectrum: %w", apperr.ErrContract)
}
