// Package models defines the domain types shared by the fit service, the
// results store and the API.
package models

import "time"

// RunStatus is the lifecycle state of a fit run.
type RunStatus string

const (
	StatusPending   RunStatus = "pending"
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
	StatusCancelled RunStatus = "cancelled"
)

// Terminal reports whether the run can no longer change.
func (s RunStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// SpectrumData is the wire and storage form of an observed spectrum.
type SpectrumData struct {
	Name       string    `json:"name,omitempty"`
	Wavelength []float64 `json:"wavelength"`
	Flux       []float64 `json:"flux"`
	FluxError  []float64 `json:"flux_error,omitempty"`
}

// FitRun is one sampling run over a spectrum.
type FitRun struct {
	ID             string       `json:"id"`
	Status         RunStatus    `json:"status"`
	Components     []string     `json:"components"`
	ParameterNames []string     `json:"parameter_names"`
	Spectrum       SpectrumData `json:"-"`
	Checksum       string       `json:"spectrum_checksum"`
	Walkers        int          `json:"walkers"`
	Iterations     int          `json:"iterations"`
	BurnIn         int          `json:"burn_in"`
	Seed           int64        `json:"seed"`
	Step           int          `json:"step"`
	Acceptance     float64      `json:"acceptance"`
	Error          string       `json:"error,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// Sample is one walker position at one step.
type Sample struct {
	Step   int       `json:"step"`
	Walker int       `json:"walker"`
	LnProb float64   `json:"ln_prob"`
	Params []float64 `json:"params"`
}
