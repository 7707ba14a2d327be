package api

import (
	"time"

	"github.com/starford/spamm/internal/fitservice"
	"github.com/starford/spamm/internal/models"
)

// FitRequest is the request body for starting a fit (aliased from the domain layer).
type FitRequest = fitservice.FitRequest

// FitRun is a run as returned by the API (aliased from the domain layer).
type FitRun = models.FitRun

// FitListResponse wraps paginated run listings.
type FitListResponse struct {
	Fits  []FitRun `json:"fits" validate:"required"`
	Total int      `json:"total" example:"42" validate:"required"`
}

// ComponentListResponse lists selectable components.
type ComponentListResponse struct {
	Components []fitservice.ComponentInfo `json:"components" validate:"required"`
}

// SamplesResponse wraps a stored chain.
type SamplesResponse struct {
	ParameterNames []string        `json:"parameter_names" validate:"required"`
	Samples        []models.Sample `json:"samples" validate:"required"`
}

// ReconstructRequest carries the parameter vector to evaluate. Empty means
// the best sample of the chain.
type ReconstructRequest struct {
	Params []float64 `json:"params"`
}

// TemplateUploadResponse is returned after a template file is stored.
type TemplateUploadResponse struct {
	Path   string `json:"path" example:"host/young.dat" validate:"required"`
	Size   int64  `json:"size" example:"12345" validate:"required"`
	Points int    `json:"points" example:"501"`
	// Dropped is the number of cached template sets invalidated by the write.
	Dropped int `json:"droppedSets" example:"1"`
}

// TemplateFile describes one file in the template library.
type TemplateFile struct {
	Path      string    `json:"path" example:"host/young.dat" validate:"required"`
	Checksum  string    `json:"checksum" example:"9f86d081884c7d65..." validate:"required"`
	UpdatedAt time.Time `json:"updatedAt" validate:"required"`
}

// TemplateFilesResponse lists the files under the template root.
type TemplateFilesResponse struct {
	Files []TemplateFile `json:"files" validate:"required"`
}

// TemplateDeleteResponse is returned after a template file is removed.
type TemplateDeleteResponse struct {
	Path    string `json:"path" example:"host/young.dat" validate:"required"`
	Dropped int    `json:"droppedSets" example:"1"`
}

// TemplateCatalogueResponse lists configured template sets per component kind.
type TemplateCatalogueResponse struct {
	Sets map[string][]string `json:"sets" validate:"required"`
}
