package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/starford/spamm/internal/fitservice"
	"github.com/starford/spamm/internal/models"
)

const maxRequestBytes = 64 << 20

// Handler holds API route handlers.
type Handler struct {
	svc *fitservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *fitservice.Service) *Handler {
	return &Handler{svc: svc}
}

// ListComponents handles GET /api/components.
//
//	@Summary		List selectable spectral components
//	@Tags			components
//	@Produce		json
//	@Success		200	{object}	ComponentListResponse
//	@Security		BearerAuth
//	@Router			/components [get]
func (h *Handler) ListComponents(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, ComponentListResponse{Components: h.svc.Components()})
}

// StartFit handles POST /api/fits.
//
//	@Summary		Start an asynchronous fit
//	@Tags			fits
//	@Accept			json
//	@Produce		json
//	@Param			body	body		FitRequest	true	"Components, spectrum and sampler overrides"
//	@Success		202		{object}	FitRun
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/fits [post]
func (h *Handler) StartFit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
	var req FitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	run, err := h.svc.Start(r.Context(), req)
	if err != nil {
		writeError(w, "start fit", err)
		return
	}
	w.Header().Set("Location", "/api/fits/"+run.ID)
	writeJSON(w, http.StatusAccepted, run)
}

// ListFits handles GET /api/fits.
//
//	@Summary		List fits, newest first
//	@Tags			fits
//	@Produce		json
//	@Param			limit	query		int		false	"Page size"
//	@Param			offset	query		int		false	"Page offset"
//	@Param			status	query		string	false	"Filter by status"	Enums(pending, running, completed, failed, cancelled)
//	@Success		200		{object}	FitListResponse
//	@Security		BearerAuth
//	@Router			/fits [get]
func (h *Handler) ListFits(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	status := models.RunStatus(q.Get("status"))

	runs, total, err := h.svc.ListRuns(r.Context(), limit, offset, status)
	if err != nil {
		writeError(w, "list fits", err)
		return
	}
	writeJSON(w, http.StatusOK, FitListResponse{Fits: runs, Total: total})
}

// GetFit handles GET /api/fits/{id}.
//
//	@Summary		Get a fit by id
//	@Tags			fits
//	@Produce		json
//	@Param			id	path		string	true	"Run id"
//	@Success		200	{object}	FitRun
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/fits/{id} [get]
func (h *Handler) GetFit(w http.ResponseWriter, r *http.Request) {
	run, err := h.svc.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "get fit", err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// CancelFit handles DELETE /api/fits/{id}.
//
//	@Summary		Cancel a running fit
//	@Tags			fits
//	@Param			id	path	string	true	"Run id"
//	@Success		202	"Cancellation requested"
//	@Failure		404	{object}	errResponse
//	@Failure		409	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/fits/{id} [delete]
func (h *Handler) CancelFit(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Cancel(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, "cancel fit", err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// DeleteFit handles DELETE /api/fits/{id}/record.
//
//	@Summary		Delete a stored fit and its chain
//	@Tags			fits
//	@Param			id	path	string	true	"Run id"
//	@Success		204	"Deleted"
//	@Failure		404	{object}	errResponse
//	@Failure		409	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/fits/{id}/record [delete]
func (h *Handler) DeleteFit(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteRun(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, "delete fit", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Summary handles GET /api/fits/{id}/summary.
//
//	@Summary		Posterior summary of a completed fit
//	@Tags			fits
//	@Produce		json
//	@Param			id		path		string	true	"Run id"
//	@Param			burn	query		int		false	"Burn-in steps (defaults to the run's)"
//	@Success		200		{object}	fitservice.Summary
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/fits/{id}/summary [get]
func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	burn, err := burnParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	sum, err := h.svc.Summary(r.Context(), chi.URLParam(r, "id"), burn)
	if err != nil {
		writeError(w, "fit summary", err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// Samples handles GET /api/fits/{id}/samples.
//
//	@Summary		Stored chain of a completed fit
//	@Tags			fits
//	@Produce		json
//	@Param			id		path		string	true	"Run id"
//	@Param			burn	query		int		false	"Burn-in steps (defaults to the run's)"
//	@Success		200		{object}	SamplesResponse
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/fits/{id}/samples [get]
func (h *Handler) Samples(w http.ResponseWriter, r *http.Request) {
	burn, err := burnParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	id := chi.URLParam(r, "id")
	samples, err := h.svc.Samples(r.Context(), id, burn)
	if err != nil {
		writeError(w, "fit samples", err)
		return
	}
	run, err := h.svc.GetRun(r.Context(), id)
	if err != nil {
		writeError(w, "fit samples", err)
		return
	}
	if samples == nil {
		samples = []models.Sample{}
	}
	writeJSON(w, http.StatusOK, SamplesResponse{ParameterNames: run.ParameterNames, Samples: samples})
}

// Reconstruct handles POST /api/fits/{id}/reconstruct.
//
//	@Summary		Per-component flux for a parameter vector
//	@Tags			fits
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string				true	"Run id"
//	@Param			body	body		ReconstructRequest	false	"Parameter vector; empty uses the best sample"
//	@Success		200		{object}	fitservice.Reconstruction
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/fits/{id}/reconstruct [post]
func (h *Handler) Reconstruct(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
	var req ReconstructRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	id := chi.URLParam(r, "id")
	rec, err := h.svc.Reconstruct(r.Context(), id, req.Params)
	if err != nil {
		slog.Debug("reconstruct rejected", slog.String("run_id", id), slog.String("error", err.Error()))
		writeError(w, "reconstruct", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
