package api

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/spamm/internal/templates"
)

const maxUploadBytes = 50 << 20 // 50 MB

// TemplateHandler lists, accepts and removes template library files.
type TemplateHandler struct {
	lib *templates.Library
}

// NewTemplateHandler creates a handler over the template library.
func NewTemplateHandler(lib *templates.Library) *TemplateHandler {
	return &TemplateHandler{lib: lib}
}

// Catalogue handles GET /api/templates.
//
//	@Summary		List configured template sets
//	@Tags			templates
//	@Produce		json
//	@Success		200	{object}	TemplateCatalogueResponse
//	@Security		BearerAuth
//	@Router			/templates [get]
func (h *TemplateHandler) Catalogue(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, TemplateCatalogueResponse{Sets: h.lib.Catalogue()})
}

// Files handles GET /api/templates/files.
//
//	@Summary		List template library files
//	@Tags			templates
//	@Produce		json
//	@Success		200	{object}	TemplateFilesResponse
//	@Security		BearerAuth
//	@Router			/templates/files [get]
func (h *TemplateHandler) Files(w http.ResponseWriter, _ *http.Request) {
	metas, err := h.lib.Files()
	if err != nil {
		writeError(w, "list template files", err)
		return
	}
	files := make([]TemplateFile, 0, len(metas))
	for _, m := range metas {
		files = append(files, TemplateFile{Path: m.Path, Checksum: m.Checksum, UpdatedAt: m.UpdatedAt})
	}
	writeJSON(w, http.StatusOK, TemplateFilesResponse{Files: files})
}

// Upload handles POST /api/templates (multipart/form-data, fields "path" and
// "file"). Data files must parse as two-column templates; .txt files are
// stored as list files. Cached sets that reference the path are dropped.
//
//	@Summary		Upload a template or list file
//	@Tags			templates
//	@Accept			multipart/form-data
//	@Produce		json
//	@Param			path	formData	string	true	"Relative path under the template root (.dat, .txt, .tab or .asc)"
//	@Param			file	formData	file	true	"File content"
//	@Success		201		{object}	TemplateUploadResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/templates [post]
func (h *TemplateHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("file too large or invalid multipart"))
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("missing 'file' field in multipart form"))
		return
	}
	defer file.Close()

	rel, err := templates.CleanPath(r.FormValue("path"))
	if err != nil {
		writeError(w, "template upload", err)
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("failed to read file"))
		return
	}

	stored, err := h.lib.Put(rel, data)
	if err != nil {
		writeError(w, "template upload", err)
		return
	}

	writeJSON(w, http.StatusCreated, TemplateUploadResponse{
		Path:    stored.Path,
		Size:    stored.Size,
		Points:  stored.Points,
		Dropped: stored.Dropped,
	})
}

// Delete handles DELETE /api/templates/files/*.
//
//	@Summary		Remove a template library file
//	@Tags			templates
//	@Produce		json
//	@Param			path	path		string	true	"Relative path under the template root"
//	@Success		200		{object}	TemplateDeleteResponse
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/templates/files/{path} [delete]
func (h *TemplateHandler) Delete(w http.ResponseWriter, r *http.Request) {
	rel := chi.URLParam(r, "*")
	dropped, err := h.lib.Remove(rel)
	if err != nil {
		writeError(w, "template delete", err)
		return
	}
	clean, _ := templates.CleanPath(rel)
	writeJSON(w, http.StatusOK, TemplateDeleteResponse{Path: clean, Dropped: dropped})
}
