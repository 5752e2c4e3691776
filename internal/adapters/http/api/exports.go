package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/zydorg/kemunify/internal/adapters/export"
)

// ExportDependencies defines the spreadsheet export operations.
type ExportDependencies interface {
	Export(ctx context.Context) (export.File, error)
	Exports() ([]export.File, error)
	ExportFile(name string) (export.File, error)
	QueueUpload(ctx context.Context, name string) (bool, error)
}

// ExportHandler serves recap spreadsheets.
type ExportHandler struct {
	deps ExportDependencies
}

// NewExportHandler creates a new export handler.
func NewExportHandler(deps ExportDependencies) *ExportHandler {
	return &ExportHandler{deps: deps}
}

type uploadResponse struct {
	File   string `json:"file"`
	Status string `json:"status"`
}

// HandleList handles GET /exports.
func (h *ExportHandler) HandleList(w http.ResponseWriter, _ *http.Request) {
	files, err := h.deps.Exports()
	if err != nil {
		fail(w, Wrap("api.list_exports", err))
		return
	}
	writeJSON(w, http.StatusOK, nonNil(files))
}

// HandleCreate handles POST /exports.
func (h *ExportHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	f, err := h.deps.Export(r.Context())
	if err != nil {
		fail(w, Wrap("api.create_export", err))
		return
	}
	writeJSON(w, http.StatusCreated, f)
}

// HandleDownload handles GET /exports/{file}.
func (h *ExportHandler) HandleDownload(w http.ResponseWriter, r *http.Request) {
	f, err := h.deps.ExportFile(r.PathValue("file"))
	if err != nil {
		fail(w, Wrap("api.download_export", err))
		return
	}
	w.Header().Set("Content-Type", export.MimeType)
	w.Header().Set("Content-Disposition", "attachment; filename="+strconv.Quote(f.Name))
	http.ServeFile(w, r, f.Path)
}

// HandleUpload handles POST /exports/{file}/upload. The upload itself runs
// in the background.
func (h *ExportHandler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("file")
	queued, err := h.deps.QueueUpload(r.Context(), name)
	if err != nil {
		fail(w, Wrap("api.upload_export", err))
		return
	}
	status := "queued"
	if !queued {
		status = "pending"
	}
	writeJSON(w, http.StatusAccepted, uploadResponse{File: name, Status: status})
}
