// Package site serves the human-facing pages: a landing page and the recap
// table.
package site

import (
	"bytes"
	"context"
	"errors"
	"html/template"
	"net/http"

	"github.com/zydorg/kemunify/internal/domain/types"
	"github.com/zydorg/kemunify/pkg/logger"
)

var ErrRender = errors.New("page render failed")

// RecapSource provides the recap table.
type RecapSource interface {
	Recap(ctx context.Context) (types.Recap, error)
}

// Guard wraps handlers that expose ledger data, e.g. with token checks.
type Guard func(http.HandlerFunc) http.HandlerFunc

// Register attaches the pages to mux. guard may be nil.
func Register(_ context.Context, mux *http.ServeMux, src RecapSource, guard Guard) {
	if mux == nil {
		panic("mux is nil")
	}
	if guard == nil {
		guard = func(h http.HandlerFunc) http.HandlerFunc { return h }
	}
	h := NewRootHandler(src)
	mux.HandleFunc("GET /{$}", h.HandleRoot)
	mux.HandleFunc("GET /rekap", guard(h.HandleRekap))
}

// RootHandler renders the pages.
type RootHandler struct {
	src RecapSource
}

// NewRootHandler creates a new root handler.
func NewRootHandler(src RecapSource) *RootHandler {
	return &RootHandler{src: src}
}

type page struct {
	Title string
	Recap types.Recap
}

// HandleRoot handles GET /.
func (h *RootHandler) HandleRoot(w http.ResponseWriter, r *http.Request) {
	render(w, r, indexTemplate, "index.html.tmpl", page{Title: "Bank Sampah Kemuning"})
}

// HandleRekap handles GET /rekap.
func (h *RootHandler) HandleRekap(w http.ResponseWriter, r *http.Request) {
	recap, err := h.src.Recap(r.Context())
	if err != nil {
		logger.Get().Named("site").Error(r.Context(), "recap failed", logger.Error(err))
		http.Error(w, ErrRender.Error(), http.StatusInternalServerError)
		return
	}
	render(w, r, rekapTemplate, "rekap.html.tmpl", page{Title: "Rekap Sampah", Recap: recap})
}

func render(w http.ResponseWriter, r *http.Request, t *template.Template, name string, p page) {
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, name, p); err != nil {
		logger.Get().Named("site").Error(r.Context(), "template failed", logger.Error(err))
		http.Error(w, ErrRender.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}
