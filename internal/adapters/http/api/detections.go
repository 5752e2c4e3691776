package api

import (
	"context"
	"image"
	"net/http"
	"strconv"

	"github.com/zydorg/kemunify/internal/domain/detection"
)

const maxImageBody = 16 << 20

// DetectionDependencies defines the object detection operations.
type DetectionDependencies interface {
	Detect(ctx context.Context, img image.Image, rotation int) (detection.Result, error)
	SubmitFrame(ctx context.Context, img image.Image, rotation int) error
}

// DetectionHandler accepts JPEG or PNG bodies.
type DetectionHandler struct {
	deps DetectionDependencies
}

// NewDetectionHandler creates a new detection handler.
func NewDetectionHandler(deps DetectionDependencies) *DetectionHandler {
	return &DetectionHandler{deps: deps}
}

// HandleDetect handles POST /detections?rotation=N and answers with the result.
func (h *DetectionHandler) HandleDetect(w http.ResponseWriter, r *http.Request) {
	const op = "api.detect"
	img, rotation, err := readFrame(w, r)
	if err != nil {
		fail(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	res, err := h.deps.Detect(r.Context(), img, rotation)
	if err != nil {
		fail(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleFrame handles POST /frames?rotation=N. Results are pushed on
// /ws/detections.
func (h *DetectionHandler) HandleFrame(w http.ResponseWriter, r *http.Request) {
	const op = "api.frame"
	img, rotation, err := readFrame(w, r)
	if err != nil {
		fail(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	if err := h.deps.SubmitFrame(r.Context(), img, rotation); err != nil {
		fail(w, Wrap(op, err))
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func readFrame(w http.ResponseWriter, r *http.Request) (image.Image, int, error) {
	rotation := 0
	if raw := r.URL.Query().Get("rotation"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return nil, 0, err
		}
		rotation = v
	}
	img, err := detection.Decode(http.MaxBytesReader(w, r.Body, maxImageBody))
	if err != nil {
		return nil, 0, err
	}
	return img, rotation, nil
}
