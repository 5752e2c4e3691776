// Package detection labels waste items in camera frames using a pretrained
// object detector served by an inference backend.
package detection

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // decode camera captures
	_ "image/png"
	"io"
	"sort"
	"strings"
	"time"
)

// Defaults mirror the on-device detector settings.
const (
	DefaultMaxResults     = 5
	DefaultScoreThreshold = 0.7
	DefaultNumThreads     = 2

	// MaxFrameSide bounds both sides of a decoded frame.
	MaxFrameSide = 4096
)

var (
	ErrInvalidRotation = errors.New("rotation must be a multiple of 90")
	ErrInvalidDelegate = errors.New("unknown delegate")
	ErrNoImage         = errors.New("no image")
	ErrFrameTooLarge   = errors.New("frame too large")
)

// Delegate selects the hardware the backend runs the model on.
type Delegate int

const (
	DelegateCPU Delegate = iota
	DelegateGPU
	DelegateNNAPI
)

func (d Delegate) String() string {
	switch d {
	case DelegateCPU:
		return "cpu"
	case DelegateGPU:
		return "gpu"
	case DelegateNNAPI:
		return "nnapi"
	default:
		return fmt.Sprintf("delegate(%d)", int(d))
	}
}

// ParseDelegate parses cpu, gpu or nnapi. Empty means cpu.
func ParseDelegate(s string) (Delegate, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "cpu":
		return DelegateCPU, nil
	case "gpu":
		return DelegateGPU, nil
	case "nnapi":
		return DelegateNNAPI, nil
	default:
		return DelegateCPU, fmt.Errorf("%w: %q", ErrInvalidDelegate, s)
	}
}

// MarshalText encodes the delegate name.
func (d Delegate) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

// UnmarshalText decodes a delegate name.
func (d *Delegate) UnmarshalText(b []byte) error {
	v, err := ParseDelegate(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// Box is a bounding box in pixels of the rotated image.
type Box struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Right  float64 `json:"right"`
	Bottom float64 `json:"bottom"`
}

// Detection is one labelled object.
type Detection struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
	Box   Box     `json:"box"`
}

// Result is the outcome of running the detector on one image.
type Result struct {
	Detections    []Detection   `json:"detections"`
	InferenceTime time.Duration `json:"inference_time"`
	ImageWidth    int           `json:"image_width"`
	ImageHeight   int           `json:"image_height"`
}

// Detector finds objects in an image captured at rotation degrees.
type Detector interface {
	Detect(ctx context.Context, img image.Image, rotation int) (Result, error)
}

// Options control what the detector reports.
type Options struct {
	MaxResults     int
	ScoreThreshold float64
	NumThreads     int
	Delegate       Delegate
}

// DefaultOptions returns the stock detector options.
func DefaultOptions() Options {
	return Options{
		MaxResults:     DefaultMaxResults,
		ScoreThreshold: DefaultScoreThreshold,
		NumThreads:     DefaultNumThreads,
		Delegate:       DelegateCPU,
	}
}

// Filter keeps detections scoring at least threshold, best first, at most max.
func Filter(in []Detection, threshold float64, max int) []Detection {
	out := make([]Detection, 0, len(in))
	for _, d := range in {
		if d.Score >= threshold {
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if max > 0 && len(out) > max {
		out = out[:max]
	}
	return out
}

// Decode reads a JPEG or PNG image. Frames wider or taller than MaxFrameSide
// are rejected from their header, before any pixel is allocated.
func Decode(r io.Reader) (image.Image, error) {
	var head bytes.Buffer
	cfg, _, err := image.DecodeConfig(io.TeeReader(r, &head))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	if cfg.Width > MaxFrameSide || cfg.Height > MaxFrameSide {
		return nil, fmt.Errorf("%w: %dx%d exceeds %dx%d", ErrFrameTooLarge, cfg.Width, cfg.Height, MaxFrameSide, MaxFrameSide)
	}
	img, _, err := image.Decode(io.MultiReader(&head, r))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}
