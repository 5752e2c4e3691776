package detection

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"net/http"
	"time"

	"github.com/zydorg/kemunify/pkg/logger"
	"github.com/zydorg/kemunify/pkg/metrics"
)

const (
	defaultTimeout  = 10 * time.Second
	maxResponseSize = 1 << 20
)

var ErrBackend = errors.New("detection backend error")

type detectRequest struct {
	Image          string   `json:"image"`
	MaxResults     int      `json:"max_results"`
	ScoreThreshold float64  `json:"score_threshold"`
	NumThreads     int      `json:"num_threads"`
	Delegate       Delegate `json:"delegate"`
}

type detectResponse struct {
	Detections []Detection `json:"detections"`
}

// HTTPDetector posts frames to an inference endpoint.
type HTTPDetector struct {
	endpoint string
	opts     Options
	client   *http.Client
	logger   logger.Logger
}

// HTTPOption configures an HTTPDetector.
type HTTPOption func(*HTTPDetector)

// WithOptions sets the detector options. Zero fields keep their defaults.
func WithOptions(o Options) HTTPOption {
	return func(d *HTTPDetector) {
		if o.MaxResults > 0 {
			d.opts.MaxResults = o.MaxResults
		}
		if o.ScoreThreshold > 0 {
			d.opts.ScoreThreshold = o.ScoreThreshold
		}
		if o.NumThreads > 0 {
			d.opts.NumThreads = o.NumThreads
		}
		d.opts.Delegate = o.Delegate
	}
}

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(d *HTTPDetector) {
		if c != nil {
			d.client = c
		}
	}
}

// WithTimeout bounds each backend call.
func WithTimeout(t time.Duration) HTTPOption {
	return func(d *HTTPDetector) {
		if t > 0 {
			d.client.Timeout = t
		}
	}
}

// WithLogger sets the detector logger.
func WithLogger(l logger.Logger) HTTPOption {
	return func(d *HTTPDetector) {
		if l != nil {
			d.logger = l
		}
	}
}

// NewHTTPDetector creates a detector calling endpoint.
func NewHTTPDetector(endpoint string, opts ...HTTPOption) *HTTPDetector {
	d := &HTTPDetector{
		endpoint: endpoint,
		opts:     DefaultOptions(),
		client:   &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = logger.Get()
	}
	d.logger = d.logger.Named("detection")
	return d
}

// Options returns the effective options.
func (d *HTTPDetector) Options() Options { return d.opts }

// Detect rotates img upright, sends it to the backend and filters the answer.
func (d *HTTPDetector) Detect(ctx context.Context, img image.Image, rotation int) (Result, error) {
	start := time.Now()
	res, err := d.detect(ctx, img, rotation)
	elapsed := time.Since(start)
	if err != nil {
		metrics.RecordDetection("failed", float64(elapsed.Milliseconds()))
		d.logger.Error(ctx, "detection failed", logger.Int("rotation", rotation), logger.Error(err))
		return Result{}, err
	}
	res.InferenceTime = elapsed
	metrics.RecordDetection("ok", float64(elapsed.Milliseconds()))
	d.logger.Debug(ctx, "detection done",
		logger.Int("detections", len(res.Detections)), logger.Duration("took", elapsed))
	return res, nil
}

func (d *HTTPDetector) detect(ctx context.Context, img image.Image, rotation int) (Result, error) {
	if img == nil {
		return Result{}, ErrNoImage
	}
	turns, err := quarterTurns(rotation)
	if err != nil {
		return Result{}, err
	}
	upright := Rotate(img, turns)

	var buf bytes.Buffer
	if err := png.Encode(&buf, upright); err != nil {
		return Result{}, fmt.Errorf("encode frame: %w", err)
	}
	body, err := json.Marshal(detectRequest{
		Image:          base64.StdEncoding.EncodeToString(buf.Bytes()),
		MaxResults:     d.opts.MaxResults,
		ScoreThreshold: d.opts.ScoreThreshold,
		NumThreads:     d.opts.NumThreads,
		Delegate:       d.opts.Delegate,
	})
	if err != nil {
		return Result{}, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Result{}, fmt.Errorf("%w: status %d: %s", ErrBackend, resp.StatusCode, bytes.TrimSpace(msg))
	}

	var out detectResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&out); err != nil {
		return Result{}, fmt.Errorf("%w: decode response: %v", ErrBackend, err)
	}

	b := upright.Bounds()
	return Result{
		Detections:  Filter(out.Detections, d.opts.ScoreThreshold, d.opts.MaxResults),
		ImageWidth:  b.Dx(),
		ImageHeight: b.Dy(),
	}, nil
}
