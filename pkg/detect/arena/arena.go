// Package arena provides a detect.Detector backed by a DF-Arena-style
// anti-spoofing inference sidecar over its REST API.
//
// The sidecar exposes two endpoints:
//
//   - POST /v1/classify accepts a JSON body with the float sample window and
//     sample rate, and returns the label, score, and score distribution.
//   - GET /v1/ready returns 200 once the model is loaded and warmed.
//
// Typical usage:
//
//	det, _ := arena.New("http://localhost:9090",
//	    arena.WithModel("df-arena-500m"),
//	    arena.WithTimeout(10*time.Second),
//	)
//	res, err := det.Detect(ctx, window, 16000)
package arena

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/veriwave/veriwave/pkg/detect"
)

const (
	classifyEndpoint = "/v1/classify"
	readyEndpoint    = "/v1/ready"

	defaultTimeout = 30 * time.Second
)

// Compile-time interface assertion.
var _ detect.Detector = (*Detector)(nil)

// Option is a functional option for configuring an arena Detector.
type Option func(*Detector)

// WithModel sets the model identifier sent with each classify request.
// The sidecar falls back to its default model when empty.
func WithModel(model string) Option {
	return func(d *Detector) {
		d.model = model
	}
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 30s.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Detector) {
		d.httpClient.Timeout = timeout
	}
}

// WithHTTPClient replaces the underlying HTTP client. Useful in tests and for
// callers that need custom transports.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Detector) {
		d.httpClient = c
	}
}

// Detector implements detect.Detector against an inference sidecar.
type Detector struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// New creates a Detector targeting the sidecar at baseURL. baseURL must be
// non-empty (e.g. "http://localhost:9090").
func New(baseURL string, opts ...Option) (*Detector, error) {
	if baseURL == "" {
		return nil, errors.New("arena: baseURL must not be empty")
	}
	d := &Detector{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(d)
	}
	return d, nil
}

// classifyRequest is the JSON body sent to the classify endpoint.
type classifyRequest struct {
	Samples    []float32 `json:"samples"`
	SampleRate int       `json:"sample_rate"`
	Model      string    `json:"model,omitempty"`
}

// classifyResponse is the JSON body returned by the classify endpoint.
type classifyResponse struct {
	Label     string             `json:"label"`
	Score     float64            `json:"score"`
	AllScores map[string]float64 `json:"all_scores"`
	Logits    []float64          `json:"logits"`
}

// Detect sends one analysis window to the sidecar and normalises the reply
// into a detect.Result.
func (d *Detector) Detect(ctx context.Context, samples []float32, sampleRate int) (detect.Result, error) {
	body, err := json.Marshal(classifyRequest{
		Samples:    samples,
		SampleRate: sampleRate,
		Model:      d.model,
	})
	if err != nil {
		return detect.Result{}, fmt.Errorf("arena: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+classifyEndpoint, bytes.NewReader(body))
	if err != nil {
		return detect.Result{}, fmt.Errorf("arena: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return detect.Result{}, fmt.Errorf("arena: classify: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusServiceUnavailable {
		return detect.Result{}, fmt.Errorf("arena: %w: sidecar returned 503", detect.ErrModelUnavailable)
	}
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return detect.Result{}, fmt.Errorf("arena: classify: unexpected status %d: %s", resp.StatusCode, snippet)
	}

	var cr classifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return detect.Result{}, fmt.Errorf("arena: decode response: %w", err)
	}

	return detect.Result{
		Label:     cr.Label,
		Score:     cr.Score,
		IsSpoof:   cr.Label == detect.LabelSpoof,
		AllScores: cr.AllScores,
		Logits:    cr.Logits,
	}, nil
}

// Ready probes the sidecar's readiness endpoint. Any non-200 response or
// transport failure is reported as the reason the backend cannot serve.
func (d *Detector) Ready(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+readyEndpoint, nil)
	if err != nil {
		return fmt.Errorf("arena: build readiness request: %w", err)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("arena: readiness probe: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("arena: sidecar not ready: status %d", resp.StatusCode)
	}
	return nil
}
