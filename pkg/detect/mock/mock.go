// Package mock provides a test double for the detect package interfaces.
//
// Use Detector to inject canned classification results and inspect the
// windows that were submitted:
//
//	det := &mock.Detector{
//	    DetectResult: detect.Result{Label: detect.LabelSpoof, Score: 0.97, IsSpoof: true},
//	}
//	res, _ := det.Detect(ctx, window, 16000)
package mock

import (
	"context"
	"sync"

	"github.com/veriwave/veriwave/pkg/detect"
)

// DetectCall records a single invocation of Detector.Detect.
type DetectCall struct {
	// Samples is a copy of the window passed to Detect.
	Samples []float32

	// SampleRate is the rate passed to Detect.
	SampleRate int
}

// Detector is a mock implementation of detect.Detector.
type Detector struct {
	mu sync.Mutex

	// DetectResult is returned by every Detect call.
	DetectResult detect.Result

	// DetectErr, if non-nil, is returned as the error from Detect.
	DetectErr error

	// DetectFunc, if non-nil, overrides DetectResult/DetectErr entirely.
	DetectFunc func(ctx context.Context, samples []float32, sampleRate int) (detect.Result, error)

	// ReadyErr, if non-nil, is returned from Ready.
	ReadyErr error

	// DetectCalls records every call to Detect in order.
	DetectCalls []DetectCall
}

// Ensure Detector implements detect.Detector at compile time.
var _ detect.Detector = (*Detector)(nil)

// Detect records the call and returns the configured result.
func (d *Detector) Detect(ctx context.Context, samples []float32, sampleRate int) (detect.Result, error) {
	cp := make([]float32, len(samples))
	copy(cp, samples)

	d.mu.Lock()
	d.DetectCalls = append(d.DetectCalls, DetectCall{Samples: cp, SampleRate: sampleRate})
	fn := d.DetectFunc
	res, err := d.DetectResult, d.DetectErr
	d.mu.Unlock()

	if fn != nil {
		return fn(ctx, samples, sampleRate)
	}
	if err != nil {
		return detect.Result{}, err
	}
	return res, nil
}

// Ready returns ReadyErr.
func (d *Detector) Ready(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ReadyErr
}

// Calls returns a copy of the recorded Detect calls. Thread-safe.
func (d *Detector) Calls() []DetectCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]DetectCall, len(d.DetectCalls))
	copy(out, d.DetectCalls)
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.DetectCalls = nil
}
