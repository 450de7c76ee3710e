package resilience

import (
	"context"
	"errors"
	"fmt"

	"github.com/veriwave/veriwave/pkg/detect"
)

// DetectorFallback implements [detect.Detector] with automatic failover across
// multiple classification backends. Each backend has its own circuit breaker,
// so a tripped primary is skipped without waiting out its reset timeout.
type DetectorFallback struct {
	group *FallbackGroup[detect.Detector]
}

// Compile-time interface assertion.
var _ detect.Detector = (*DetectorFallback)(nil)

// NewDetectorFallback creates a [DetectorFallback] with primary as the
// preferred backend.
func NewDetectorFallback(primary detect.Detector, primaryName string, cfg FallbackConfig) *DetectorFallback {
	return &DetectorFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional detector backend as a fallback.
func (f *DetectorFallback) AddFallback(name string, d detect.Detector) {
	f.group.AddFallback(name, d)
}

// Detect classifies the window against the first healthy backend. When every
// backend fails or has an open breaker, the returned error satisfies
// [detect.ErrModelUnavailable] so callers can report the outage uniformly.
func (f *DetectorFallback) Detect(ctx context.Context, samples []float32, sampleRate int) (detect.Result, error) {
	res, err := ExecuteWithResult(f.group, func(d detect.Detector) (detect.Result, error) {
		return d.Detect(ctx, samples, sampleRate)
	})
	if err != nil && errors.Is(err, ErrAllFailed) {
		return detect.Result{}, fmt.Errorf("%w: %v", detect.ErrModelUnavailable, err)
	}
	return res, err
}

// Ready reports readiness if at least one backend in the group is ready.
func (f *DetectorFallback) Ready(ctx context.Context) error {
	err := f.group.Execute(func(d detect.Detector) error {
		return d.Ready(ctx)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", detect.ErrModelUnavailable, err)
	}
	return nil
}
