package detect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Invoker wraps a [Detector] with the normalisation the session layer relies
// on: readiness is checked before each call, latency is measured into
// [Result.Elapsed], and backend failures are folded into the package error
// taxonomy. The Invoker never retries; retry or failover, if desired, is
// layered around the backend it wraps.
type Invoker struct {
	backend Detector
	clock   func() time.Time
}

// NewInvoker creates an Invoker around backend.
func NewInvoker(backend Detector) *Invoker {
	return &Invoker{backend: backend, clock: time.Now}
}

// Detect classifies one completed window on behalf of clientID.
//
// A backend that reports itself unready fails with [ErrModelUnavailable]; any
// classification failure is wrapped in [ErrInference] and logged with the
// client identity and window size so the dropped window can be diagnosed
// after the fact.
func (inv *Invoker) Detect(ctx context.Context, clientID string, window []float32, sampleRate int) (Result, error) {
	if err := inv.backend.Ready(ctx); err != nil {
		return Result{}, fmt.Errorf("detect: %w: %v", ErrModelUnavailable, err)
	}

	start := inv.clock()
	res, err := inv.backend.Detect(ctx, window, sampleRate)
	elapsed := inv.clock().Sub(start)

	if err != nil {
		if errors.Is(err, ErrModelUnavailable) {
			return Result{}, err
		}
		slog.Error("detection failed, window dropped",
			"client_id", clientID,
			"window_samples", len(window),
			"sample_rate", sampleRate,
			"err", err,
		)
		return Result{}, fmt.Errorf("detect: %w: %v", ErrInference, err)
	}

	res.Elapsed = elapsed
	return res, nil
}
