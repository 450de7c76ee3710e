// Package detect defines the anti-spoofing classification capability consumed
// by the VeriWave streaming core, plus the [Invoker] that adapts a backend
// into the per-window detection call the session layer makes.
//
// The concrete model lives behind the [Detector] interface so that backends
// (a local inference sidecar, a hosted API, a test mock) are swappable without
// touching the buffering or session logic.
package detect

import (
	"context"
	"errors"
	"time"
)

// Well-known class labels produced by the anti-spoofing backends.
const (
	// LabelBonafide marks audio judged to be genuine human speech.
	LabelBonafide = "bonafide"

	// LabelSpoof marks audio judged to be synthetic or replayed.
	LabelSpoof = "spoof"
)

// ErrModelUnavailable is returned when the backend is not loaded, not warmed,
// or otherwise unable to accept windows. It is surfaced to the caller rather
// than silently retried.
var ErrModelUnavailable = errors.New("detection model unavailable")

// ErrInference wraps any failure raised by the backend while classifying a
// window. The triggering window is dropped, never re-queued.
var ErrInference = errors.New("inference failed")

// Result is the canonical outcome of classifying one analysis window.
// It is immutable once produced.
type Result struct {
	// Label is the winning class, normally [LabelBonafide] or [LabelSpoof].
	Label string

	// Score is the confidence of Label, in [0, 1].
	Score float64

	// IsSpoof is true when Label indicates synthetic audio.
	IsSpoof bool

	// AllScores holds the full score distribution over labels, when the
	// backend provides one.
	AllScores map[string]float64

	// Logits are the raw model outputs, when the backend exposes them.
	Logits []float64

	// Elapsed is the wall-clock time the classification took.
	Elapsed time.Duration
}

// Detector is the classification capability: a callable accepting a
// fixed-length float sample window and its sample rate.
//
// Implementations must be safe for concurrent use across sessions; the
// per-connection processing loop already guarantees at most one in-flight
// call per connection.
type Detector interface {
	// Detect classifies one analysis window. It must respect ctx cancellation;
	// a canceled call may return ctx.Err() wrapped in [ErrInference].
	Detect(ctx context.Context, samples []float32, sampleRate int) (Result, error)

	// Ready reports whether the backend is loaded and warmed. A non-nil error
	// describes why the backend cannot currently serve.
	Ready(ctx context.Context) error
}
