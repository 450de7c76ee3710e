package audio

import (
	"fmt"
	"log/slog"
	"math"
)

// Bounds applied by [ValidateSamples]. Rates outside the range are rejected
// because the classifier backends only accept common speech rates.
const (
	minSampleRate = 8000
	maxSampleRate = 48000

	// maxChunkDuration caps a single decoded chunk; anything longer is almost
	// certainly a client bug rather than live audio.
	maxChunkDuration = 300.0 // seconds

	// silenceRMS is the RMS level below which a chunk is logged as silent.
	silenceRMS = 0.01
)

// ValidateSamples checks a decoded sample sequence before it enters the
// windowing buffer. It rejects out-of-range sample rates, empty payloads,
// implausibly long chunks, and non-finite sample values. Near-silent audio is
// logged but accepted.
//
// Violations are reported as [ErrMalformedPayload] so the session layer maps
// them onto the same non-fatal error reply as a failed decode.
func ValidateSamples(samples []float32, sampleRate int) error {
	if sampleRate < minSampleRate || sampleRate > maxSampleRate {
		return fmt.Errorf("audio: %w: sample rate %d Hz out of range [%d, %d]",
			ErrMalformedPayload, sampleRate, minSampleRate, maxSampleRate)
	}
	if len(samples) == 0 {
		return fmt.Errorf("audio: %w: empty sample payload", ErrMalformedPayload)
	}

	duration := float64(len(samples)) / float64(sampleRate)
	if duration > maxChunkDuration {
		return fmt.Errorf("audio: %w: chunk duration %.1fs exceeds %.0fs",
			ErrMalformedPayload, duration, maxChunkDuration)
	}

	var sumSquares float64
	for i, s := range samples {
		f := float64(s)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("audio: %w: non-finite sample at index %d", ErrMalformedPayload, i)
		}
		sumSquares += f * f
	}

	if rms := math.Sqrt(sumSquares / float64(len(samples))); rms < silenceRMS {
		slog.Debug("audio chunk appears silent", "rms", rms, "samples", len(samples))
	}
	return nil
}
