package audio

import (
	"fmt"
	"time"
)

// WindowBuffer accumulates decoded samples for one connection and emits
// overlapping fixed-length analysis windows. It is owned exclusively by the
// session that feeds it and requires no internal locking: the per-connection
// processing loop is strictly sequential.
//
// After each emitted window the last overlapLength samples are retained as
// the prefix of the pending queue, so consecutive windows share a contiguous
// overlap region.
type WindowBuffer struct {
	sampleRate    int
	chunkLength   int
	overlapLength int

	// minDuration is kept alongside its sample-count form so the gate can
	// be rescaled when Reconfigure changes the sample rate.
	minDuration time.Duration
	minLength   int

	pending []float32

	// emitted is set once the first window has been produced; the minLength
	// gate applies only before that point.
	emitted bool

	samplesFed     uint64
	windowsEmitted uint64
}

// WindowConfig holds the durations that shape a [WindowBuffer]. Durations are
// converted to sample counts at construction using the configured rate.
type WindowConfig struct {
	// SampleRate is the audio sample rate in Hz.
	SampleRate int

	// ChunkDuration is the length of each analysis window.
	ChunkDuration time.Duration

	// OverlapDuration is the span shared between consecutive windows.
	// Must be strictly shorter than ChunkDuration.
	OverlapDuration time.Duration

	// MinDuration is the minimum audio accumulated before the first window is
	// emitted. Values below ChunkDuration have no additional effect.
	MinDuration time.Duration
}

// NewWindowBuffer creates a buffer from cfg. It returns an error if the
// sample rate or chunk duration is non-positive, or if the overlap is not
// strictly shorter than the chunk (windows would never advance).
func NewWindowBuffer(cfg WindowConfig) (*WindowBuffer, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("audio: window buffer: sample rate %d must be positive", cfg.SampleRate)
	}
	chunk := durationToSamples(cfg.ChunkDuration, cfg.SampleRate)
	overlap := durationToSamples(cfg.OverlapDuration, cfg.SampleRate)

	b := &WindowBuffer{
		sampleRate:  cfg.SampleRate,
		minDuration: cfg.MinDuration,
		minLength:   durationToSamples(cfg.MinDuration, cfg.SampleRate),
	}
	if err := b.setLengths(chunk, overlap); err != nil {
		return nil, err
	}
	return b, nil
}

// Feed appends samples to the pending queue and returns every window that
// completed as a result, in strict arrival order. It never blocks; an empty
// slice of results means more audio is needed.
//
// Each returned window is an independent copy; the caller may retain it
// beyond the next Feed call.
func (b *WindowBuffer) Feed(samples []float32) [][]float32 {
	b.pending = append(b.pending, samples...)
	b.samplesFed += uint64(len(samples))

	if !b.emitted && len(b.pending) < b.minLength {
		return nil
	}

	var windows [][]float32
	for len(b.pending) >= b.chunkLength {
		w := make([]float32, b.chunkLength)
		copy(w, b.pending[:b.chunkLength])
		windows = append(windows, w)

		advance := b.chunkLength - b.overlapLength
		remaining := len(b.pending) - advance
		copy(b.pending, b.pending[advance:])
		b.pending = b.pending[:remaining]

		b.emitted = true
		b.windowsEmitted++
	}
	return windows
}

// Reconfigure replaces the window geometry for subsequent emissions. Pending
// samples are reinterpreted under the new lengths, never reset, and no window
// is force-emitted: if the shrunk chunk length is already covered by pending
// audio the emission happens on the next Feed. The min-duration gate keeps
// its configured duration, so its sample count follows the new rate.
func (b *WindowBuffer) Reconfigure(sampleRate int, chunkDuration, overlapDuration time.Duration) error {
	if sampleRate <= 0 {
		return fmt.Errorf("audio: window buffer: sample rate %d must be positive", sampleRate)
	}
	chunk := durationToSamples(chunkDuration, sampleRate)
	overlap := durationToSamples(overlapDuration, sampleRate)
	if err := b.setLengths(chunk, overlap); err != nil {
		return err
	}
	b.sampleRate = sampleRate
	b.minLength = durationToSamples(b.minDuration, sampleRate)
	return nil
}

// setLengths validates and installs the chunk and overlap sample counts.
func (b *WindowBuffer) setLengths(chunk, overlap int) error {
	if chunk <= 0 {
		return fmt.Errorf("audio: window buffer: chunk length %d must be positive", chunk)
	}
	if overlap < 0 || overlap >= chunk {
		return fmt.Errorf("audio: window buffer: overlap length %d must be in [0, %d)", overlap, chunk)
	}
	b.chunkLength = chunk
	b.overlapLength = overlap
	return nil
}

// Len returns the number of samples currently pending.
func (b *WindowBuffer) Len() int { return len(b.pending) }

// Duration returns the audio duration currently pending.
func (b *WindowBuffer) Duration() time.Duration {
	return time.Duration(float64(len(b.pending)) / float64(b.sampleRate) * float64(time.Second))
}

// SampleRate returns the rate currently in effect.
func (b *WindowBuffer) SampleRate() int { return b.sampleRate }

// ChunkLength returns the current window length in samples.
func (b *WindowBuffer) ChunkLength() int { return b.chunkLength }

// OverlapLength returns the current overlap length in samples.
func (b *WindowBuffer) OverlapLength() int { return b.overlapLength }

// SamplesFed returns the total number of samples ever appended.
func (b *WindowBuffer) SamplesFed() uint64 { return b.samplesFed }

// WindowsEmitted returns the total number of windows ever emitted.
func (b *WindowBuffer) WindowsEmitted() uint64 { return b.windowsEmitted }

// durationToSamples converts a duration at the given rate to a sample count.
func durationToSamples(d time.Duration, sampleRate int) int {
	return int(d.Seconds() * float64(sampleRate))
}
