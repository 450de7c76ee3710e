package audio_test

import (
	"testing"
	"time"

	"github.com/veriwave/veriwave/pkg/audio"
)

// newBuffer creates a 16 kHz buffer with 1s windows, 250ms overlap, and a 1s
// minimum, i.e. chunk=16000, overlap=4000, min=16000 samples.
func newBuffer(t *testing.T) *audio.WindowBuffer {
	t.Helper()
	b, err := audio.NewWindowBuffer(audio.WindowConfig{
		SampleRate:      16000,
		ChunkDuration:   time.Second,
		OverlapDuration: 250 * time.Millisecond,
		MinDuration:     time.Second,
	})
	if err != nil {
		t.Fatalf("NewWindowBuffer() error: %v", err)
	}
	return b
}

// ramp produces n samples with values start, start+1, ... so window contents
// can be checked positionally.
func ramp(start, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(start + i)
	}
	return out
}

func TestWindowBuffer_RejectsOverlapNotShorterThanChunk(t *testing.T) {
	t.Parallel()

	_, err := audio.NewWindowBuffer(audio.WindowConfig{
		SampleRate:      16000,
		ChunkDuration:   time.Second,
		OverlapDuration: time.Second,
	})
	if err == nil {
		t.Fatal("NewWindowBuffer() with overlap == chunk should fail")
	}
}

func TestWindowBuffer_FirstWindowAndOverlapCarry(t *testing.T) {
	t.Parallel()

	b := newBuffer(t)

	// Feed exactly one chunk of zeros: one window out, overlap retained.
	windows := b.Feed(make([]float32, 16000))
	if len(windows) != 1 {
		t.Fatalf("Feed(16000) emitted %d windows, want 1", len(windows))
	}
	if len(windows[0]) != 16000 {
		t.Errorf("window length = %d, want 16000", len(windows[0]))
	}
	if b.Len() != 4000 {
		t.Errorf("pending after first window = %d, want 4000", b.Len())
	}

	// 12000 more samples bring pending back to 16000: one more window.
	windows = b.Feed(make([]float32, 12000))
	if len(windows) != 1 {
		t.Fatalf("Feed(12000) emitted %d windows, want 1", len(windows))
	}
	if b.Len() != 4000 {
		t.Errorf("pending after second window = %d, want 4000", b.Len())
	}
}

func TestWindowBuffer_OverlapIsContiguous(t *testing.T) {
	t.Parallel()

	b := newBuffer(t)
	var windows [][]float32
	windows = append(windows, b.Feed(ramp(0, 40000))...)

	if len(windows) < 2 {
		t.Fatalf("emitted %d windows, want at least 2", len(windows))
	}
	for i := 0; i < len(windows)-1; i++ {
		tail := windows[i][len(windows[i])-4000:]
		head := windows[i+1][:4000]
		for j := range tail {
			if tail[j] != head[j] {
				t.Fatalf("window %d tail[%d] = %v, window %d head[%d] = %v; overlap must match bit-for-bit",
					i, j, tail[j], i+1, j, head[j])
			}
		}
	}
}

func TestWindowBuffer_WindowCompleteness(t *testing.T) {
	t.Parallel()

	// windows = floor((N - chunk) / (chunk - overlap)) + 1 once N >= chunk.
	tests := []struct {
		total int
		want  int
	}{
		{0, 0},
		{15999, 0},
		{16000, 1},
		{27999, 1},
		{28000, 2},
		{40000, 3},
		{100000, 8},
	}
	for _, tt := range tests {
		b := newBuffer(t)
		got := len(b.Feed(make([]float32, tt.total)))
		if got != tt.want {
			t.Errorf("Feed(%d samples) emitted %d windows, want %d", tt.total, got, tt.want)
		}
	}
}

func TestWindowBuffer_OrderDeterministicAcrossChunking(t *testing.T) {
	t.Parallel()

	stream := ramp(0, 32000)

	single := newBuffer(t)
	wantWindows := single.Feed(stream)

	split := newBuffer(t)
	var gotWindows [][]float32
	for off := 0; off < len(stream); off += 1000 {
		gotWindows = append(gotWindows, split.Feed(stream[off:off+1000])...)
	}

	if len(gotWindows) != len(wantWindows) {
		t.Fatalf("split feed emitted %d windows, single feed %d", len(gotWindows), len(wantWindows))
	}
	for i := range wantWindows {
		for j := range wantWindows[i] {
			if gotWindows[i][j] != wantWindows[i][j] {
				t.Fatalf("window %d sample %d differs between feed chunkings", i, j)
			}
		}
	}
	if split.Len() != single.Len() {
		t.Errorf("pending differs: split %d, single %d", split.Len(), single.Len())
	}
}

func TestWindowBuffer_MinLengthDelaysOnlyFirstWindow(t *testing.T) {
	t.Parallel()

	// min 2s > chunk 1s: nothing until 32000 samples, then everything due.
	b, err := audio.NewWindowBuffer(audio.WindowConfig{
		SampleRate:      16000,
		ChunkDuration:   time.Second,
		OverlapDuration: 250 * time.Millisecond,
		MinDuration:     2 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewWindowBuffer() error: %v", err)
	}

	if got := b.Feed(make([]float32, 20000)); len(got) != 0 {
		t.Fatalf("emitted %d windows below min length, want 0", len(got))
	}
	if got := b.Feed(make([]float32, 12000)); len(got) != 2 {
		t.Fatalf("emitted %d windows once min length reached, want 2", len(got))
	}

	// Steady state no longer consults the min gate.
	if got := b.Feed(make([]float32, 12000)); len(got) != 1 {
		t.Fatalf("emitted %d windows in steady state, want 1", len(got))
	}
}

func TestWindowBuffer_ReconfigureReinterpretsPending(t *testing.T) {
	t.Parallel()

	b := newBuffer(t)
	b.Feed(make([]float32, 16000)) // leaves 4000 pending

	// Shrink the chunk below the pending size: no forced emission.
	if err := b.Reconfigure(16000, 125*time.Millisecond, 0); err != nil {
		t.Fatalf("Reconfigure() error: %v", err)
	}
	if b.Len() != 4000 {
		t.Errorf("pending after Reconfigure = %d, want 4000 (no reset)", b.Len())
	}

	// The next feed emits under the new 2000-sample geometry.
	windows := b.Feed(make([]float32, 2000))
	if len(windows) != 3 {
		t.Fatalf("emitted %d windows under new geometry, want 3", len(windows))
	}
	if len(windows[0]) != 2000 {
		t.Errorf("window length = %d, want 2000", len(windows[0]))
	}
}

func TestWindowBuffer_ReconfigureRescalesMinimumGate(t *testing.T) {
	t.Parallel()

	b := newBuffer(t)

	// Dropping the rate to 8 kHz halves every sample count, including the
	// one-second minimum gate: one second of 8 kHz audio must now emit.
	if err := b.Reconfigure(8000, time.Second, 250*time.Millisecond); err != nil {
		t.Fatalf("Reconfigure() error: %v", err)
	}
	windows := b.Feed(make([]float32, 8000))
	if len(windows) != 1 {
		t.Fatalf("emitted %d windows from 1s of 8 kHz audio, want 1", len(windows))
	}
	if len(windows[0]) != 8000 {
		t.Errorf("window length = %d, want 8000", len(windows[0]))
	}
}

func TestWindowBuffer_ReconfigureRejectsBadGeometry(t *testing.T) {
	t.Parallel()

	b := newBuffer(t)
	if err := b.Reconfigure(16000, 250*time.Millisecond, 500*time.Millisecond); err == nil {
		t.Fatal("Reconfigure() with overlap > chunk should fail")
	}
	// The previous geometry must remain in effect.
	if got := len(b.Feed(make([]float32, 16000))); got != 1 {
		t.Errorf("emitted %d windows after rejected Reconfigure, want 1", got)
	}
}

func TestWindowBuffer_EmittedWindowsAreCopies(t *testing.T) {
	t.Parallel()

	b := newBuffer(t)
	windows := b.Feed(ramp(0, 16000))
	first := windows[0][0]

	// Feeding more audio must not mutate an already-emitted window.
	b.Feed(ramp(16000, 16000))
	if windows[0][0] != first {
		t.Error("emitted window was mutated by a later Feed")
	}
}
