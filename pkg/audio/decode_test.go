package audio_test

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/veriwave/veriwave/pkg/audio"
)

// encodeBase64 packs samples as little-endian float32 bytes wrapped in base64,
// matching the wire format clients send.
func encodeBase64(samples []float32) string {
	raw := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(s))
	}
	return base64.StdEncoding.EncodeToString(raw)
}

func TestDecodeSamples_Base64RoundTrip(t *testing.T) {
	t.Parallel()

	want := []float32{0, 0.5, -0.5, 1, -1, 0.123}
	got, err := audio.DecodeSamples(encodeBase64(want), audio.EncodingBase64)
	if err != nil {
		t.Fatalf("DecodeSamples() error: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("decoded %d samples, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestDecodeSamples_JSONArray(t *testing.T) {
	t.Parallel()

	got, err := audio.DecodeSamples("[0.0, 0.25, -0.25, 1]", audio.EncodingJSON)
	if err != nil {
		t.Fatalf("DecodeSamples() error: %v", err)
	}
	want := []float32{0, 0.25, -0.25, 1}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestDecodeSamples_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		payload  string
		encoding audio.Encoding
		wantErr  error
	}{
		{
			name:     "unknown encoding tag",
			payload:  "whatever",
			encoding: audio.Encoding("hex"),
			wantErr:  audio.ErrUnsupportedEncoding,
		},
		{
			name:     "invalid base64",
			payload:  "!!!not-base64!!!",
			encoding: audio.EncodingBase64,
			wantErr:  audio.ErrMalformedPayload,
		},
		{
			name:     "byte length not multiple of four",
			payload:  base64.StdEncoding.EncodeToString([]byte{1, 2, 3, 4, 5}),
			encoding: audio.EncodingBase64,
			wantErr:  audio.ErrMalformedPayload,
		},
		{
			name:     "json element not numeric",
			payload:  `[0.1, "loud", 0.3]`,
			encoding: audio.EncodingJSON,
			wantErr:  audio.ErrMalformedPayload,
		},
		{
			name:     "json not an array",
			payload:  `{"samples": [1, 2]}`,
			encoding: audio.EncodingJSON,
			wantErr:  audio.ErrMalformedPayload,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := audio.DecodeSamples(tt.payload, tt.encoding)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("DecodeSamples() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestDecodeSamples_EmptyBase64(t *testing.T) {
	t.Parallel()

	got, err := audio.DecodeSamples("", audio.EncodingBase64)
	if err != nil {
		t.Fatalf("DecodeSamples() error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("decoded %d samples from empty payload, want 0", len(got))
	}
}
