// Package audio provides the sample decoding and stream windowing primitives
// for the VeriWave detection pipeline.
//
// Incoming wire payloads are decoded into canonical mono float32 sample
// sequences by [DecodeSamples]. A per-connection [WindowBuffer] then
// reassembles those sequences into overlapping fixed-length analysis windows
// ready for classification.
package audio

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

// float32Width is the byte width of a single little-endian float32 sample.
const float32Width = 4

// Encoding identifies how an audio payload is encoded on the wire.
type Encoding string

const (
	// EncodingBase64 is a base64 string wrapping raw little-endian float32 PCM.
	EncodingBase64 Encoding = "base64"

	// EncodingJSON is a JSON array of numeric sample values.
	EncodingJSON Encoding = "json"
)

// IsValid reports whether e is a recognised payload encoding.
func (e Encoding) IsValid() bool {
	return e == EncodingBase64 || e == EncodingJSON
}

// ErrUnsupportedEncoding is returned by [DecodeSamples] for an encoding tag
// outside the supported set.
var ErrUnsupportedEncoding = errors.New("unsupported audio encoding")

// ErrMalformedPayload is returned by [DecodeSamples] when a payload cannot be
// decoded under its declared encoding.
var ErrMalformedPayload = errors.New("malformed audio payload")

// ErrSampleRateMismatch indicates a chunk declared a sample rate different
// from the rate its connection committed to. The check itself lives in the
// session layer; the sentinel is defined here with the rest of the decode
// error taxonomy.
var ErrSampleRateMismatch = errors.New("sample rate mismatch")

// DecodeSamples converts a wire-encoded audio payload into a float32 sample
// sequence. The declared sample rate is not interpreted here; callers pass it
// through to the windowing layer.
//
// Two encodings are accepted: base64-wrapped raw little-endian float32 PCM,
// and a JSON array of numbers. Anything else fails with
// [ErrUnsupportedEncoding]; a payload that cannot be decoded under its
// declared encoding fails with [ErrMalformedPayload].
func DecodeSamples(payload string, encoding Encoding) ([]float32, error) {
	switch encoding {
	case EncodingBase64:
		return decodeBase64(payload)
	case EncodingJSON:
		return decodeJSONArray(payload)
	default:
		return nil, fmt.Errorf("audio: %w: %q", ErrUnsupportedEncoding, encoding)
	}
}

// decodeBase64 decodes a base64 string into float32 samples. The decoded byte
// length must be a multiple of the float32 width.
func decodeBase64(payload string) ([]float32, error) {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("audio: %w: base64 decode: %v", ErrMalformedPayload, err)
	}
	if len(raw)%float32Width != 0 {
		return nil, fmt.Errorf("audio: %w: %d bytes is not a multiple of %d",
			ErrMalformedPayload, len(raw), float32Width)
	}

	samples := make([]float32, len(raw)/float32Width)
	for i := range samples {
		bits := binary.LittleEndian.Uint32(raw[i*float32Width:])
		samples[i] = math.Float32frombits(bits)
	}
	return samples, nil
}

// decodeJSONArray parses a JSON array of numbers into float32 samples.
// A non-numeric element fails the whole payload.
func decodeJSONArray(payload string) ([]float32, error) {
	var values []json.Number
	dec := json.NewDecoder(strings.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(&values); err != nil {
		return nil, fmt.Errorf("audio: %w: json decode: %v", ErrMalformedPayload, err)
	}

	samples := make([]float32, len(values))
	for i, v := range values {
		f, err := v.Float64()
		if err != nil {
			return nil, fmt.Errorf("audio: %w: element %d is not numeric: %v",
				ErrMalformedPayload, i, err)
		}
		samples[i] = float32(f)
	}
	return samples, nil
}
