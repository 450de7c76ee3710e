// Package server implements the VeriWave WebSocket detection server: the
// per-connection protocol state machine, the process-wide session registry,
// and the HTTP surface (health, stats, metrics) around them.
//
// Each live connection is owned by exactly one goroutine running
// [Session.Run]; message processing within a connection is strictly
// sequential, which is what keeps the windowing buffer free of locks and the
// result stream in arrival order.
package server

import (
	"encoding/json"
	"fmt"
	"time"
)

// Inbound message kinds. Anything else is a protocol violation.
const (
	TypeConnect    = "connect"
	TypeAudioChunk = "audio_chunk"
	TypeConfig     = "config"
	TypePing       = "ping"
	TypeStats      = "stats"
)

// Outbound message kinds.
const (
	TypeConnected       = "connected"
	TypeDetectionResult = "detection_result"
	TypeError           = "error"
	TypePong            = "pong"
)

// InboundMessage is the decoded form of every client message. The Type tag
// decides which fields are meaningful; unused fields stay at their zero
// values.
type InboundMessage struct {
	Type     string `json:"type"`
	ClientID string `json:"client_id,omitempty"`

	// audio_chunk fields.
	AudioData  string `json:"audio_data,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Encoding   string `json:"encoding,omitempty"`

	// config fields, durations in seconds. Pointers distinguish "absent"
	// from zero.
	ChunkDuration   *float64 `json:"chunk_duration,omitempty"`
	OverlapDuration *float64 `json:"overlap_duration,omitempty"`

	// Timestamp is the client clock at send time, Unix seconds.
	Timestamp float64 `json:"timestamp,omitempty"`
}

// ParseInbound decodes one wire message. A JSON-level failure or a missing
// type tag is reported as an error; unknown type values are left to the
// session dispatch so they can be counted as protocol violations.
func ParseInbound(data []byte) (InboundMessage, error) {
	var msg InboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return InboundMessage{}, fmt.Errorf("server: decode message: %w", err)
	}
	if msg.Type == "" {
		return InboundMessage{}, fmt.Errorf("server: message missing type field")
	}
	return msg, nil
}

// ConnectedMessage acknowledges a successful connect.
type ConnectedMessage struct {
	Type      string  `json:"type"`
	ClientID  string  `json:"client_id"`
	Timestamp float64 `json:"timestamp"`
}

// ResultPayload is the serialized classification outcome inside a
// detection_result message.
type ResultPayload struct {
	Label     string             `json:"label"`
	Score     float64            `json:"score"`
	IsSpoof   bool               `json:"is_spoof"`
	AllScores map[string]float64 `json:"all_scores,omitempty"`
	Logits    []float64          `json:"logits,omitempty"`
}

// DetectionResultMessage carries one classification result back to the
// client, one per completed window.
type DetectionResultMessage struct {
	Type             string        `json:"type"`
	Result           ResultPayload `json:"result"`
	Timestamp        float64       `json:"timestamp"`
	ProcessingTimeMS float64       `json:"processing_time_ms"`
}

// ErrorMessage is a non-fatal failure notice. The session stays active after
// sending one.
type ErrorMessage struct {
	Type      string  `json:"type"`
	Message   string  `json:"message"`
	Timestamp float64 `json:"timestamp"`
}

// PongMessage replies to a liveness probe.
type PongMessage struct {
	Type      string  `json:"type"`
	Timestamp float64 `json:"timestamp"`
}

// StatsPayload is the per-session counter snapshot inside a stats reply.
type StatsPayload struct {
	ConnectedAt     float64 `json:"connected_at"`
	TotalMessages   uint64  `json:"total_messages"`
	TotalDetections uint64  `json:"total_detections"`
	BufferSize      int     `json:"buffer_size"`
	BufferDuration  float64 `json:"buffer_duration"`
}

// StatsMessage replies to a stats request.
type StatsMessage struct {
	Type      string       `json:"type"`
	Stats     StatsPayload `json:"stats"`
	Timestamp float64      `json:"timestamp"`
}

// unixSeconds converts t to the protocol's float Unix-seconds timestamp.
func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// encodeMessage serializes one outbound message.
func encodeMessage(msg any) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("server: encode message: %w", err)
	}
	return data, nil
}
