package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/veriwave/veriwave/internal/config"
	"github.com/veriwave/veriwave/internal/observe"
	"github.com/veriwave/veriwave/pkg/audio"
	"github.com/veriwave/veriwave/pkg/detect"
)

// StatusCode aliases the underlying WebSocket close code type so callers
// outside this package do not need to import the websocket library.
type StatusCode = websocket.StatusCode

// Close codes used by the session layer.
const (
	StatusNormalClosure   = websocket.StatusNormalClosure
	StatusGoingAway       = websocket.StatusGoingAway
	StatusPolicyViolation = websocket.StatusPolicyViolation
)

// Conn is the transport seam between a [Session] and its WebSocket. The
// production implementation wraps [websocket.Conn]; tests substitute an
// in-memory pipe.
type Conn interface {
	// Read blocks until the next complete inbound message or transport
	// failure.
	Read(ctx context.Context) ([]byte, error)

	// Write sends one complete outbound message.
	Write(ctx context.Context, data []byte) error

	// Close performs the transport close handshake. Safe to call more than
	// once; later calls may error and are ignored.
	Close(code StatusCode, reason string) error
}

// State is the lifecycle phase of a [Session].
type State int32

const (
	// StateConnecting is the initial phase; only a connect message is
	// accepted.
	StateConnecting State = iota

	// StateActive is the steady-state phase accepting all message kinds.
	StateActive

	// StateClosing means teardown has begun; no further messages are
	// processed.
	StateClosing

	// StateClosed is terminal; the registry entry is gone.
	StateClosed
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// SessionConfig carries the dependencies and per-connection settings for
// [NewSession].
type SessionConfig struct {
	Conn     Conn
	Registry *Registry
	Invoker  *detect.Invoker
	Metrics  *observe.Metrics

	// Backend names the configured detector backend for metric labels.
	Backend string

	// Buffer is the default windowing geometry for this connection. Clients
	// may change it later through config messages.
	Buffer config.BufferConfig

	// MessageRate and MessageBurst cap inbound message throughput. A zero
	// rate disables limiting.
	MessageRate  float64
	MessageBurst int

	// Clock overrides time.Now for tests.
	Clock func() time.Time
}

// Session owns one client connection: its windowing buffer, its counters, and
// the protocol state machine. All message processing happens on the single
// goroutine running [Session.Run]; only [Session.Close] and the counter
// accessors may be called from other goroutines.
type Session struct {
	conn     Conn
	registry *Registry
	invoker  *detect.Invoker
	metrics  *observe.Metrics
	backend  string
	clock    func() time.Time
	limiter  *rate.Limiter

	buffer          *audio.WindowBuffer
	chunkDuration   time.Duration
	overlapDuration time.Duration
	committedRate   int

	clientID   atomic.Value // string
	state      atomic.Int32
	registered atomic.Bool
	createdAt  time.Time

	messages   atomic.Uint64
	detections atomic.Uint64
	violations atomic.Uint64

	mu     sync.Mutex
	cancel context.CancelFunc

	closeOnce sync.Once
	done      chan struct{}
}

// NewSession builds a session in the Connecting state. It fails if the
// default windowing geometry is invalid; a connection is never admitted with
// a configuration its buffer would reject.
func NewSession(cfg SessionConfig) (*Session, error) {
	buf, err := audio.NewWindowBuffer(audio.WindowConfig{
		SampleRate:      cfg.Buffer.SampleRate,
		ChunkDuration:   cfg.Buffer.ChunkDuration,
		OverlapDuration: cfg.Buffer.OverlapDuration,
		MinDuration:     cfg.Buffer.MinDuration,
	})
	if err != nil {
		return nil, fmt.Errorf("server: session buffer: %w", err)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	var limiter *rate.Limiter
	if cfg.MessageRate > 0 {
		burst := cfg.MessageBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.MessageRate), burst)
	}

	s := &Session{
		conn:            cfg.Conn,
		registry:        cfg.Registry,
		invoker:         cfg.Invoker,
		metrics:         cfg.Metrics,
		backend:         cfg.Backend,
		clock:           clock,
		limiter:         limiter,
		buffer:          buf,
		chunkDuration:   cfg.Buffer.ChunkDuration,
		overlapDuration: cfg.Buffer.OverlapDuration,
		createdAt:       clock(),
		done:            make(chan struct{}),
	}
	s.clientID.Store("")
	s.state.Store(int32(StateConnecting))
	return s, nil
}

// ClientID returns the connection identity, or "" before connect.
func (s *Session) ClientID() string {
	id, _ := s.clientID.Load().(string)
	return id
}

// State returns the current lifecycle phase.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Detections returns the number of completed classifications so far.
func (s *Session) Detections() uint64 {
	return s.detections.Load()
}

// Done is closed when the session has fully torn down.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// ConnectionStats is the per-session entry in the /stats HTTP snapshot. It
// carries only counters that are safe to read outside the session goroutine;
// buffer occupancy is reported over the wire protocol instead.
type ConnectionStats struct {
	ConnectedAt     float64 `json:"connected_at"`
	State           string  `json:"state"`
	TotalMessages   uint64  `json:"total_messages"`
	TotalDetections uint64  `json:"total_detections"`
}

// ConnectionStats returns the session's entry for the HTTP stats snapshot.
func (s *Session) ConnectionStats() ConnectionStats {
	return ConnectionStats{
		ConnectedAt:     unixSeconds(s.createdAt),
		State:           s.State().String(),
		TotalMessages:   s.messages.Load(),
		TotalDetections: s.detections.Load(),
	}
}

// Run drives the session until the transport closes or ctx is cancelled.
// Teardown is reachable from every exit path exactly once.
func (s *Session) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	defer s.Close(StatusNormalClosure, "")

	for {
		data, err := s.conn.Read(ctx)
		if err != nil {
			if s.State() == StateConnecting || s.State() == StateActive {
				observe.Logger(ctx).Debug("session transport closed",
					"client_id", s.ClientID(), "err", err)
			}
			return
		}
		if !s.handleMessage(ctx, data) {
			return
		}
	}
}

// handleMessage dispatches one inbound message. It returns false when the
// session should stop reading.
func (s *Session) handleMessage(ctx context.Context, data []byte) bool {
	s.messages.Add(1)

	msg, err := ParseInbound(data)
	if err != nil {
		s.recordViolation(ctx, "malformed_message")
		s.sendError(ctx, "invalid message: not a JSON object with a type field")
		return true
	}
	s.metrics.RecordMessage(ctx, msg.Type)

	if s.limiter != nil && !s.limiter.Allow() {
		s.recordViolation(ctx, "rate_limited")
		s.sendError(ctx, "message rate limit exceeded")
		return true
	}

	if s.State() == StateConnecting {
		if msg.Type != TypeConnect {
			s.recordViolation(ctx, "message_before_connect")
			s.sendError(ctx, "not connected: send a connect message first")
			return true
		}
		return s.handleConnect(ctx, msg)
	}

	switch msg.Type {
	case TypeConnect:
		s.recordViolation(ctx, "duplicate_connect")
		s.sendError(ctx, "already connected")
	case TypeAudioChunk:
		s.handleAudioChunk(ctx, msg)
	case TypeConfig:
		s.handleConfig(ctx, msg)
	case TypePing:
		s.send(ctx, PongMessage{Type: TypePong, Timestamp: s.now()})
	case TypeStats:
		s.handleStats(ctx)
	default:
		s.recordViolation(ctx, "unknown_type")
		s.sendError(ctx, fmt.Sprintf("unknown message type %q", msg.Type))
	}
	return true
}

// handleConnect claims the identity and moves the session to Active. A
// duplicate identity under the reject policy terminates the connection
// attempt.
func (s *Session) handleConnect(ctx context.Context, msg InboundMessage) bool {
	id := msg.ClientID
	if id == "" {
		id = uuid.NewString()
	}
	s.clientID.Store(id)

	evicted, err := s.registry.Register(s)
	if err != nil {
		observe.Logger(ctx).Info("connection rejected", "client_id", id, "reason", "duplicate")
		s.sendError(ctx, fmt.Sprintf("client_id %q is already connected", id))
		s.Close(StatusPolicyViolation, "duplicate connection")
		return false
	}
	if evicted != nil {
		observe.Logger(ctx).Info("evicting previous session", "client_id", id)
		evicted.Close(StatusPolicyViolation, "superseded by a new connection")
	}

	s.registered.Store(true)
	s.state.Store(int32(StateActive))
	s.metrics.ActiveConnections.Add(ctx, 1)

	observe.Logger(ctx).Info("client connected", "client_id", id)
	s.send(ctx, ConnectedMessage{Type: TypeConnected, ClientID: id, Timestamp: s.now()})
	return true
}

// handleAudioChunk decodes the payload, feeds the buffer, and classifies
// every completed window in arrival order. All failures are non-fatal.
func (s *Session) handleAudioChunk(ctx context.Context, msg InboundMessage) {
	enc := audio.Encoding(msg.Encoding)
	samples, err := audio.DecodeSamples(msg.AudioData, enc)
	if err != nil {
		s.metrics.RecordDecodeError(ctx, decodeReason(err))
		s.sendError(ctx, "audio decode failed: "+err.Error())
		return
	}

	declared := msg.SampleRate
	if declared == 0 {
		declared = s.buffer.SampleRate()
	}
	if s.committedRate != 0 && declared != s.committedRate {
		s.metrics.RecordDecodeError(ctx, "sample_rate_mismatch")
		s.sendError(ctx, fmt.Sprintf("%v: connection is committed to %d Hz, got %d Hz",
			audio.ErrSampleRateMismatch, s.committedRate, declared))
		return
	}

	if err := audio.ValidateSamples(samples, declared); err != nil {
		s.metrics.RecordDecodeError(ctx, "invalid_samples")
		s.sendError(ctx, "audio validation failed: "+err.Error())
		return
	}

	if s.committedRate == 0 {
		if declared != s.buffer.SampleRate() {
			if err := s.buffer.Reconfigure(declared, s.chunkDuration, s.overlapDuration); err != nil {
				s.sendError(ctx, "cannot apply sample rate: "+err.Error())
				return
			}
		}
		s.committedRate = declared
	}

	for _, window := range s.buffer.Feed(samples) {
		s.metrics.WindowsEmitted.Add(ctx, 1)
		s.detectAndReply(ctx, window, declared)
	}
}

// detectAndReply runs one classification and sends its result or error. At
// most one detection is in flight per connection because this is called from
// the single Run goroutine.
func (s *Session) detectAndReply(ctx context.Context, window []float32, sampleRate int) {
	res, err := s.invoker.Detect(ctx, s.ClientID(), window, sampleRate)
	if err != nil {
		s.metrics.RecordDetection(ctx, s.backend, "", "error", 0)
		s.sendError(ctx, "detection failed: "+err.Error())
		return
	}

	s.detections.Add(1)
	s.metrics.RecordDetection(ctx, s.backend, res.Label, "ok", res.Elapsed.Seconds())

	s.send(ctx, DetectionResultMessage{
		Type: TypeDetectionResult,
		Result: ResultPayload{
			Label:     res.Label,
			Score:     res.Score,
			IsSpoof:   res.IsSpoof,
			AllScores: res.AllScores,
			Logits:    res.Logits,
		},
		Timestamp:        s.now(),
		ProcessingTimeMS: float64(res.Elapsed) / float64(time.Millisecond),
	})
}

// handleConfig applies a windowing reconfiguration. Updates are silent on
// success; an invalid geometry is reported and the previous one kept.
func (s *Session) handleConfig(ctx context.Context, msg InboundMessage) {
	newRate := s.buffer.SampleRate()
	if msg.SampleRate > 0 {
		newRate = msg.SampleRate
	}
	newChunk := s.chunkDuration
	if msg.ChunkDuration != nil {
		newChunk = secondsToDuration(*msg.ChunkDuration)
	}
	newOverlap := s.overlapDuration
	if msg.OverlapDuration != nil {
		newOverlap = secondsToDuration(*msg.OverlapDuration)
	}

	if err := s.buffer.Reconfigure(newRate, newChunk, newOverlap); err != nil {
		s.sendError(ctx, "config rejected: "+err.Error())
		return
	}

	s.chunkDuration = newChunk
	s.overlapDuration = newOverlap
	if msg.SampleRate > 0 {
		// An explicit config re-establishes the committed rate.
		s.committedRate = msg.SampleRate
	}

	observe.Logger(ctx).Debug("session reconfigured",
		"client_id", s.ClientID(),
		"sample_rate", newRate,
		"chunk_duration", newChunk,
		"overlap_duration", newOverlap,
	)
}

// handleStats answers synchronously from session counters without touching
// the buffer's pending samples.
func (s *Session) handleStats(ctx context.Context) {
	s.send(ctx, StatsMessage{
		Type: TypeStats,
		Stats: StatsPayload{
			ConnectedAt:     unixSeconds(s.createdAt),
			TotalMessages:   s.messages.Load(),
			TotalDetections: s.detections.Load(),
			BufferSize:      s.buffer.Len(),
			BufferDuration:  s.buffer.Duration().Seconds(),
		},
		Timestamp: s.now(),
	})
}

// Close tears the session down: cancel any in-flight detection, release the
// registry entry, close the transport. Idempotent; the second and later
// calls are no-ops.
func (s *Session) Close(code StatusCode, reason string) {
	s.closeOnce.Do(func() {
		s.state.Store(int32(StateClosing))

		s.mu.Lock()
		cancel := s.cancel
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}

		if s.registered.Load() {
			s.registry.Release(s)
			s.metrics.ActiveConnections.Add(context.Background(), -1)
		}

		_ = s.conn.Close(code, reason)
		s.state.Store(int32(StateClosed))
		close(s.done)

		slog.Info("session closed",
			"client_id", s.ClientID(),
			"messages", s.messages.Load(),
			"detections", s.detections.Load(),
		)
	})
}

// send serializes and writes one outbound message. Write failures are logged
// only; the read loop will observe the broken transport next iteration.
func (s *Session) send(ctx context.Context, msg any) {
	data, err := encodeMessage(msg)
	if err != nil {
		observe.Logger(ctx).Error("encode outbound message", "client_id", s.ClientID(), "err", err)
		return
	}
	if err := s.conn.Write(ctx, data); err != nil {
		observe.Logger(ctx).Debug("write failed", "client_id", s.ClientID(), "err", err)
	}
}

// sendError emits the structured non-fatal error notice.
func (s *Session) sendError(ctx context.Context, message string) {
	s.send(ctx, ErrorMessage{Type: TypeError, Message: message, Timestamp: s.now()})
}

func (s *Session) recordViolation(ctx context.Context, reason string) {
	s.violations.Add(1)
	s.metrics.RecordProtocolViolation(ctx, reason)
}

func (s *Session) now() float64 {
	return unixSeconds(s.clock())
}

// decodeReason maps decoder sentinels onto stable metric label values.
func decodeReason(err error) string {
	switch {
	case errors.Is(err, audio.ErrUnsupportedEncoding):
		return "unsupported_encoding"
	case errors.Is(err, audio.ErrMalformedPayload):
		return "malformed_payload"
	default:
		return "other"
	}
}

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}
