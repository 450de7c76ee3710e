// Package config provides the configuration schema, loader, and detector
// backend registry for the VeriWave detection server.
package config

import "time"

// LogLevel controls log verbosity for the VeriWave server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// DuplicatePolicy decides what happens when a client connects with an
// identity that is already registered.
type DuplicatePolicy string

const (
	// DuplicateReject refuses the new connection and leaves the existing
	// session untouched (first-registrant-wins). This is the default.
	DuplicateReject DuplicatePolicy = "reject"

	// DuplicateEvict closes the existing session and registers the new one in
	// its place (last-writer-wins).
	DuplicateEvict DuplicatePolicy = "evict"
)

// IsValid reports whether p is a recognised duplicate policy.
func (p DuplicatePolicy) IsValid() bool {
	return p == DuplicateReject || p == DuplicateEvict
}

// Config is the root configuration structure for VeriWave.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Buffer   BufferConfig   `yaml:"buffer"`
	Detector DetectorConfig `yaml:"detector"`
}

// ServerConfig holds network, logging, and admission settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8765").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`

	// DuplicatePolicy decides how a second connect with an already-registered
	// client identity is handled. Defaults to "reject".
	DuplicatePolicy DuplicatePolicy `yaml:"duplicate_policy"`

	// MessageRate caps inbound messages per second per connection. Zero means
	// unlimited. Messages over the cap are answered with an error reply, never
	// silently dropped.
	MessageRate float64 `yaml:"message_rate"`

	// MessageBurst is the burst allowance for MessageRate. Defaults to 10
	// when MessageRate is set.
	MessageBurst int `yaml:"message_burst"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// BufferConfig holds the default windowing geometry applied to each new
// connection. Clients may override the sample rate and durations per
// connection through the wire protocol's config message.
type BufferConfig struct {
	// SampleRate is the default audio sample rate in Hz.
	SampleRate int `yaml:"sample_rate"`

	// ChunkDuration is the length of each analysis window.
	ChunkDuration time.Duration `yaml:"chunk_duration"`

	// OverlapDuration is the span shared between consecutive windows.
	// Must be strictly shorter than ChunkDuration.
	OverlapDuration time.Duration `yaml:"overlap_duration"`

	// MinDuration is the minimum audio accumulated before the first window is
	// emitted for a connection.
	MinDuration time.Duration `yaml:"min_duration"`
}

// DetectorConfig selects and tunes the classification backend.
type DetectorConfig struct {
	// Backend selects the registered backend implementation (e.g., "arena").
	Backend string `yaml:"backend"`

	// BaseURL is the backend endpoint address (e.g., "http://localhost:9090").
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the backend.
	Model string `yaml:"model"`

	// Timeout is the per-request timeout for backend calls.
	Timeout time.Duration `yaml:"timeout"`

	// Fallbacks lists additional backends tried in order when the primary
	// fails or its circuit breaker is open. May be empty.
	Fallbacks []DetectorEntry `yaml:"fallbacks"`

	// Breaker tunes the circuit breaker wrapped around each backend.
	Breaker BreakerConfig `yaml:"breaker"`
}

// DetectorEntry describes one fallback backend.
type DetectorEntry struct {
	// Backend selects the registered backend implementation.
	Backend string `yaml:"backend"`

	// BaseURL is the backend endpoint address.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the backend.
	Model string `yaml:"model"`

	// Timeout is the per-request timeout for backend calls.
	Timeout time.Duration `yaml:"timeout"`
}

// BreakerConfig holds circuit breaker tuning knobs. Zero values select the
// resilience package defaults.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures before the breaker
	// opens.
	MaxFailures int `yaml:"max_failures"`

	// ResetTimeout is how long the breaker stays open before probing again.
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// Defaults applied by [ApplyDefaults] when the corresponding fields are zero.
const (
	DefaultListenAddr      = ":8765"
	DefaultSampleRate      = 16000
	DefaultChunkDuration   = time.Second
	DefaultOverlapDuration = 500 * time.Millisecond
	DefaultMinDuration     = time.Second
	DefaultMessageBurst    = 10
)

// ApplyDefaults fills zero-valued fields with the documented defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.DuplicatePolicy == "" {
		cfg.Server.DuplicatePolicy = DuplicateReject
	}
	if cfg.Server.MessageRate > 0 && cfg.Server.MessageBurst <= 0 {
		cfg.Server.MessageBurst = DefaultMessageBurst
	}
	if cfg.Buffer.SampleRate == 0 {
		cfg.Buffer.SampleRate = DefaultSampleRate
	}
	if cfg.Buffer.ChunkDuration == 0 {
		cfg.Buffer.ChunkDuration = DefaultChunkDuration
	}
	if cfg.Buffer.OverlapDuration == 0 {
		cfg.Buffer.OverlapDuration = DefaultOverlapDuration
	}
	if cfg.Buffer.MinDuration == 0 {
		cfg.Buffer.MinDuration = DefaultMinDuration
	}
}
