package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidBackendNames lists the detector backend names that ship with the
// server. Used by [Validate] to warn about unrecognised names before the
// registry lookup fails at startup.
var ValidBackendNames = []string{"arena", "mock"}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if !cfg.Server.DuplicatePolicy.IsValid() {
		errs = append(errs, fmt.Errorf("server.duplicate_policy %q is invalid; valid values: reject, evict", cfg.Server.DuplicatePolicy))
	}
	if cfg.Server.MessageRate < 0 {
		errs = append(errs, fmt.Errorf("server.message_rate %.2f must not be negative", cfg.Server.MessageRate))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Buffer geometry: overlap must be strictly shorter than the chunk or
	// windows would never advance.
	if cfg.Buffer.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("buffer.sample_rate %d must be positive", cfg.Buffer.SampleRate))
	}
	if cfg.Buffer.ChunkDuration <= 0 {
		errs = append(errs, fmt.Errorf("buffer.chunk_duration %v must be positive", cfg.Buffer.ChunkDuration))
	}
	if cfg.Buffer.OverlapDuration < 0 {
		errs = append(errs, fmt.Errorf("buffer.overlap_duration %v must not be negative", cfg.Buffer.OverlapDuration))
	}
	if cfg.Buffer.ChunkDuration > 0 && cfg.Buffer.OverlapDuration >= cfg.Buffer.ChunkDuration {
		errs = append(errs, fmt.Errorf("buffer.overlap_duration %v must be shorter than buffer.chunk_duration %v",
			cfg.Buffer.OverlapDuration, cfg.Buffer.ChunkDuration))
	}
	if cfg.Buffer.MinDuration < cfg.Buffer.ChunkDuration {
		slog.Warn("buffer.min_duration is shorter than buffer.chunk_duration; it has no effect once the first full chunk arrives",
			"min_duration", cfg.Buffer.MinDuration,
			"chunk_duration", cfg.Buffer.ChunkDuration,
		)
	}

	// Detector
	if cfg.Detector.Backend == "" {
		errs = append(errs, errors.New("detector.backend is required"))
	} else {
		validateBackendName(cfg.Detector.Backend)
	}
	for i, fb := range cfg.Detector.Fallbacks {
		if fb.Backend == "" {
			errs = append(errs, fmt.Errorf("detector.fallbacks[%d].backend is required", i))
		} else {
			validateBackendName(fb.Backend)
		}
	}

	return errors.Join(errs...)
}

// validateBackendName logs a warning if name is not found in
// [ValidBackendNames]. Third-party backends registered by embedders are
// legitimate, so this is a warning rather than an error.
func validateBackendName(name string) {
	if slices.Contains(ValidBackendNames, name) {
		return
	}
	slog.Warn("unknown detector backend name, may be a typo or third-party backend",
		"name", name,
		"known", ValidBackendNames,
	)
}
