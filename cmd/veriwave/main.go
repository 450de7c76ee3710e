// Command veriwave runs the audio deepfake detection server. It serves a
// WebSocket endpoint for streaming classification plus health, stats, and
// Prometheus metrics over HTTP. With -dir it instead classifies a directory
// of WAV files and exits.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/veriwave/veriwave/internal/batch"
	"github.com/veriwave/veriwave/internal/config"
	"github.com/veriwave/veriwave/internal/observe"
	"github.com/veriwave/veriwave/internal/resilience"
	"github.com/veriwave/veriwave/internal/server"
	"github.com/veriwave/veriwave/pkg/detect"
	"github.com/veriwave/veriwave/pkg/detect/arena"
	"github.com/veriwave/veriwave/pkg/detect/mock"
)

// version is stamped by the build; "dev" for local builds.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	batchDir := flag.String("dir", "", "classify all .wav files under this directory and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "veriwave: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "veriwave: %v\n", err)
		}
		return 1
	}

	logLevel := &slog.LevelVar{}
	logLevel.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	slog.Info("veriwave starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := config.NewRegistry()
	registerBuiltinBackends(reg)

	detector, err := buildDetector(cfg, reg)
	if err != nil {
		slog.Error("failed to build detector", "err", err)
		return 1
	}

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "veriwave",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	if *batchDir != "" {
		return runBatch(ctx, cfg, detector, *batchDir)
	}

	srv := server.New(cfg, detector, observe.DefaultMetrics())

	// Log level changes apply to the running process; buffer and rate limit
	// changes apply to connections opened after the reload.
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			logLevel.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if d.BufferChanged || d.RateLimitChanged {
			srv.ApplyConfig(new)
			slog.Info("connection settings reloaded",
				"sample_rate", new.Buffer.SampleRate,
				"chunk_duration", new.Buffer.ChunkDuration,
				"message_rate", new.Server.MessageRate,
			)
		}
	})
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	slog.Info("server ready, press Ctrl+C to shut down")
	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	slog.Info("goodbye")
	return 0
}

// runBatch classifies every WAV file under dir with the configured detector.
func runBatch(ctx context.Context, cfg *config.Config, detector detect.Detector, dir string) int {
	p := batch.New(detect.NewInvoker(detector), cfg.Buffer)
	sum, err := p.ProcessDirectory(ctx, dir)
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("batch run failed", "err", err)
		return 1
	}
	fmt.Printf("processed %d files (%d failed): %d windows, %d flagged as spoof\n",
		sum.Files, sum.Failed, sum.Windows, sum.SpoofWindows)
	return 0
}

// registerBuiltinBackends wires the detector backends that ship with the
// server into reg.
func registerBuiltinBackends(reg *config.Registry) {
	reg.Register("arena", func(entry config.DetectorEntry) (detect.Detector, error) {
		var opts []arena.Option
		if entry.Model != "" {
			opts = append(opts, arena.WithModel(entry.Model))
		}
		if entry.Timeout > 0 {
			opts = append(opts, arena.WithTimeout(entry.Timeout))
		}
		return arena.New(entry.BaseURL, opts...)
	})

	// A backend that accepts everything as genuine. Useful for wiring tests
	// and load checks without a model server.
	reg.Register("mock", func(config.DetectorEntry) (detect.Detector, error) {
		return &mock.Detector{
			DetectResult: detect.Result{
				Label:     detect.LabelBonafide,
				Score:     1,
				AllScores: map[string]float64{detect.LabelBonafide: 1, detect.LabelSpoof: 0},
			},
		}, nil
	})
}

// buildDetector instantiates the primary backend and, when fallbacks are
// configured, wraps the chain in circuit breakers.
func buildDetector(cfg *config.Config, reg *config.Registry) (detect.Detector, error) {
	primaryEntry := config.DetectorEntry{
		Backend: cfg.Detector.Backend,
		BaseURL: cfg.Detector.BaseURL,
		Model:   cfg.Detector.Model,
		Timeout: cfg.Detector.Timeout,
	}
	primary, err := reg.Create(primaryEntry)
	if err != nil {
		return nil, fmt.Errorf("create backend %q: %w", cfg.Detector.Backend, err)
	}
	slog.Info("detector backend created", "backend", cfg.Detector.Backend, "model", cfg.Detector.Model)

	if len(cfg.Detector.Fallbacks) == 0 {
		return primary, nil
	}

	group := resilience.NewDetectorFallback(primary, cfg.Detector.Backend, resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  cfg.Detector.Breaker.MaxFailures,
			ResetTimeout: cfg.Detector.Breaker.ResetTimeout,
		},
	})
	for _, entry := range cfg.Detector.Fallbacks {
		d, err := reg.Create(entry)
		if err != nil {
			return nil, fmt.Errorf("create fallback backend %q: %w", entry.Backend, err)
		}
		group.AddFallback(entry.Backend, d)
		slog.Info("fallback backend created", "backend", entry.Backend, "model", entry.Model)
	}
	return group, nil
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
