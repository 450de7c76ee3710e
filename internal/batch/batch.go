// Package batch classifies WAV files offline. It walks a directory tree,
// decodes each .wav file, and runs the audio through the same windowing and
// detection pipeline the streaming server uses, logging one result line per
// window.
package batch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/wav"

	"github.com/veriwave/veriwave/internal/config"
	"github.com/veriwave/veriwave/pkg/audio"
	"github.com/veriwave/veriwave/pkg/detect"
)

// ErrNotWAV is returned by [Processor.ProcessFile] when the file does not
// parse as a RIFF/WAVE container.
var ErrNotWAV = errors.New("batch: not a valid wav file")

// Processor runs files through the windowing buffer and detector.
type Processor struct {
	invoker *detect.Invoker
	buffer  config.BufferConfig
}

// New creates a [Processor]. Decoded audio is resampled to the configured
// buffer rate so every file is windowed with the same geometry the streaming
// server would apply.
func New(invoker *detect.Invoker, buffer config.BufferConfig) *Processor {
	return &Processor{invoker: invoker, buffer: buffer}
}

// FileReport summarises one processed file.
type FileReport struct {
	Path         string
	SampleRate   int
	Channels     int
	Samples      int
	Windows      int
	SpoofWindows int
}

// Summary aggregates a directory run.
type Summary struct {
	Files        int
	Failed       int
	Windows      int
	SpoofWindows int
}

// ProcessDirectory walks dir and classifies every .wav file found. A file
// that fails to decode is logged and counted but does not abort the run;
// the walk itself stops only on ctx cancellation or a filesystem error.
func (p *Processor) ProcessDirectory(ctx context.Context, dir string) (Summary, error) {
	var sum Summary

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".wav") {
			return nil
		}

		report, err := p.ProcessFile(ctx, path)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			slog.Warn("file skipped", "path", path, "err", err)
			sum.Failed++
			return nil
		}

		sum.Files++
		sum.Windows += report.Windows
		sum.SpoofWindows += report.SpoofWindows
		return nil
	})
	if err != nil {
		return sum, fmt.Errorf("batch: walk %s: %w", dir, err)
	}

	slog.Info("batch run complete",
		"dir", dir,
		"files", sum.Files,
		"failed", sum.Failed,
		"windows", sum.Windows,
		"spoof_windows", sum.SpoofWindows,
	)
	return sum, nil
}

// ProcessFile decodes one WAV file, downmixes it to mono, resamples it to
// the buffer rate, and classifies every completed window.
func (p *Processor) ProcessFile(ctx context.Context, path string) (FileReport, error) {
	f, err := os.Open(path)
	if err != nil {
		return FileReport{}, fmt.Errorf("batch: open: %w", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return FileReport{}, fmt.Errorf("%w: %s", ErrNotWAV, path)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return FileReport{}, fmt.Errorf("batch: decode %s: %w", path, err)
	}

	bitDepth := buf.SourceBitDepth
	if bitDepth == 0 {
		bitDepth = int(dec.BitDepth)
	}

	mono := audio.DownmixMono(buf.Data, buf.Format.NumChannels)
	samples := audio.IntToFloat32(mono, bitDepth)
	samples = audio.ResampleMono(samples, buf.Format.SampleRate, p.buffer.SampleRate)

	report := FileReport{
		Path:       path,
		SampleRate: buf.Format.SampleRate,
		Channels:   buf.Format.NumChannels,
		Samples:    len(samples),
	}

	wb, err := audio.NewWindowBuffer(audio.WindowConfig{
		SampleRate:      p.buffer.SampleRate,
		ChunkDuration:   p.buffer.ChunkDuration,
		OverlapDuration: p.buffer.OverlapDuration,
		MinDuration:     p.buffer.MinDuration,
	})
	if err != nil {
		return report, fmt.Errorf("batch: window buffer: %w", err)
	}

	name := filepath.Base(path)
	for _, window := range wb.Feed(samples) {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		if err := audio.ValidateSamples(window, p.buffer.SampleRate); err != nil {
			return report, fmt.Errorf("batch: %s: %w", path, err)
		}

		res, err := p.invoker.Detect(ctx, name, window, p.buffer.SampleRate)
		if err != nil {
			return report, fmt.Errorf("batch: %s window %d: %w", path, report.Windows, err)
		}

		report.Windows++
		if res.IsSpoof {
			report.SpoofWindows++
		}
		slog.Info("window classified",
			"file", name,
			"window", report.Windows,
			"label", res.Label,
			"score", res.Score,
			"spoof", res.IsSpoof,
			"elapsed", res.Elapsed,
		)
	}

	if report.Windows == 0 {
		slog.Info("file shorter than one window", "file", name, "samples", len(samples))
	}
	return report, nil
}
