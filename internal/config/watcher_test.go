package config_test

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/veriwave/veriwave/internal/config"
)

const watcherBaseYAML = `
server:
  log_level: info
detector:
  backend: mock
`

const watcherDebugYAML = `
server:
  log_level: debug
detector:
  backend: mock
`

const watcherBrokenYAML = `
server:
  log_level: shouting
detector:
  backend: mock
`

// writeConfigFile writes content and fails the test on error.
func writeConfigFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// startWatcher creates a fast-polling watcher over a fresh config file and
// returns it with the file path.
func startWatcher(t *testing.T, onChange func(old, new *config.Config)) (*config.Watcher, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfigFile(t, path, watcherBaseYAML)

	w, err := config.NewWatcher(path, onChange, config.WithInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(w.Stop)
	return w, path
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	w, _ := startWatcher(t, nil)

	cfg := w.Current()
	if cfg == nil {
		t.Fatal("Current returned nil after the initial load")
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level = %q, want %q", cfg.Server.LogLevel, config.LogInfo)
	}
}

func TestWatcher_ReloadsOnContentChange(t *testing.T) {
	t.Parallel()

	type pair struct{ old, new *config.Config }
	changes := make(chan pair, 1)
	w, path := startWatcher(t, func(old, new *config.Config) {
		select {
		case changes <- pair{old, new}:
		default:
		}
	})

	time.Sleep(100 * time.Millisecond)
	writeConfigFile(t, path, watcherDebugYAML)

	var got pair
	select {
	case got = <-changes:
	case <-time.After(2 * time.Second):
		t.Fatal("change callback did not fire")
	}

	if got.old.Server.LogLevel != config.LogInfo {
		t.Errorf("old log_level = %q, want %q", got.old.Server.LogLevel, config.LogInfo)
	}
	if got.new.Server.LogLevel != config.LogDebug {
		t.Errorf("new log_level = %q, want %q", got.new.Server.LogLevel, config.LogDebug)
	}
	if cur := w.Current(); cur.Server.LogLevel != config.LogDebug {
		t.Errorf("Current log_level = %q, want %q", cur.Server.LogLevel, config.LogDebug)
	}
}

func TestWatcher_InvalidFileKeepsPrevious(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	w, path := startWatcher(t, func(old, new *config.Config) {
		calls.Add(1)
	})

	time.Sleep(100 * time.Millisecond)
	writeConfigFile(t, path, watcherBrokenYAML)
	time.Sleep(300 * time.Millisecond)

	if n := calls.Load(); n != 0 {
		t.Errorf("callback fired %d times for an invalid file, want 0", n)
	}
	if cur := w.Current(); cur.Server.LogLevel != config.LogInfo {
		t.Errorf("Current log_level = %q, want the previous %q", cur.Server.LogLevel, config.LogInfo)
	}
}

func TestWatcher_TouchWithoutContentChange(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	_, path := startWatcher(t, func(old, new *config.Config) {
		calls.Add(1)
	})

	time.Sleep(100 * time.Millisecond)
	later := time.Now().Add(time.Second)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatalf("touch: %v", err)
	}
	time.Sleep(300 * time.Millisecond)

	if n := calls.Load(); n != 0 {
		t.Errorf("callback fired %d times for a touch-only mtime bump, want 0", n)
	}
}

func TestWatcher_MissingFileFailsConstruction(t *testing.T) {
	t.Parallel()
	if _, err := config.NewWatcher(filepath.Join(t.TempDir(), "nope.yaml"), nil); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	t.Parallel()
	w, _ := startWatcher(t, nil)

	w.Stop()
	w.Stop()
}
