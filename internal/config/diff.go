package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// BufferChanged means the default window geometry changed. It applies
	// to new connections only; established sessions keep the geometry
	// they negotiated.
	BufferChanged bool
	NewBuffer     BufferConfig

	// RateLimitChanged means the per-connection message rate or burst
	// changed. Applies to new connections only.
	RateLimitChanged bool
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Buffer != new.Buffer {
		d.BufferChanged = true
		d.NewBuffer = new.Buffer
	}

	if old.Server.MessageRate != new.Server.MessageRate ||
		old.Server.MessageBurst != new.Server.MessageBurst {
		d.RateLimitChanged = true
	}

	return d
}
