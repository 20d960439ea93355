package config

import (
	"slices"

	"github.com/MrWong99/correctify/internal/catalog"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; everything else
// requires a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// KeyChanges lists providers whose configured api_key changed.
	KeyChanges []KeyChange

	// RestartRequired names sections that changed but are only read at
	// start-up.
	RestartRequired []string
}

// KeyChange describes one provider's api_key transition.
type KeyChange struct {
	Provider catalog.ProviderID
	// NewKey is empty when the key was removed from the config.
	NewKey string
}

// Changed reports whether d carries anything to apply or report.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || len(d.KeyChanges) > 0 || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	for _, p := range catalog.Providers() {
		o, n := old.Providers.Entry(p), new.Providers.Entry(p)
		if o.APIKey != n.APIKey {
			d.KeyChanges = append(d.KeyChanges, KeyChange{Provider: p, NewKey: n.APIKey})
		}
		if o.BaseURL != n.BaseURL || o.Timeout != n.Timeout {
			d.RestartRequired = append(d.RestartRequired, "providers."+string(p))
		}
	}

	if old.Server.ListenAddr != new.Server.ListenAddr || !tlsEqual(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if old.Storage != new.Storage {
		d.RestartRequired = append(d.RestartRequired, "storage")
	}
	if !hotkeyEqual(old.Hotkey, new.Hotkey) {
		d.RestartRequired = append(d.RestartRequired, "hotkey")
	}
	if old.HTTP != new.HTTP {
		d.RestartRequired = append(d.RestartRequired, "http")
	}
	if old.MCP != new.MCP {
		d.RestartRequired = append(d.RestartRequired, "mcp")
	}
	if old.Resilience != new.Resilience {
		d.RestartRequired = append(d.RestartRequired, "resilience")
	}
	if old.Telemetry != new.Telemetry {
		d.RestartRequired = append(d.RestartRequired, "telemetry")
	}
	return d
}

func tlsEqual(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func hotkeyEqual(a, b HotkeyConfig) bool {
	return a.Enabled == b.Enabled &&
		a.Path == b.Path &&
		a.Dedupe == b.Dedupe &&
		a.AckTimeout == b.AckTimeout &&
		slices.Equal(a.OriginPatterns, b.OriginPatterns)
}
