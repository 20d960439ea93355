package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/correctify/internal/catalog"
	"github.com/MrWong99/correctify/internal/prompt"
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr  = ":8787"
	DefaultSQLitePath  = "correctify.db"
	DefaultBridgePath  = "/bridge"
	DefaultMCPPath     = "/mcp"
	DefaultMetricsPath = "/metrics"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
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

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. An empty document yields the default config.
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

// ApplyDefaults fills unset fields that have a non-zero default.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = StorageMemory
	}
	if cfg.Storage.Driver == StorageSQLite && cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = DefaultSQLitePath
	}
	if cfg.Hotkey.Path == "" {
		cfg.Hotkey.Path = DefaultBridgePath
	}
	if cfg.MCP.Path == "" {
		cfg.MCP.Path = DefaultMCPPath
	}
	if cfg.Telemetry.MetricsPath == "" {
		cfg.Telemetry.MetricsPath = DefaultMetricsPath
	}
	if cfg.HTTP.RateLimit > 0 && cfg.HTTP.Burst <= 0 {
		cfg.HTTP.Burst = 1
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Providers
	for _, p := range catalog.Providers() {
		e := cfg.Providers.Entry(p)
		prefix := "providers." + string(p)
		if e.BaseURL != "" {
			if u, err := url.Parse(e.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
				errs = append(errs, fmt.Errorf("%s.base_url %q is not an absolute URL", prefix, e.BaseURL))
			}
		}
		if e.Timeout < 0 {
			errs = append(errs, fmt.Errorf("%s.timeout must not be negative", prefix))
		}
		if e.APIKey != "" && strings.TrimSpace(e.APIKey) != e.APIKey {
			slog.Warn("provider api_key has surrounding whitespace; it will be trimmed on use", "provider", p)
		}
	}
	if len(cfg.Providers.Keys()) == 0 {
		slog.Warn("no provider api_key configured; keys must come from the environment or the key API")
	}

	// Storage
	switch {
	case cfg.Storage.Driver != "" && !cfg.Storage.Driver.IsValid():
		errs = append(errs, fmt.Errorf("storage.driver %q is invalid; valid values: memory, sqlite, postgres", cfg.Storage.Driver))
	case cfg.Storage.Driver == StorageSQLite && cfg.Storage.SQLitePath == "":
		errs = append(errs, errors.New("storage.sqlite_path is required when driver is sqlite"))
	case cfg.Storage.Driver == StoragePostgres && cfg.Storage.PostgresDSN == "":
		errs = append(errs, errors.New("storage.postgres_dsn is required when driver is postgres"))
	}
	if cfg.Storage.MaxEntries < 0 {
		errs = append(errs, errors.New("storage.max_entries must not be negative"))
	}
	if cfg.Storage.Driver == StorageMemory || cfg.Storage.Driver == "" {
		slog.Info("storage.driver is memory; usage history and settings are lost on restart")
	}

	// Hotkey
	if cfg.Hotkey.AckTimeout < 0 {
		errs = append(errs, errors.New("hotkey.ack_timeout must not be negative"))
	}
	if cfg.Hotkey.Path != "" && !strings.HasPrefix(cfg.Hotkey.Path, "/") {
		errs = append(errs, fmt.Errorf("hotkey.path %q must start with /", cfg.Hotkey.Path))
	}

	// HTTP
	if cfg.HTTP.RateLimit < 0 {
		errs = append(errs, errors.New("http.rate_limit must not be negative"))
	}
	if cfg.HTTP.Burst < 0 {
		errs = append(errs, errors.New("http.burst must not be negative"))
	}
	if _, err := cfg.HTTP.TrustedPrefixes(); err != nil {
		errs = append(errs, err)
	}

	// MCP
	if cfg.MCP.Path != "" && !strings.HasPrefix(cfg.MCP.Path, "/") {
		errs = append(errs, fmt.Errorf("mcp.path %q must start with /", cfg.MCP.Path))
	}

	// Resilience
	if cfg.Resilience.MaxFailures < 0 {
		errs = append(errs, errors.New("resilience.max_failures must not be negative"))
	}
	if cfg.Resilience.ResetTimeout < 0 {
		errs = append(errs, errors.New("resilience.reset_timeout must not be negative"))
	}

	// Telemetry
	if r := cfg.Telemetry.TraceSampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("telemetry.trace_sample_ratio %.2f is out of range [0, 1]", r))
	}

	// Defaults
	errs = append(errs, validateDefaults(cfg.Defaults)...)

	return errors.Join(errs...)
}

func validateDefaults(d DefaultsConfig) []error {
	var errs []error
	if d.ModelID != "" {
		if _, ok := catalog.ByID(d.ModelID); !ok {
			msg := fmt.Sprintf("defaults.model_id %q is not a known model", d.ModelID)
			if hint, ok := catalog.Suggest(d.ModelID); ok {
				msg += fmt.Sprintf(" (did you mean %q?)", hint)
			}
			errs = append(errs, errors.New(msg))
		}
	}
	if d.WritingStyle != "" && !prompt.Style(d.WritingStyle).Valid() {
		errs = append(errs, fmt.Errorf("defaults.writing_style %q is invalid; valid values: grammar, formal, informal, collaborative, concise", d.WritingStyle))
	}
	return errs
}
