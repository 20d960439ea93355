package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/correctify/internal/catalog"
	"github.com/MrWong99/correctify/internal/config"
	"github.com/MrWong99/correctify/internal/prompt"
	"github.com/MrWong99/correctify/internal/settings"
)

const fullYAML = `
server:
  listen_addr: "127.0.0.1:9000"
  log_level: debug
providers:
  openai:
    api_key: sk-test
    timeout: 20s
  openrouter:
    api_key: or-test
    base_url: https://openrouter.example.com/api/v1
storage:
  driver: sqlite
  sqlite_path: /tmp/correctify.db
  max_entries: 500
hotkey:
  enabled: true
  dedupe: true
  ack_timeout: 2s
  origin_patterns: ["tauri.localhost"]
http:
  rate_limit: 2.5
  burst: 5
mcp:
  enabled: true
resilience:
  max_failures: 3
  reset_timeout: 1m
telemetry:
  trace_sample_ratio: 0.25
defaults:
  model_id: claude-3-5-haiku-20241022
  writing_style: formal
  sound_enabled: false
`

func TestLoadFromReader_Full(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(fullYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.ListenAddr != "127.0.0.1:9000" || cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Providers.OpenAI.Timeout != 20*time.Second {
		t.Errorf("openai timeout = %v", cfg.Providers.OpenAI.Timeout)
	}
	if cfg.Storage.Driver != config.StorageSQLite || cfg.Storage.MaxEntries != 500 {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if !cfg.Hotkey.Enabled || !cfg.Hotkey.Dedupe || cfg.Hotkey.AckTimeout != 2*time.Second || cfg.Hotkey.Path != config.DefaultBridgePath {
		t.Errorf("hotkey = %+v", cfg.Hotkey)
	}
	if cfg.HTTP.RateLimit != 2.5 || cfg.HTTP.Burst != 5 {
		t.Errorf("http = %+v", cfg.HTTP)
	}
	if !cfg.MCP.Enabled || cfg.MCP.Path != config.DefaultMCPPath {
		t.Errorf("mcp = %+v", cfg.MCP)
	}
	if cfg.Resilience.MaxFailures != 3 || cfg.Resilience.ResetTimeout != time.Minute {
		t.Errorf("resilience = %+v", cfg.Resilience)
	}
	if cfg.Telemetry.TraceSampleRatio != 0.25 || cfg.Telemetry.MetricsPath != config.DefaultMetricsPath {
		t.Errorf("telemetry = %+v", cfg.Telemetry)
	}
}

func TestLoadFromReader_EmptyUsesDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.ListenAddr != config.DefaultListenAddr {
		t.Errorf("listen_addr = %q", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level = %q", cfg.Server.LogLevel)
	}
	if cfg.Storage.Driver != config.StorageMemory {
		t.Errorf("driver = %q", cfg.Storage.Driver)
	}
}

func TestLoadFromReader_SQLitePathDefault(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader("storage:\n  driver: sqlite\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Storage.SQLitePath != config.DefaultSQLitePath {
		t.Errorf("sqlite_path = %q", cfg.Storage.SQLitePath)
	}
}

func TestLoadFromReader_BurstDefaultsWithRateLimit(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader("http:\n  rate_limit: 1\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTP.Burst != 1 {
		t.Errorf("burst = %d, want 1", cfg.HTTP.Burst)
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("server:\n  listen_adr: \":80\"\n"))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
	if !strings.Contains(err.Error(), "listen_adr") {
		t.Errorf("error should name the field, got: %v", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{name: "log level", yaml: "server:\n  log_level: verbose\n", wantErr: "server.log_level"},
		{name: "tls incomplete", yaml: "server:\n  tls:\n    cert_file: a.pem\n", wantErr: "server.tls"},
		{name: "relative base url", yaml: "providers:\n  mistral:\n    base_url: /v1\n", wantErr: "providers.mistral.base_url"},
		{name: "negative timeout", yaml: "providers:\n  anthropic:\n    timeout: -1s\n", wantErr: "providers.anthropic.timeout"},
		{name: "storage driver", yaml: "storage:\n  driver: redis\n", wantErr: "storage.driver"},
		{name: "postgres dsn", yaml: "storage:\n  driver: postgres\n", wantErr: "storage.postgres_dsn"},
		{name: "max entries", yaml: "storage:\n  max_entries: -5\n", wantErr: "storage.max_entries"},
		{name: "ack timeout", yaml: "hotkey:\n  ack_timeout: -1s\n", wantErr: "hotkey.ack_timeout"},
		{name: "bridge path", yaml: "hotkey:\n  path: bridge\n", wantErr: "hotkey.path"},
		{name: "rate limit", yaml: "http:\n  rate_limit: -1\n", wantErr: "http.rate_limit"},
		{name: "trusted proxy", yaml: "http:\n  trusted_proxies: [\"proxy.local\"]\n", wantErr: "http.trusted_proxies"},
		{name: "mcp path", yaml: "mcp:\n  path: mcp\n", wantErr: "mcp.path"},
		{name: "max failures", yaml: "resilience:\n  max_failures: -1\n", wantErr: "resilience.max_failures"},
		{name: "sample ratio", yaml: "telemetry:\n  trace_sample_ratio: 1.5\n", wantErr: "telemetry.trace_sample_ratio"},
		{name: "writing style", yaml: "defaults:\n  writing_style: pirate\n", wantErr: "defaults.writing_style"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error should contain %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestHTTPConfig_TrustedPrefixes(t *testing.T) {
	t.Parallel()
	h := config.HTTPConfig{TrustedProxies: []string{"127.0.0.1", "10.1.2.3/8", "::1"}}
	got, err := h.TrustedPrefixes()
	if err != nil {
		t.Fatalf("TrustedPrefixes: %v", err)
	}
	want := []string{"127.0.0.1/32", "10.0.0.0/8", "::1/128"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i, p := range got {
		if p.String() != want[i] {
			t.Errorf("prefix %d = %s, want %s", i, p, want[i])
		}
	}
}

func TestValidate_JoinsAllErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
storage:
  driver: redis
http:
  burst: -1
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	for _, want := range []string{"server.log_level", "storage.driver", "http.burst"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should contain %q, got: %v", want, err)
		}
	}
}

func TestValidate_UnknownDefaultModelSuggests(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("defaults:\n  model_id: gpt-4o-mnii\n"))
	if err == nil {
		t.Fatal("expected error for unknown model, got nil")
	}
	if !strings.Contains(err.Error(), `did you mean "gpt-4o-mini"`) {
		t.Errorf("error should suggest gpt-4o-mini, got: %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

func TestLoad_File(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "correctify.yaml")
	if err := os.WriteFile(path, []byte(fullYAML), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Providers.OpenRouter.APIKey != "or-test" {
		t.Errorf("openrouter api_key = %q", cfg.Providers.OpenRouter.APIKey)
	}
}

func TestProvidersConfig_KeysAndOptions(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(fullYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	keys := cfg.Providers.Keys()
	want := map[string]string{"openai-api-key": "sk-test", "openrouter-api-key": "or-test"}
	if len(keys) != len(want) {
		t.Fatalf("keys = %v, want %v", keys, want)
	}
	for k, v := range want {
		if keys[k] != v {
			t.Errorf("keys[%q] = %q, want %q", k, keys[k], v)
		}
	}

	opts := cfg.Providers.GatewayOptions()
	if len(opts) != len(catalog.Providers()) {
		t.Errorf("options for %d providers, want %d", len(opts), len(catalog.Providers()))
	}
	if opts[catalog.OpenAI].Timeout != 20*time.Second {
		t.Errorf("openai timeout = %v", opts[catalog.OpenAI].Timeout)
	}
	if opts[catalog.OpenRouter].BaseURL != "https://openrouter.example.com/api/v1" {
		t.Errorf("openrouter base_url = %q", opts[catalog.OpenRouter].BaseURL)
	}
}

func TestDefaultsConfig_Apply(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(fullYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := cfg.Defaults.Apply(settings.Defaults())
	if got.ModelID != "claude-3-5-haiku-20241022" {
		t.Errorf("ModelID = %q", got.ModelID)
	}
	if got.WritingStyle != prompt.Formal {
		t.Errorf("WritingStyle = %q", got.WritingStyle)
	}
	if got.SoundEnabled {
		t.Error("SoundEnabled should be overridden to false")
	}
	if got.ShortcutKey != "]" || got.ShortcutModifier != "CmdOrCtrl+Shift" {
		t.Errorf("unset shortcut fields changed: %+v", got)
	}
	if err := got.Validate(); err != nil {
		t.Errorf("applied defaults invalid: %v", err)
	}
}
