// Package app wires all Correctify subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP and drives the hotkey pipeline, and Shutdown
// tears everything down in order.
//
// For testing, inject doubles via functional options (WithRegistry,
// WithKeyStore, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/MrWong99/correctify/internal/bridge"
	"github.com/MrWong99/correctify/internal/config"
	"github.com/MrWong99/correctify/internal/gateway"
	"github.com/MrWong99/correctify/internal/health"
	"github.com/MrWong99/correctify/internal/hotkey"
	"github.com/MrWong99/correctify/internal/httpapi"
	"github.com/MrWong99/correctify/internal/keystore"
	"github.com/MrWong99/correctify/internal/mcpserver"
	"github.com/MrWong99/correctify/internal/observe"
	"github.com/MrWong99/correctify/internal/orchestrator"
	"github.com/MrWong99/correctify/internal/resilience"
	"github.com/MrWong99/correctify/internal/settings"
	"github.com/MrWong99/correctify/internal/store/postgres"
	"github.com/MrWong99/correctify/internal/store/sqlite"
	"github.com/MrWong99/correctify/internal/usage"
)

// shutdownTimeout bounds the HTTP server drain when Run's context ends.
const shutdownTimeout = 10 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg     *config.Config
	version string

	level          *slog.LevelVar
	metrics        *observe.Metrics
	metricsHandler http.Handler
	watcher        *config.Watcher

	registry      *gateway.Registry
	keys          keystore.Store
	usageStore    usage.Store
	settingsStore settings.Store

	ledger   *usage.Ledger
	settings *settings.Service
	breakers *resilience.Set
	orch     *orchestrator.Orchestrator
	bridge   *bridge.Bridge
	pipeline *hotkey.Pipeline
	api      *httpapi.API
	health   *health.Handler
	checkers []health.Checker

	handler http.Handler
	server  *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithRegistry injects a gateway registry instead of the default one built
// from the provider config.
func WithRegistry(r *gateway.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithKeyStore injects a key store instead of one seeded from config and
// environment.
func WithKeyStore(s keystore.Store) Option {
	return func(a *App) { a.keys = s }
}

// WithUsageStore injects the usage history backend, bypassing storage.driver.
func WithUsageStore(s usage.Store) Option {
	return func(a *App) { a.usageStore = s }
}

// WithSettingsStore injects the settings backend, bypassing storage.driver.
func WithSettingsStore(s settings.Store) Option {
	return func(a *App) { a.settingsStore = s }
}

// WithLevelVar lets config reloads change the log level of the handler
// built around lv.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithMetrics overrides [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler serves h at telemetry.metrics_path.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithWatcher polls the config file during Run. Its callback should call
// [App.Reload].
func WithWatcher(w *config.Watcher) Option {
	return func(a *App) { a.watcher = w }
}

// WithVersion sets the version reported to MCP clients.
func WithVersion(v string) Option {
	return func(a *App) { a.version = v }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. It performs all
// initialisation synchronously: storage connection and migration, key
// seeding, history and settings loading, and router assembly.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Storage ───────────────────────────────────────────────────────
	if err := a.initStorage(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init storage: %w", err)
	}

	// ── 2. Keys ──────────────────────────────────────────────────────────
	a.initKeys()

	// ── 3. Usage ledger + settings ───────────────────────────────────────
	var lopts []usage.Option
	if cfg.Storage.MaxEntries > 0 {
		lopts = append(lopts, usage.WithMaxEntries(cfg.Storage.MaxEntries))
	}
	ledger, err := usage.NewLedger(ctx, a.usageStore, lopts...)
	if err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: %w", err)
	}
	a.ledger = ledger
	slog.Info("usage history loaded", "entries", ledger.Len())

	svc, err := settings.NewService(ctx, a.settingsStore, cfg.Defaults.Apply(settings.Defaults()))
	if err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: %w", err)
	}
	a.settings = svc

	// ── 4. Orchestrator ──────────────────────────────────────────────────
	a.initOrchestrator()

	// ── 5. Hotkey bridge + pipeline ──────────────────────────────────────
	a.initHotkey()

	// ── 6. HTTP surfaces ─────────────────────────────────────────────────
	proxies, err := cfg.HTTP.TrustedPrefixes()
	if err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: %w", err)
	}
	a.api = httpapi.New(httpapi.Config{
		Corrector:        a.orch,
		Ledger:           a.ledger,
		Settings:         a.settings,
		Keys:             a.keys,
		OnSettingsChange: a.pushSettings,
		RateLimit:        rate.Limit(cfg.HTTP.RateLimit),
		Burst:            cfg.HTTP.Burst,
		TrustedProxies:   proxies,
	})
	a.health = health.New(a.checkers...)
	a.handler = a.buildRouter()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStorage opens the configured backend unless both stores are injected.
func (a *App) initStorage(ctx context.Context) error {
	if a.usageStore != nil && a.settingsStore != nil {
		return nil
	}

	switch a.cfg.Storage.Driver {
	case config.StorageSQLite:
		st, err := sqlite.Open(a.cfg.Storage.SQLitePath)
		if err != nil {
			return err
		}
		a.adoptStore(st, st.Settings(), st, st.Close)
		slog.Info("storage opened", "driver", "sqlite", "path", a.cfg.Storage.SQLitePath)

	case config.StoragePostgres:
		st, err := postgres.Open(ctx, a.cfg.Storage.PostgresDSN)
		if err != nil {
			return err
		}
		if err := st.Migrate(ctx); err != nil {
			_ = st.Close()
			return err
		}
		a.adoptStore(st, st.Settings(), st, st.Close)
		slog.Info("storage opened", "driver", "postgres")

	default:
		// Nil stores make the ledger and settings service use memory.
		slog.Info("storage opened", "driver", "memory")
	}
	return nil
}

func (a *App) adoptStore(u usage.Store, s settings.Store, p health.Pinger, closeFn func() error) {
	if a.usageStore == nil {
		a.usageStore = u
	}
	if a.settingsStore == nil {
		a.settingsStore = s
	}
	a.checkers = append(a.checkers, health.PingChecker("storage", p))
	a.closers = append(a.closers, closeFn)
}

// initKeys seeds a memory key store from config first and environment
// second, unless one was injected.
func (a *App) initKeys() {
	if a.keys != nil {
		return
	}
	seed := keystore.EnvSeed(nil)
	for name, key := range a.cfg.Providers.Keys() {
		seed[name] = key
	}
	a.keys = keystore.NewMemStore(seed)

	for p, ok := range keystore.Presence(context.Background(), a.keys) {
		slog.Debug("provider key", "provider", p, "configured", ok)
	}
}

func (a *App) initOrchestrator() {
	if a.registry == nil {
		a.registry = gateway.NewDefaultRegistry(a.cfg.Providers.GatewayOptions())
	}

	oopts := []orchestrator.Option{orchestrator.WithMetrics(a.metrics)}
	if !a.cfg.Resilience.Disabled {
		a.breakers = resilience.NewSet(resilience.Config{
			MaxFailures:  a.cfg.Resilience.MaxFailures,
			ResetTimeout: a.cfg.Resilience.ResetTimeout,
			Trips:        gateway.IsTransient,
			OnStateChange: func(name string, from, to resilience.State) {
				slog.Warn("provider circuit breaker changed state", "provider", name, "from", from, "to", to)
			},
		})
		oopts = append(oopts, orchestrator.WithBreakers(a.breakers))
		a.checkers = append(a.checkers, health.Checker{
			Name:     "circuit-breakers",
			Optional: true,
			Check:    a.checkBreakers,
		})
	}
	a.orch = orchestrator.New(a.registry, a.keys, a.ledger, oopts...)
}

func (a *App) initHotkey() {
	if !a.cfg.Hotkey.Enabled {
		return
	}

	bopts := []bridge.Option{
		bridge.WithMetrics(a.metrics),
		bridge.WithOnConnect(func(ctx context.Context) {
			if a.pipeline != nil {
				a.pipeline.Greet(ctx)
			}
		}),
	}
	if a.cfg.Hotkey.AckTimeout > 0 {
		bopts = append(bopts, bridge.WithAckTimeout(a.cfg.Hotkey.AckTimeout))
	}
	if len(a.cfg.Hotkey.OriginPatterns) > 0 {
		bopts = append(bopts, bridge.WithOriginPatterns(a.cfg.Hotkey.OriginPatterns...))
	}
	a.bridge = bridge.New(bopts...)
	a.closers = append(a.closers, a.bridge.Close)

	a.pipeline = hotkey.New(a.bridge, a.orch, a.keys, a.settings,
		hotkey.WithDedupe(a.cfg.Hotkey.Dedupe),
		hotkey.WithMetrics(a.metrics),
	)
	a.checkers = append(a.checkers, health.Checker{
		Name:     "native-host",
		Optional: true,
		Check: func(context.Context) error {
			if !a.bridge.Connected() {
				return bridge.ErrHostDisconnected
			}
			return nil
		},
	})
}

func (a *App) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(observe.Middleware(a.metrics))

	a.health.Mount(r)
	a.api.Mount(r)

	if a.bridge != nil {
		r.Handle(a.cfg.Hotkey.Path, a.bridge)
	}
	if a.cfg.MCP.Enabled {
		srv := mcpserver.New(mcpserver.Config{
			Corrector: a.orch,
			Ledger:    a.ledger,
			Settings:  a.settings,
			Keys:      a.keys,
			Version:   a.version,
			Metrics:   a.metrics,
		})
		r.Handle(a.cfg.MCP.Path, mcpserver.Handler(srv))
	}
	if a.metricsHandler != nil {
		r.Handle(a.cfg.Telemetry.MetricsPath, a.metricsHandler)
	}
	return r
}

// checkBreakers reports providers whose breaker is not closed.
func (a *App) checkBreakers(context.Context) error {
	var open []string
	for name, st := range a.breakers.States() {
		if st != resilience.StateClosed {
			open = append(open, name+"="+st.String())
		}
	}
	if len(open) == 0 {
		return nil
	}
	return fmt.Errorf("breakers not closed: %s", strings.Join(open, ", "))
}

// pushSettings forwards host-relevant preferences after a settings update.
func (a *App) pushSettings(ctx context.Context, s settings.Settings) {
	if a.pipeline == nil || !a.bridge.Connected() {
		return
	}
	// The request context ends with the response; the host acks later.
	go a.pipeline.PushSettings(context.WithoutCancel(ctx), s)
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Orchestrator returns the correction orchestrator.
func (a *App) Orchestrator() *orchestrator.Orchestrator { return a.orch }

// Settings returns the settings service.
func (a *App) Settings() *settings.Service { return a.settings }

// Keys returns the key store.
func (a *App) Keys() keystore.Store { return a.keys }

// ─── Reload ──────────────────────────────────────────────────────────────────

// Reload applies the hot-reloadable parts of a changed config: the log
// level and configured API keys. Other changes are logged as requiring a
// restart.
func (a *App) Reload(ctx context.Context, old, new *config.Config) {
	d := config.Diff(old, new)
	if !d.Changed() {
		return
	}

	if d.LogLevelChanged && a.level != nil {
		a.level.Set(ParseLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}

	for _, kc := range d.KeyChanges {
		var err error
		if kc.NewKey == "" {
			err = a.keys.Delete(ctx, kc.Provider.KeyName())
			if errors.Is(err, keystore.ErrNotFound) {
				err = nil
			}
		} else {
			err = a.keys.Set(ctx, kc.Provider.KeyName(), kc.NewKey)
		}
		if err != nil {
			slog.Error("failed to apply reloaded api key", "provider", kc.Provider, "err", err)
			continue
		}
		slog.Info("provider api key reloaded", "provider", kc.Provider, "configured", kc.NewKey != "")
	}

	if len(d.RestartRequired) > 0 {
		slog.Warn("config sections changed that only apply after restart", "sections", d.RestartRequired)
	}
}

// ParseLevel maps a config log level to its slog level. Unknown values map
// to info.
func ParseLevel(l config.LogLevel) slog.Level {
	switch l {
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

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run listens on server.listen_addr and blocks until ctx is cancelled or a
// component fails. When ctx is done, Run drains the HTTP server and returns
// ctx.Err().
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen %s: %w", a.cfg.Server.ListenAddr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener. It takes ownership of ln.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	a.server = &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.server.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})

	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return a.server.Shutdown(sctx)
	})

	if a.pipeline != nil {
		g.Go(func() error { return a.pipeline.Run(gctx) })
	}
	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
	}

	slog.Info("app running",
		"addr", ln.Addr().String(),
		"hotkey", a.pipeline != nil,
		"mcp", a.cfg.MCP.Enabled,
		"storage", a.cfg.Storage.Driver,
	)

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown closes the bridge and storage in order. It is safe to call more
// than once; only the first call has any effect.
func (a *App) Shutdown(ctx context.Context) error {
	var err error
	a.stopOnce.Do(func() {
		done := make(chan error, 1)
		go func() { done <- a.closeAll() }()
		select {
		case err = <-done:
		case <-ctx.Done():
			err = fmt.Errorf("app: shutdown: %w", ctx.Err())
		}
	})
	return err
}

func (a *App) closeAll() error {
	var errs []error
	for _, c := range a.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
