// Package hotkey connects the native host's global shortcut to the
// correction orchestrator.
//
// The host captures the clipboard and emits the text as an event. The
// [Pipeline] corrects it with the current settings and hands the result back
// to the host, which notifies the user and optionally pastes. Failures are
// turned into host notifications; nothing propagates back into the host as
// an error. No fallback model is ever tried on this path.
package hotkey

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/MrWong99/correctify/internal/catalog"
	"github.com/MrWong99/correctify/internal/keystore"
	"github.com/MrWong99/correctify/internal/observe"
	"github.com/MrWong99/correctify/internal/orchestrator"
	"github.com/MrWong99/correctify/internal/settings"
	"github.com/MrWong99/correctify/internal/usage"
)

// Notification titles.
const (
	TitleError = "❌ Correctify Error"
	TitleReady = "🚀 Correctify Ready"
)

// State is the lifecycle position of the pipeline or of one capture.
type State int

const (
	StateIdle State = iota
	StateListening
	StateCorrecting
	StateDelivering
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateCorrecting:
		return "correcting"
	case StateDelivering:
		return "delivering"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Submitter runs one correction. *orchestrator.Orchestrator satisfies it.
type Submitter interface {
	Submit(ctx context.Context, s orchestrator.Submission) (orchestrator.Result, error)
}

// SettingsSource yields the current preferences. *settings.Service
// satisfies it.
type SettingsSource interface {
	Get() settings.Settings
}

// Pipeline consumes host captures and delivers corrections.
type Pipeline struct {
	host     Host
	orch     Submitter
	keys     keystore.Store
	settings SettingsSource
	metrics  *observe.Metrics
	dedupe   bool

	group singleflight.Group
	wg    sync.WaitGroup

	mu       sync.Mutex
	state    State
	captures map[string]State
}

// Option configures a [Pipeline].
type Option func(*Pipeline)

// WithDedupe collapses captures of identical text that arrive while an
// earlier one is still in flight. Off by default: every capture is corrected
// independently.
func WithDedupe(enabled bool) Option {
	return func(p *Pipeline) {
		p.dedupe = enabled
	}
}

// WithMetrics overrides [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// New creates a Pipeline.
func New(host Host, orch Submitter, keys keystore.Store, src SettingsSource, opts ...Option) *Pipeline {
	p := &Pipeline{
		host:     host,
		orch:     orch,
		keys:     keys,
		settings: src,
		captures: make(map[string]State),
	}
	for _, o := range opts {
		o(p)
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	return p
}

// Run pushes the current settings to the host, then handles captures until
// ctx ends or the host closes the capture channel. Each capture runs in its
// own goroutine; Run waits for all of them before returning.
func (p *Pipeline) Run(ctx context.Context) error {
	captures, err := p.host.Captures(ctx)
	if err != nil {
		return fmt.Errorf("hotkey: subscribe: %w", err)
	}

	p.Greet(ctx)

	p.setState(StateListening)
	defer func() {
		p.wg.Wait()
		p.setState(StateIdle)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case text, ok := <-captures:
			if !ok {
				slog.Info("hotkey: host capture channel closed")
				return nil
			}
			p.wg.Add(1)
			go func() {
				defer p.wg.Done()
				p.Handle(ctx, text)
			}()
		}
	}
}

// Greet pushes the current settings to the host and announces the active
// shortcut. Run greets once on start; call it again whenever a new host
// attaches.
func (p *Pipeline) Greet(ctx context.Context) {
	s := p.settings.Get()
	p.PushSettings(ctx, s)
	p.notify(ctx, TitleReady, fmt.Sprintf("Global shortcut %s+%s is active!", s.ShortcutModifier, s.ShortcutKey))
}

// PushSettings sends the host-relevant preferences to the host. Failures
// are logged and otherwise ignored.
func (p *Pipeline) PushSettings(ctx context.Context, s settings.Settings) {
	if err := p.host.SetSoundEnabled(ctx, s.SoundEnabled); err != nil {
		slog.Warn("hotkey: push sound setting", "err", err)
	}
	if err := p.host.SetAutoPasteEnabled(ctx, s.AutoPasteEnabled); err != nil {
		slog.Warn("hotkey: push auto-paste setting", "err", err)
	}
	if err := p.host.UpdateShortcut(ctx, s.ShortcutKey, s.ShortcutModifier); err != nil {
		slog.Warn("hotkey: push shortcut", "err", err)
	}
}

// Handle corrects one captured text and delivers the outcome to the host.
// It never returns an error: every failure becomes a notification.
func (p *Pipeline) Handle(ctx context.Context, text string) {
	if !p.dedupe {
		p.metrics.RecordHotkeyCapture(ctx, p.process(ctx, text))
		return
	}
	led := false
	v, _, _ := p.group.Do(text, func() (any, error) {
		led = true
		return p.process(ctx, text), nil
	})
	if !led {
		slog.Debug("hotkey: duplicate capture collapsed", "text_len", len(text))
		p.metrics.RecordHotkeyCapture(ctx, "deduped")
		return
	}
	p.metrics.RecordHotkeyCapture(ctx, v.(string))
}

// process runs one capture through Correcting and Delivering and returns
// the outcome label.
func (p *Pipeline) process(ctx context.Context, text string) string {
	id := uuid.NewString()
	ctx, span := observe.StartSpan(ctx, "hotkey.capture")
	var spanErr error
	defer func() { observe.EndSpan(span, spanErr) }()
	log := observe.Logger(ctx).With("capture", id)
	defer p.forget(id)

	// Settings are read once per capture.
	s := p.settings.Get()
	provider := catalog.ProviderForModel(s.ModelID)

	key, ok, err := keystore.Lookup(ctx, p.keys, provider)
	if err != nil {
		log.Warn("hotkey: key lookup failed", "provider", provider, "err", err)
		spanErr = err
		p.notify(ctx, TitleError, fmt.Sprintf("Could not read your %s API key from secure storage. Please try again.", provider.DisplayName()))
		return "key_error"
	}
	if !ok {
		log.Info("hotkey: no API key configured", "provider", provider)
		p.notify(ctx, TitleError, fmt.Sprintf("Please configure your %s API key in settings first!", provider.DisplayName()))
		return "missing_key"
	}

	p.track(id, StateCorrecting)
	if s.SoundEnabled {
		p.play(ctx, SoundProcessing)
	}
	log.Debug("hotkey: correcting", "text_len", len(text), "model", s.ModelID)

	res, err := p.orch.Submit(ctx, orchestrator.Submission{
		Text:        text,
		Style:       s.WritingStyle,
		CustomRules: s.CustomRules,
		ModelID:     s.ModelID,
		APIKey:      key,
		Source:      usage.SourceHotkey,
	})
	if err != nil {
		spanErr = err
		p.notify(ctx, TitleError, "Failed to correct text: "+err.Error())
		return "failed"
	}

	p.track(id, StateDelivering)
	err = p.host.HandleCorrectedText(ctx, Delivery{
		Text:       res.Text,
		Model:      res.Model,
		DurationMs: res.Duration.Milliseconds(),
		AutoPaste:  s.AutoPasteEnabled,
	})
	if err != nil {
		log.Warn("hotkey: deliver corrected text", "err", err)
		spanErr = err
		return "undelivered"
	}
	if s.SoundEnabled {
		p.play(ctx, SoundCompleted)
	}
	return "delivered"
}

// State returns [StateListening] while Run is active, else [StateIdle].
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// InFlight returns the state of every capture not yet back to idle, keyed by
// capture id.
func (p *Pipeline) InFlight() map[string]State {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]State, len(p.captures))
	for id, s := range p.captures {
		out[id] = s
	}
	return out
}

func (p *Pipeline) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

func (p *Pipeline) track(id string, s State) {
	p.mu.Lock()
	p.captures[id] = s
	p.mu.Unlock()
}

func (p *Pipeline) forget(id string) {
	p.mu.Lock()
	delete(p.captures, id)
	p.mu.Unlock()
}

func (p *Pipeline) notify(ctx context.Context, title, body string) {
	if err := p.host.Notify(ctx, title, body); err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("hotkey: notification failed", "title", title, "err", err)
	}
}

func (p *Pipeline) play(ctx context.Context, s Sound) {
	if err := p.host.PlaySoundInApp(ctx, s); err != nil {
		slog.Debug("hotkey: play sound", "sound", s, "err", err)
	}
}
