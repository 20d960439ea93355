// Package settings owns the user preferences that drive a correction attempt.
//
// Preferences are consolidated into one [Settings] value. Callers read it
// once per attempt through [Service.Get] and pass it explicitly to the
// orchestrator. Persistence is a flat string key/value map under stable keys,
// so any [Store] backend (memory, SQLite, PostgreSQL) can hold it.
package settings

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/MrWong99/correctify/internal/catalog"
	"github.com/MrWong99/correctify/internal/prompt"
)

// Stable persisted keys.
const (
	KeyModel            = "selected-model"
	KeyWritingStyle     = "writing-style"
	KeyCustomRules      = "custom-rules"
	KeySoundEnabled     = "sound-enabled"
	KeyAutostartEnabled = "autostart-enabled"
	KeyAutoPasteEnabled = "auto-paste-enabled"
	KeyShortcutKey      = "shortcut-key"
	KeyShortcutModifier = "shortcut-modifier"
)

// Settings is the complete set of user preferences.
type Settings struct {
	ModelID          string       `json:"modelId" yaml:"model_id"`
	WritingStyle     prompt.Style `json:"writingStyle" yaml:"writing_style"`
	CustomRules      string       `json:"customRules" yaml:"custom_rules"`
	SoundEnabled     bool         `json:"soundEnabled" yaml:"sound_enabled"`
	AutostartEnabled bool         `json:"autostartEnabled" yaml:"autostart_enabled"`
	AutoPasteEnabled bool         `json:"autoPasteEnabled" yaml:"auto_paste_enabled"`
	ShortcutKey      string       `json:"shortcutKey" yaml:"shortcut_key"`
	ShortcutModifier string       `json:"shortcutModifier" yaml:"shortcut_modifier"`
}

// Defaults returns the out-of-the-box preferences.
func Defaults() Settings {
	return Settings{
		ModelID:          catalog.Default().ID,
		WritingStyle:     prompt.DefaultStyle,
		SoundEnabled:     true,
		ShortcutKey:      "]",
		ShortcutModifier: "CmdOrCtrl+Shift",
	}
}

// Validate checks s for values no correction could use.
func (s Settings) Validate() error {
	var errs []error
	if s.ModelID == "" {
		errs = append(errs, errors.New("modelId must not be empty"))
	} else if _, ok := catalog.ByID(s.ModelID); !ok {
		msg := fmt.Sprintf("modelId %q is not a known model", s.ModelID)
		if hint, ok := catalog.Suggest(s.ModelID); ok {
			msg += fmt.Sprintf(" (did you mean %q?)", hint)
		}
		errs = append(errs, errors.New(msg))
	}
	if !s.WritingStyle.Valid() {
		errs = append(errs, fmt.Errorf("writingStyle %q is not one of grammar, formal, informal, collaborative, concise", s.WritingStyle))
	}
	if strings.TrimSpace(s.ShortcutKey) == "" {
		errs = append(errs, errors.New("shortcutKey must not be empty"))
	}
	if strings.TrimSpace(s.ShortcutModifier) == "" {
		errs = append(errs, errors.New("shortcutModifier must not be empty"))
	}
	return errors.Join(errs...)
}

// Encode flattens s into the persisted key/value form.
func (s Settings) Encode() map[string]string {
	return map[string]string{
		KeyModel:            s.ModelID,
		KeyWritingStyle:     string(s.WritingStyle),
		KeyCustomRules:      s.CustomRules,
		KeySoundEnabled:     strconv.FormatBool(s.SoundEnabled),
		KeyAutostartEnabled: strconv.FormatBool(s.AutostartEnabled),
		KeyAutoPasteEnabled: strconv.FormatBool(s.AutoPasteEnabled),
		KeyShortcutKey:      s.ShortcutKey,
		KeyShortcutModifier: s.ShortcutModifier,
	}
}

// Decode overlays kv onto base. Missing keys keep the base value; unknown
// keys are ignored. Malformed booleans are reported.
func Decode(base Settings, kv map[string]string) (Settings, error) {
	s := base
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := kv[key]; ok {
			*dst = v
		}
	}
	boolean := func(key string, dst *bool) {
		v, ok := kv[key]
		if !ok {
			return
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = b
	}

	str(KeyModel, &s.ModelID)
	if v, ok := kv[KeyWritingStyle]; ok {
		s.WritingStyle = prompt.Style(v)
	}
	str(KeyCustomRules, &s.CustomRules)
	boolean(KeySoundEnabled, &s.SoundEnabled)
	boolean(KeyAutostartEnabled, &s.AutostartEnabled)
	boolean(KeyAutoPasteEnabled, &s.AutoPasteEnabled)
	str(KeyShortcutKey, &s.ShortcutKey)
	str(KeyShortcutModifier, &s.ShortcutModifier)

	if len(errs) > 0 {
		return base, fmt.Errorf("settings: decode: %w", errors.Join(errs...))
	}
	return s, nil
}

// Store persists the flattened settings map.
type Store interface {
	Load(ctx context.Context) (map[string]string, error)
	Save(ctx context.Context, kv map[string]string) error
}

// MemStore is a process-local [Store]. The zero value is ready to use.
type MemStore struct {
	mu sync.Mutex
	kv map[string]string
}

// Load implements [Store].
func (m *MemStore) Load(context.Context) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.kv))
	for k, v := range m.kv {
		out[k] = v
	}
	return out, nil
}

// Save implements [Store].
func (m *MemStore) Save(_ context.Context, kv map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.kv == nil {
		m.kv = make(map[string]string, len(kv))
	}
	for k, v := range kv {
		m.kv[k] = v
	}
	return nil
}

// Service caches the current [Settings] in front of a [Store]. It is safe
// for concurrent use.
type Service struct {
	store    Store
	defaults Settings

	mu      sync.RWMutex
	current Settings
}

// NewService loads persisted settings over defaults. A nil store uses a
// fresh [MemStore].
func NewService(ctx context.Context, store Store, defaults Settings) (*Service, error) {
	if store == nil {
		store = &MemStore{}
	}
	kv, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("settings: load: %w", err)
	}
	cur, err := Decode(defaults, kv)
	if err != nil {
		return nil, err
	}
	return &Service{store: store, defaults: defaults, current: cur}, nil
}

// Get returns the current settings.
func (s *Service) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Update validates and persists next. On error the current settings are
// unchanged.
func (s *Service) Update(ctx context.Context, next Settings) error {
	if err := next.Validate(); err != nil {
		return fmt.Errorf("settings: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.Save(ctx, next.Encode()); err != nil {
		return fmt.Errorf("settings: save: %w", err)
	}
	s.current = next
	return nil
}

// Reset restores and persists the defaults.
func (s *Service) Reset(ctx context.Context) error {
	return s.Update(ctx, s.defaults)
}

var _ Store = (*MemStore)(nil)
