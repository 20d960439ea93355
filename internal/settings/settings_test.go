package settings

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/MrWong99/correctify/internal/prompt"
)

func TestDefaults(t *testing.T) {
	t.Parallel()
	d := Defaults()
	want := Settings{
		ModelID:          "gpt-4o-mini",
		WritingStyle:     prompt.Grammar,
		SoundEnabled:     true,
		ShortcutKey:      "]",
		ShortcutModifier: "CmdOrCtrl+Shift",
	}
	if d != want {
		t.Errorf("Defaults() = %+v, want %+v", d, want)
	}
	if err := d.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestEncodeDecode(t *testing.T) {
	t.Parallel()
	s := Settings{
		ModelID:          "claude-3-5-haiku-20241022",
		WritingStyle:     prompt.Concise,
		CustomRules:      "No emoji.",
		SoundEnabled:     false,
		AutostartEnabled: true,
		AutoPasteEnabled: true,
		ShortcutKey:      "K",
		ShortcutModifier: "Alt",
	}
	kv := s.Encode()
	if kv[KeyAutoPasteEnabled] != "true" || kv[KeyModel] != s.ModelID {
		t.Errorf("unexpected encoding %v", kv)
	}
	got, err := Decode(Defaults(), kv)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got != s {
		t.Errorf("Decode = %+v, want %+v", got, s)
	}
}

func TestDecode_PartialAndMalformed(t *testing.T) {
	t.Parallel()
	got, err := Decode(Defaults(), map[string]string{KeyWritingStyle: "formal", "unrelated": "x"})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.WritingStyle != prompt.Formal || got.ModelID != "gpt-4o-mini" || !got.SoundEnabled {
		t.Errorf("partial decode = %+v", got)
	}

	_, err = Decode(Defaults(), map[string]string{KeySoundEnabled: "maybe"})
	if err == nil || !strings.Contains(err.Error(), KeySoundEnabled) {
		t.Errorf("expected malformed bool error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	s := Defaults()
	s.ModelID = "gpt-4o-mimi"
	s.WritingStyle = "pirate"
	s.ShortcutKey = ""

	err := s.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"did you mean \"gpt-4o-mini\"", "writingStyle", "shortcutKey"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q should mention %q", err, want)
		}
	}
}

type errStore struct{ MemStore }

func (*errStore) Save(context.Context, map[string]string) error { return errors.New("read-only") }

func TestService(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := &MemStore{}
	_ = store.Save(ctx, map[string]string{KeyCustomRules: "Keep it short."})

	svc, err := NewService(ctx, store, Defaults())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if svc.Get().CustomRules != "Keep it short." {
		t.Errorf("persisted value not loaded: %+v", svc.Get())
	}

	next := svc.Get()
	next.AutoPasteEnabled = true
	if err := svc.Update(ctx, next); err != nil {
		t.Fatalf("Update: %v", err)
	}
	kv, _ := store.Load(ctx)
	if kv[KeyAutoPasteEnabled] != "true" {
		t.Error("update not persisted")
	}

	bad := next
	bad.WritingStyle = "shouty"
	if err := svc.Update(ctx, bad); err == nil {
		t.Fatal("expected validation error")
	}
	if svc.Get() != next {
		t.Error("failed update must not change current settings")
	}

	if err := svc.Reset(ctx); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if svc.Get() != Defaults() {
		t.Error("Reset should restore defaults")
	}
}

func TestService_SaveErrorKeepsCurrent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, err := NewService(ctx, &errStore{}, Defaults())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	next := Defaults()
	next.SoundEnabled = false
	if err := svc.Update(ctx, next); err == nil {
		t.Fatal("expected save error")
	}
	if !svc.Get().SoundEnabled {
		t.Error("current settings changed despite save failure")
	}
}
