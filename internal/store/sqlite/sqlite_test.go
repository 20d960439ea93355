package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/MrWong99/correctify/internal/catalog"
	"github.com/MrWong99/correctify/internal/settings"
	"github.com/MrWong99/correctify/internal/usage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "correctify.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestUsage_AppendLoadOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	want := []usage.Entry{
		{ID: "a", Timestamp: 3, Provider: catalog.OpenAI, Model: "gpt-4o", TokensEstimated: 5, DurationMs: 120, Success: true, Source: usage.SourceHTTP},
		{ID: "b", Timestamp: 1, Provider: catalog.Anthropic, Model: "claude-3-5-haiku-20241022", DurationMs: 40, Error: "HTTP 401", Source: usage.SourceHotkey},
	}
	for _, e := range want {
		if err := s.Append(ctx, e); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("loaded %d entries, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestUsage_Trim(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for i := range 8 {
		_ = s.Append(ctx, usage.Entry{ID: fmt.Sprint(i), Provider: catalog.Mistral})
	}

	if err := s.Trim(ctx, 3); err != nil {
		t.Fatalf("Trim: %v", err)
	}
	got, _ := s.Load(ctx)
	if len(got) != 3 || got[0].ID != "5" || got[2].ID != "7" {
		t.Errorf("after trim: %+v", got)
	}

	if err := s.Trim(ctx, 10); err != nil {
		t.Fatalf("Trim above size: %v", err)
	}
	if got, _ := s.Load(ctx); len(got) != 3 {
		t.Errorf("trim above size removed entries: %d left", len(got))
	}
}

func TestUsage_Clear(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_ = s.Append(ctx, usage.Entry{ID: "x"})
	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if got, _ := s.Load(ctx); len(got) != 0 {
		t.Errorf("%d entries left after Clear", len(got))
	}
}

func TestUsage_LedgerRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	ctx := context.Background()

	s1, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	l1, _ := usage.NewLedger(ctx, s1, usage.WithMaxEntries(2))
	for i := range 3 {
		if _, err := l1.Record(ctx, usage.Entry{ID: fmt.Sprint(i), Provider: catalog.OpenAI}); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	_ = s1.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	l2, err := usage.NewLedger(ctx, s2)
	if err != nil {
		t.Fatalf("NewLedger: %v", err)
	}
	entries := l2.Entries()
	if len(entries) != 2 || entries[0].ID != "1" {
		t.Errorf("reloaded entries = %+v", entries)
	}
}

func TestSettings_SaveLoadUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	st := s.Settings()

	if err := st.Save(ctx, settings.Defaults().Encode()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := st.Save(ctx, map[string]string{settings.KeyWritingStyle: "concise"}); err != nil {
		t.Fatalf("Save update: %v", err)
	}

	kv, err := st.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if kv[settings.KeyWritingStyle] != "concise" || kv[settings.KeyModel] != "gpt-4o-mini" {
		t.Errorf("loaded %v", kv)
	}

	svc, err := settings.NewService(ctx, st, settings.Defaults())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if svc.Get().WritingStyle != "concise" {
		t.Errorf("service state = %+v", svc.Get())
	}
}

func TestPing(t *testing.T) {
	s := newTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}
