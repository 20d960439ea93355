package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/MrWong99/correctify/internal/catalog"
	"github.com/MrWong99/correctify/internal/settings"
	"github.com/MrWong99/correctify/internal/usage"
)

// ---------------------------------------------------------------------------
// Test helpers: mock DB types
// ---------------------------------------------------------------------------

type mockRow struct {
	scanFunc func(dest ...any) error
}

func (r *mockRow) Scan(dest ...any) error { return r.scanFunc(dest...) }

type mockRows struct {
	data   [][]any
	idx    int
	err    error
	closed bool
}

func (r *mockRows) Close()                                       { r.closed = true }
func (r *mockRows) Err() error                                   { return r.err }
func (r *mockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *mockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *mockRows) RawValues() [][]byte                          { return nil }
func (r *mockRows) Conn() *pgx.Conn                              { return nil }
func (r *mockRows) Values() ([]any, error)                       { return nil, nil }

func (r *mockRows) Next() bool {
	if r.idx >= len(r.data) {
		return false
	}
	r.idx++
	return true
}

func (r *mockRows) Scan(dest ...any) error {
	row := r.data[r.idx-1]
	if len(dest) != len(row) {
		return fmt.Errorf("scan: expected %d columns, got %d destinations", len(row), len(dest))
	}
	for i, v := range row {
		switch d := dest[i].(type) {
		case *string:
			*d = v.(string)
		case *int64:
			*d = v.(int64)
		case *bool:
			*d = v.(bool)
		default:
			return fmt.Errorf("scan: unsupported type at index %d: %T", i, dest[i])
		}
	}
	return nil
}

type execCall struct {
	sql  string
	args []any
}

type mockDB struct {
	queryRowFunc func(ctx context.Context, sql string, args ...any) pgx.Row
	queryFunc    func(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	execErr      error
	execs        []execCall
}

func (m *mockDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if m.queryRowFunc != nil {
		return m.queryRowFunc(ctx, sql, args...)
	}
	return &mockRow{scanFunc: func(dest ...any) error { return pgx.ErrNoRows }}
}

func (m *mockDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if m.queryFunc != nil {
		return m.queryFunc(ctx, sql, args...)
	}
	return &mockRows{}, nil
}

func (m *mockDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	m.execs = append(m.execs, execCall{sql: sql, args: args})
	return pgconn.CommandTag{}, m.execErr
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestMigrate(t *testing.T) {
	t.Parallel()
	db := &mockDB{}
	if err := New(db).Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if len(db.execs) != 1 || db.execs[0].sql != Schema {
		t.Errorf("expected Schema to be executed once, got %+v", db.execs)
	}

	db.execErr = errors.New("permission denied")
	if err := New(db).Migrate(context.Background()); err == nil || !strings.Contains(err.Error(), "postgres: migrate") {
		t.Errorf("expected wrapped migrate error, got %v", err)
	}
}

func TestAppend(t *testing.T) {
	t.Parallel()
	db := &mockDB{}
	e := usage.Entry{
		ID: "id-1", Timestamp: 42, Provider: catalog.OpenRouter, Model: "google/gemma-2-9b-it:free",
		TokensEstimated: 7, DurationMs: 900, Success: false, Error: "HTTP 500", Source: usage.SourceHotkey,
	}
	if err := New(db).Append(context.Background(), e); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if len(db.execs) != 1 {
		t.Fatalf("expected one exec, got %d", len(db.execs))
	}
	args := db.execs[0].args
	want := []any{"id-1", int64(42), "openrouter", "google/gemma-2-9b-it:free", 7, int64(900), false, "HTTP 500", "hotkey"}
	if len(args) != len(want) {
		t.Fatalf("args = %v", args)
	}
	for i := range want {
		if args[i] != want[i] {
			t.Errorf("arg %d = %v (%T), want %v (%T)", i, args[i], args[i], want[i], want[i])
		}
	}
}

func TestLoad(t *testing.T) {
	t.Parallel()
	rows := &mockRows{data: [][]any{
		{"a", int64(1), "openai", "gpt-4o", int64(12), int64(300), true, "", "http"},
		{"b", int64(2), "mistral", "mistral-small-latest", int64(3), int64(50), false, "boom", "mcp"},
	}}
	db := &mockDB{queryFunc: func(context.Context, string, ...any) (pgx.Rows, error) { return rows, nil }}

	got, err := New(db).Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d", len(got))
	}
	want := usage.Entry{ID: "b", Timestamp: 2, Provider: catalog.Mistral, Model: "mistral-small-latest", TokensEstimated: 3, DurationMs: 50, Error: "boom", Source: usage.SourceMCP}
	if got[1] != want {
		t.Errorf("entry = %+v, want %+v", got[1], want)
	}
	if !rows.closed {
		t.Error("rows not closed")
	}
}

func TestLoad_RowsError(t *testing.T) {
	t.Parallel()
	db := &mockDB{queryFunc: func(context.Context, string, ...any) (pgx.Rows, error) {
		return &mockRows{err: errors.New("conn reset")}, nil
	}}
	if _, err := New(db).Load(context.Background()); err == nil {
		t.Fatal("expected rows error")
	}
}

func TestTrimAndClear(t *testing.T) {
	t.Parallel()
	db := &mockDB{}
	s := New(db)
	ctx := context.Background()

	if err := s.Trim(ctx, 1000); err != nil {
		t.Fatalf("Trim: %v", err)
	}
	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if len(db.execs) != 2 {
		t.Fatalf("execs = %d", len(db.execs))
	}
	if !strings.Contains(db.execs[0].sql, "OFFSET $1") || db.execs[0].args[0] != 1000 {
		t.Errorf("trim exec = %+v", db.execs[0])
	}
	if !strings.HasPrefix(strings.TrimSpace(db.execs[1].sql), "DELETE FROM usage_entries") {
		t.Errorf("clear exec = %q", db.execs[1].sql)
	}
}

func TestSettings(t *testing.T) {
	t.Parallel()
	db := &mockDB{queryFunc: func(context.Context, string, ...any) (pgx.Rows, error) {
		return &mockRows{data: [][]any{
			{settings.KeyWritingStyle, "formal"},
			{settings.KeyAutoPasteEnabled, "true"},
		}}, nil
	}}
	st := New(db).Settings()
	ctx := context.Background()

	kv, err := st.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	got, err := settings.Decode(settings.Defaults(), kv)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.WritingStyle != "formal" || !got.AutoPasteEnabled {
		t.Errorf("decoded %+v", got)
	}

	if err := st.Save(ctx, map[string]string{settings.KeyShortcutKey: "K"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	last := db.execs[len(db.execs)-1]
	if !strings.Contains(last.sql, "ON CONFLICT (key)") || last.args[0] != settings.KeyShortcutKey || last.args[1] != "K" {
		t.Errorf("save exec = %+v", last)
	}
}

func TestPing(t *testing.T) {
	t.Parallel()
	db := &mockDB{queryRowFunc: func(context.Context, string, ...any) pgx.Row {
		return &mockRow{scanFunc: func(dest ...any) error {
			*(dest[0].(*int)) = 1
			return nil
		}}
	}}
	if err := New(db).Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
	if err := New(&mockDB{}).Ping(context.Background()); err == nil {
		t.Error("expected ping error")
	}
}
