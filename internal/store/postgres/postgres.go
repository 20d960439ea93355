// Package postgres persists the usage ledger and user settings in
// PostgreSQL via pgx. It is the shared-deployment alternative to the local
// SQLite store.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/correctify/internal/catalog"
	"github.com/MrWong99/correctify/internal/settings"
	"github.com/MrWong99/correctify/internal/usage"
)

// Schema is the SQL DDL for the correctify tables. Execute it via
// [Store.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS usage_entries (
    seq              BIGSERIAL PRIMARY KEY,
    id               TEXT NOT NULL UNIQUE,
    ts               BIGINT NOT NULL,
    provider         TEXT NOT NULL,
    model            TEXT NOT NULL,
    tokens_estimated INTEGER NOT NULL DEFAULT 0,
    duration_ms      BIGINT NOT NULL DEFAULT 0,
    success          BOOLEAN NOT NULL,
    error            TEXT NOT NULL DEFAULT '',
    source           TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_usage_entries_ts ON usage_entries(ts);

CREATE TABLE IF NOT EXISTS settings (
    key        TEXT PRIMARY KEY,
    value      TEXT NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// DB is the database interface used by [Store]. Both *pgxpool.Pool and
// *pgx.Conn satisfy it.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store implements [usage.Store]. [Store.Settings] exposes the settings
// table as a [settings.Store].
type Store struct {
	db   DB
	pool *pgxpool.Pool
}

var (
	_ usage.Store    = (*Store)(nil)
	_ settings.Store = settingsView{}
)

// New wraps an existing connection or pool. The caller is responsible for
// calling [Store.Migrate].
func New(db DB) *Store {
	return &Store{db: db}
}

// Open connects to dsn, verifies the connection and migrates the schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	s := &Store{db: pool, pool: pool}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Migrate executes [Schema].
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	var one int
	if err := s.db.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("postgres: ping: %w", err)
	}
	return nil
}

// Close releases the pool opened by [Open]. It is a no-op for stores built
// with [New].
func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// Load implements [usage.Store].
func (s *Store) Load(ctx context.Context) ([]usage.Entry, error) {
	const query = `
		SELECT id, ts, provider, model, tokens_estimated, duration_ms, success, error, source
		FROM usage_entries ORDER BY seq ASC`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: load usage: %w", err)
	}
	defer rows.Close()

	var out []usage.Entry
	for rows.Next() {
		var (
			e        usage.Entry
			provider string
			source   string
			tokens   int64
		)
		if err := rows.Scan(&e.ID, &e.Timestamp, &provider, &e.Model, &tokens, &e.DurationMs, &e.Success, &e.Error, &source); err != nil {
			return nil, fmt.Errorf("postgres: scan usage: %w", err)
		}
		e.Provider = catalog.ProviderID(provider)
		e.Source = usage.Source(source)
		e.TokensEstimated = int(tokens)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: load usage: %w", err)
	}
	return out, nil
}

// Append implements [usage.Store].
func (s *Store) Append(ctx context.Context, e usage.Entry) error {
	const query = `
		INSERT INTO usage_entries (id, ts, provider, model, tokens_estimated, duration_ms, success, error, source)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`

	_, err := s.db.Exec(ctx, query,
		e.ID, e.Timestamp, string(e.Provider), e.Model, e.TokensEstimated,
		e.DurationMs, e.Success, e.Error, string(e.Source),
	)
	if err != nil {
		return fmt.Errorf("postgres: append usage: %w", err)
	}
	return nil
}

// Trim implements [usage.Store].
func (s *Store) Trim(ctx context.Context, keep int) error {
	if keep < 0 {
		keep = 0
	}
	const query = `
		DELETE FROM usage_entries
		WHERE seq <= (SELECT seq FROM usage_entries ORDER BY seq DESC OFFSET $1 LIMIT 1)`

	if _, err := s.db.Exec(ctx, query, keep); err != nil {
		return fmt.Errorf("postgres: trim usage: %w", err)
	}
	return nil
}

// Clear implements [usage.Store].
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM usage_entries`); err != nil {
		return fmt.Errorf("postgres: clear usage: %w", err)
	}
	return nil
}

// Settings returns the [settings.Store] backed by the same database.
func (s *Store) Settings() settings.Store {
	return settingsView{s}
}

type settingsView struct{ s *Store }

// Load implements [settings.Store].
func (v settingsView) Load(ctx context.Context) (map[string]string, error) {
	rows, err := v.s.db.Query(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return nil, fmt.Errorf("postgres: load settings: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, val string
		if err := rows.Scan(&k, &val); err != nil {
			return nil, fmt.Errorf("postgres: scan settings: %w", err)
		}
		out[k] = val
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: load settings: %w", err)
	}
	return out, nil
}

// Save implements [settings.Store].
func (v settingsView) Save(ctx context.Context, kv map[string]string) error {
	const query = `
		INSERT INTO settings (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`

	for k, val := range kv {
		if _, err := v.s.db.Exec(ctx, query, k, val); err != nil {
			return fmt.Errorf("postgres: save setting %q: %w", k, err)
		}
	}
	return nil
}
