// Package sqlite persists the usage ledger and user settings in a local
// SQLite database through gorm. It uses the pure-Go glebarez driver, so no
// cgo toolchain is needed.
package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/MrWong99/correctify/internal/catalog"
	"github.com/MrWong99/correctify/internal/settings"
	"github.com/MrWong99/correctify/internal/usage"
)

// UsageRecord is one persisted ledger entry. Seq preserves append order.
type UsageRecord struct {
	Seq             uint   `gorm:"primaryKey;autoIncrement"`
	EntryID         string `gorm:"uniqueIndex"`
	Timestamp       int64  `gorm:"index"`
	Provider        string `gorm:"index"`
	Model           string
	TokensEstimated int
	DurationMs      int64
	Success         bool
	Error           string `gorm:"type:text"`
	Source          string
}

// Setting is one persisted preference.
type Setting struct {
	Key       string `gorm:"primaryKey"`
	Value     string `gorm:"type:text"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store implements [usage.Store]; [Store.Settings] exposes the preference
// table as a [settings.Store].
type Store struct {
	db *gorm.DB
}

var (
	_ usage.Store    = (*Store)(nil)
	_ settings.Store = settingsView{}
)

// Open opens (or creates) the database at path and migrates the schema.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}
	if err := db.AutoMigrate(&UsageRecord{}, &Setting{}); err != nil {
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("sqlite: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("sqlite: %w", err)
	}
	return sqlDB.Close()
}

// Load implements [usage.Store].
func (s *Store) Load(ctx context.Context) ([]usage.Entry, error) {
	var rows []UsageRecord
	if err := s.db.WithContext(ctx).Order("seq asc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("sqlite: load usage: %w", err)
	}
	out := make([]usage.Entry, 0, len(rows))
	for _, r := range rows {
		out = append(out, usage.Entry{
			ID:              r.EntryID,
			Timestamp:       r.Timestamp,
			Provider:        catalog.ProviderID(r.Provider),
			Model:           r.Model,
			TokensEstimated: r.TokensEstimated,
			DurationMs:      r.DurationMs,
			Success:         r.Success,
			Error:           r.Error,
			Source:          usage.Source(r.Source),
		})
	}
	return out, nil
}

// Append implements [usage.Store].
func (s *Store) Append(ctx context.Context, e usage.Entry) error {
	rec := UsageRecord{
		EntryID:         e.ID,
		Timestamp:       e.Timestamp,
		Provider:        string(e.Provider),
		Model:           e.Model,
		TokensEstimated: e.TokensEstimated,
		DurationMs:      e.DurationMs,
		Success:         e.Success,
		Error:           e.Error,
		Source:          string(e.Source),
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("sqlite: append usage: %w", err)
	}
	return nil
}

// Trim implements [usage.Store].
func (s *Store) Trim(ctx context.Context, keep int) error {
	if keep < 0 {
		keep = 0
	}
	db := s.db.WithContext(ctx)

	var cutoff []uint
	err := db.Model(&UsageRecord{}).
		Order("seq desc").
		Offset(keep).
		Limit(1).
		Pluck("seq", &cutoff).Error
	if err != nil {
		return fmt.Errorf("sqlite: trim usage: %w", err)
	}
	if len(cutoff) == 0 {
		return nil
	}
	if err := db.Where("seq <= ?", cutoff[0]).Delete(&UsageRecord{}).Error; err != nil {
		return fmt.Errorf("sqlite: trim usage: %w", err)
	}
	return nil
}

// Clear implements [usage.Store].
func (s *Store) Clear(ctx context.Context) error {
	err := s.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&UsageRecord{}).Error
	if err != nil {
		return fmt.Errorf("sqlite: clear usage: %w", err)
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
	var rows []Setting
	if err := v.s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("sqlite: load settings: %w", err)
	}
	out := make(map[string]string, len(rows))
	for _, r := range rows {
		out[r.Key] = r.Value
	}
	return out, nil
}

// Save implements [settings.Store].
func (v settingsView) Save(ctx context.Context, kv map[string]string) error {
	if len(kv) == 0 {
		return nil
	}
	rows := make([]Setting, 0, len(kv))
	for k, val := range kv {
		rows = append(rows, Setting{Key: k, Value: val})
	}
	err := v.s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&rows).Error
	if err != nil {
		return fmt.Errorf("sqlite: save settings: %w", err)
	}
	return nil
}
