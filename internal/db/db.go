// Package db is the SQLite persistence layer: reservations, the action log,
// and the cabin and requester catalogue.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"
)

// tsLayout sorts lexicographically in UTC.
const tsLayout = "2006-01-02 15:04:05.000000000"

// DB wraps the SQLite handle.
type DB struct {
	*sql.DB
	path   string
	logger zerolog.Logger
	now    func() time.Time
}

// Open creates the database file if needed and applies the schema.
// Write transactions take the lock at BEGIN so check-and-insert runs serialized.
func Open(path string, logger zerolog.Logger) (*DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := "file:" + path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_txlock=immediate&_foreign_keys=on"
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	db := &DB{
		DB:     sqlDB,
		path:   path,
		logger: logger.With().Str("component", "db").Logger(),
		now:    time.Now,
	}
	if err := db.migrate(context.Background()); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	db.logger.Info().Str("path", path).Msg("database initialized")
	return db, nil
}

// Path is the database file location.
func (db *DB) Path() string { return db.path }

var schema = []string{
	`CREATE TABLE IF NOT EXISTS cabins (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		capacity INTEGER NOT NULL DEFAULT 1,
		access TEXT NOT NULL DEFAULT 'general',
		status TEXT NOT NULL DEFAULT 'active',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS requesters (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		privilege TEXT NOT NULL DEFAULT 'normal',
		active INTEGER NOT NULL DEFAULT 1,
		chat_id INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS reservations (
		id TEXT PRIMARY KEY,
		requester_id INTEGER NOT NULL,
		cabin_id INTEGER NOT NULL,
		date TEXT NOT NULL,
		start_min INTEGER NOT NULL,
		end_min INTEGER NOT NULL,
		purpose TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT 'single',
		status TEXT NOT NULL,
		priority TEXT NOT NULL,
		approved_by INTEGER,
		approved_at TEXT,
		rejected_by INTEGER,
		rejected_at TEXT,
		rejection_reason TEXT NOT NULL DEFAULT '',
		cancelled_by INTEGER,
		cancelled_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		CHECK (start_min < end_min)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_reservations_slot ON reservations(cabin_id, date, status)`,
	`CREATE INDEX IF NOT EXISTS idx_reservations_status ON reservations(status)`,
	`CREATE INDEX IF NOT EXISTS idx_reservations_requester ON reservations(requester_id, date)`,
	`CREATE INDEX IF NOT EXISTS idx_reservations_created ON reservations(created_at, id)`,
	`CREATE TABLE IF NOT EXISTS reservation_actions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		reservation_id TEXT NOT NULL,
		action TEXT NOT NULL,
		actor_id INTEGER NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		old_cabin_id INTEGER NOT NULL DEFAULT 0,
		new_cabin_id INTEGER NOT NULL DEFAULT 0,
		at TEXT NOT NULL,
		FOREIGN KEY (reservation_id) REFERENCES reservations(id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_actions_reservation ON reservation_actions(reservation_id, id)`,
}

// columnMigrations upgrade databases created before a column existed.
var columnMigrations = []string{
	`ALTER TABLE reservations ADD COLUMN category TEXT NOT NULL DEFAULT 'single'`,
	`ALTER TABLE requesters ADD COLUMN chat_id INTEGER NOT NULL DEFAULT 0`,
}

func (db *DB) migrate(ctx context.Context) error {
	for _, q := range schema {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	for _, m := range columnMigrations {
		if _, err := db.ExecContext(ctx, m); err != nil {
			if strings.Contains(strings.ToLower(err.Error()), "duplicate column") {
				continue
			}
			return fmt.Errorf("apply %q: %w", m, err)
		}
	}
	return nil
}

func formatTS(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func parseTS(s string) (time.Time, error) {
	t, err := time.ParseInLocation(tsLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func nullTS(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTS(*t), Valid: true}
}

func nullID(id *int64) sql.NullInt64 {
	if id == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *id, Valid: true}
}

func fromNullTS(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTS(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func fromNullID(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}
