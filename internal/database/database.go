package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"
)

// DB is the SQLite store for courts, slot state, activities and prices.
type DB struct {
	*sql.DB
	path   string
	logger *zerolog.Logger
}

const defaultBusyTimeout = 5 * time.Second

// qb builds statements for the repositories. SQLite uses "?" placeholders.
var qb = sq.StatementBuilder.PlaceholderFormat(sq.Question)

func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	return Open(path, defaultBusyTimeout, logger)
}

// Open opens the database with a single connection. Write transactions start
// with BEGIN IMMEDIATE so concurrent writers queue on the busy timeout instead
// of failing on lock upgrade.
func Open(path string, busyTimeout time.Duration, logger *zerolog.Logger) (*DB, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	if busyTimeout <= 0 {
		busyTimeout = defaultBusyTimeout
	}

	db, err := sql.Open("sqlite3", dsn(path, busyTimeout))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	logger.Info().Str("path", path).Msg("Database initialized")
	return &DB{DB: db, path: path, logger: logger}, nil
}

func dsn(path string, busyTimeout time.Duration) string {
	params := fmt.Sprintf("_txlock=immediate&_busy_timeout=%d&_foreign_keys=on", busyTimeout.Milliseconds())
	if strings.Contains(path, "?") {
		return path + "&" + params
	}
	return path + "?" + params
}

// Path returns the file the database was opened from.
func (db *DB) Path() string {
	return db.path
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS courts (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            venue_id INTEGER NOT NULL,
            name TEXT NOT NULL,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP
        )`,
		`CREATE TABLE IF NOT EXISTS slot_templates (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            court_id INTEGER NOT NULL REFERENCES courts(id),
            start_time TEXT NOT NULL,
            end_time TEXT NOT NULL,
            UNIQUE(court_id, start_time)
        )`,
		`CREATE TABLE IF NOT EXISTS slot_records (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            slot_template_id INTEGER NOT NULL REFERENCES slot_templates(id),
            booking_date TEXT NOT NULL,
            status TEXT NOT NULL,
            operator_id INTEGER NOT NULL DEFAULT 0,
            operator_source TEXT NOT NULL DEFAULT 'SYSTEM',
            lock_reason TEXT NOT NULL DEFAULT '',
            version INTEGER NOT NULL DEFAULT 1,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL,
            UNIQUE(slot_template_id, booking_date)
        )`,
		`CREATE TABLE IF NOT EXISTS activities (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            court_id INTEGER NOT NULL REFERENCES courts(id),
            venue_id INTEGER NOT NULL,
            organizer_id INTEGER NOT NULL,
            organizer_source TEXT NOT NULL,
            name TEXT NOT NULL,
            booking_date TEXT NOT NULL,
            start_time TEXT NOT NULL,
            end_time TEXT NOT NULL,
            max_participants INTEGER NOT NULL,
            current_participants INTEGER NOT NULL DEFAULT 0,
            unit_price INTEGER NOT NULL DEFAULT 0,
            status TEXT NOT NULL,
            batch_id TEXT NOT NULL,
            created_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS activity_slot_locks (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            activity_id INTEGER NOT NULL REFERENCES activities(id),
            slot_template_id INTEGER NOT NULL REFERENCES slot_templates(id),
            booking_date TEXT NOT NULL,
            batch_id TEXT NOT NULL,
            status TEXT NOT NULL,
            created_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS price_templates (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            venue_id INTEGER NOT NULL,
            name TEXT NOT NULL,
            enabled BOOLEAN NOT NULL DEFAULT 1
        )`,
		`CREATE TABLE IF NOT EXISTS price_periods (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            template_id INTEGER NOT NULL REFERENCES price_templates(id),
            start_time TEXT NOT NULL,
            end_time TEXT NOT NULL,
            weekday_price INTEGER NOT NULL,
            weekend_price INTEGER NOT NULL,
            holiday_price INTEGER NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS price_overrides (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            venue_id INTEGER NOT NULL,
            date TEXT NOT NULL,
            start_time TEXT NOT NULL,
            end_time TEXT NOT NULL,
            price INTEGER NOT NULL,
            enabled BOOLEAN NOT NULL DEFAULT 1
        )`,
		`CREATE TABLE IF NOT EXISTS extra_charge_templates (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            venue_id INTEGER NOT NULL,
            name TEXT NOT NULL,
            level TEXT NOT NULL,
            mode TEXT NOT NULL,
            unit_value REAL NOT NULL,
            court_ids TEXT NOT NULL DEFAULT '',
            enabled BOOLEAN NOT NULL DEFAULT 1
        )`,
		`CREATE TABLE IF NOT EXISTS holidays (
            date TEXT PRIMARY KEY,
            name TEXT NOT NULL DEFAULT ''
        )`,

		`CREATE INDEX IF NOT EXISTS idx_courts_venue ON courts(venue_id)`,
		`CREATE INDEX IF NOT EXISTS idx_slot_records_date ON slot_records(booking_date, status)`,
		`CREATE INDEX IF NOT EXISTS idx_activity_locks_activity ON activity_slot_locks(activity_id)`,
		// at most one active activity per slot and date
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_activity_locks_active
            ON activity_slot_locks(slot_template_id, booking_date) WHERE status = 'ACTIVE'`,
		`CREATE INDEX IF NOT EXISTS idx_price_overrides_venue_date ON price_overrides(venue_id, date)`,
		`CREATE INDEX IF NOT EXISTS idx_extra_charges_venue ON extra_charge_templates(venue_id, level)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

func formatDate(t time.Time) string {
	return t.Format("2006-01-02")
}

func parseDate(s string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid stored date %q: %w", s, err)
	}
	return t, nil
}
