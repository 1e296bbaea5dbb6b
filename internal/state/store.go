// Package state manages the SQLite cache that holds the calendar registry and
// the locally cached copy of every synced event.
//
// Only this package may open or query the database. All other packages receive
// a [*Store] and call its methods.
package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS calendars (
    id                    INTEGER PRIMARY KEY AUTOINCREMENT,
    source                TEXT    NOT NULL,
    calendar_id           TEXT    NOT NULL,
    name                  TEXT    NOT NULL,
    description           TEXT    NOT NULL DEFAULT '',
    owner                 TEXT    NOT NULL DEFAULT '',
    color                 TEXT    NOT NULL DEFAULT '#3788D8',
    display_order         INTEGER NOT NULL DEFAULT 0,
    enabled               INTEGER NOT NULL DEFAULT 1,
    can_edit              INTEGER NOT NULL DEFAULT 0,
    is_default            INTEGER NOT NULL DEFAULT 0,
    sync_interval_minutes INTEGER NOT NULL DEFAULT 15,
    sync_past_events      INTEGER NOT NULL DEFAULT 0,
    future_days_to_sync   INTEGER NOT NULL DEFAULT 90,
    last_sync             TEXT    NOT NULL DEFAULT '',
    created_at            TEXT    NOT NULL DEFAULT '',
    updated_at            TEXT    NOT NULL DEFAULT ''
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_calendars_source_calendar ON calendars (source, calendar_id);
CREATE INDEX        IF NOT EXISTS idx_calendars_enabled         ON calendars (enabled);
CREATE INDEX        IF NOT EXISTS idx_calendars_display_order   ON calendars (display_order);

CREATE TABLE IF NOT EXISTS events (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    source          TEXT    NOT NULL,
    provider_key    TEXT    NOT NULL,
    calendar_id     TEXT    NOT NULL,
    title           TEXT    NOT NULL,
    start_utc       TEXT    NOT NULL,
    end_utc         TEXT    NOT NULL,
    all_day         INTEGER NOT NULL DEFAULT 0,
    is_birthday     INTEGER NOT NULL DEFAULT 0,
    is_recurring    INTEGER NOT NULL DEFAULT 0,
    recurrence_rule TEXT    NOT NULL DEFAULT '',
    location        TEXT    NOT NULL DEFAULT '',
    description     TEXT    NOT NULL DEFAULT '',
    organizer       TEXT    NOT NULL DEFAULT '',
    attendees       TEXT    NOT NULL DEFAULT '[]',
    status          INTEGER NOT NULL DEFAULT 0,
    response_status INTEGER,
    content_hash    TEXT    NOT NULL DEFAULT '',
    created_at      TEXT    NOT NULL DEFAULT '',
    updated_at      TEXT    NOT NULL DEFAULT '',
    last_sync       TEXT    NOT NULL DEFAULT '',
    FOREIGN KEY (source, calendar_id) REFERENCES calendars (source, calendar_id)
        ON DELETE CASCADE ON UPDATE CASCADE
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_events_source_key ON events (source, provider_key);
CREATE INDEX        IF NOT EXISTS idx_events_calendar   ON events (source, calendar_id);
CREATE INDEX        IF NOT EXISTS idx_events_start      ON events (start_utc);
CREATE INDEX        IF NOT EXISTS idx_events_range      ON events (start_utc, end_utc);
CREATE INDEX        IF NOT EXISTS idx_events_recurring  ON events (is_recurring);
CREATE INDEX        IF NOT EXISTS idx_events_last_sync  ON events (last_sync);
`

var (
	// ErrPersistence wraps every failure to write the cache. The sync loop
	// treats it as fatal for the current pass and backs off.
	ErrPersistence = errors.New("persistence failure")

	// ErrNotFound is returned by mutations that target a missing row.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateCalendar is returned when (source, calendar_id) is
	// already registered.
	ErrDuplicateCalendar = errors.New("calendar already registered")
)

// Store is the SQLite-backed cache repository.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// DefaultDBPath returns the default path for the cache database:
// ~/.local/share/familywall/cache.db
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "familywall", "cache.db"), nil
}

// Open opens (or creates) the SQLite database at path, applies the schema, and
// configures WAL mode with foreign keys enforced.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening database %q: %w", path, err)
	}

	// Single writer to avoid SQLITE_BUSY under WAL.
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate applies the schema DDL idempotently (CREATE IF NOT EXISTS).
func migrate(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}

// withTx runs fn inside a transaction, committing on success and rolling back
// on any error.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// --- helpers -----------------------------------------------------------------

// scanner matches both *sql.Row and *sql.Rows so the scan helpers can be reused.
type scanner interface {
	Scan(dest ...any) error
}

// timeLayout is fixed-width so stored strings sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Parse(time.RFC3339Nano, s)
	}
	return t, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique
}

func persistence(format string, args ...any) error {
	return fmt.Errorf("%w: %w", ErrPersistence, fmt.Errorf(format, args...))
}
