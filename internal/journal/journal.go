// Package journal persists the engine's transition history to SQLite so
// operators can tell after the fact which VPN was switched on, when, and
// why an activation was abandoned.
package journal

import (
	"database/sql"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// Event names recorded by the engine.
const (
	EventActivated   = "activated"
	EventDeactivated = "deactivated"
	EventFailure     = "failure"
)

// Entry is one recorded transition.
type Entry struct {
	ID      int64     `json:"id"`
	At      time.Time `json:"at"`
	Event   string    `json:"event"`
	Profile string    `json:"profile"`
	Detail  string    `json:"detail,omitempty"`
}

const schema = `
CREATE TABLE IF NOT EXISTS transitions (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	at      INTEGER NOT NULL,
	event   TEXT NOT NULL,
	profile TEXT NOT NULL,
	detail  TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_transitions_at ON transitions(at);
`

// Journal is the SQLite-backed transition log.
type Journal struct {
	db *sql.DB
}

// Open opens (or creates) the journal database at path and applies the
// schema. Use ":memory:" in tests.
func Open(path string) (*Journal, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// A single writer connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	return &Journal{db: db}, nil
}

// Record appends one transition.
func (j *Journal) Record(event, profile, detail string) error {
	_, err := j.db.Exec(
		`INSERT INTO transitions (at, event, profile, detail) VALUES (?, ?, ?, ?)`,
		time.Now().UTC().Unix(), event, profile, detail,
	)
	return err
}

// Recent returns the newest limit entries, newest first.
func (j *Journal) Recent(limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.Query(
		`SELECT id, at, event, profile, detail FROM transitions ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var at int64
		if err := rows.Scan(&e.ID, &at, &e.Event, &e.Profile, &e.Detail); err != nil {
			return nil, err
		}
		e.At = time.Unix(at, 0).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// Cleanup prunes entries older than seven days.
func (j *Journal) Cleanup() error {
	return j.cleanupBefore(time.Now().UTC())
}

func (j *Journal) cleanupBefore(now time.Time) error {
	cutoff := now.Add(-7 * 24 * time.Hour).Unix()
	_, err := j.db.Exec(`DELETE FROM transitions WHERE at < ?`, cutoff)
	return err
}

func (j *Journal) Close() error { return j.db.Close() }
