package internal

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const journalSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	id              TEXT PRIMARY KEY,
	user_id         TEXT NOT NULL,
	topic           TEXT NOT NULL,
	state           TEXT NOT NULL,
	elapsed_seconds INTEGER NOT NULL DEFAULT 0,
	chunks_accepted INTEGER NOT NULL DEFAULT 0,
	started_at      INTEGER NOT NULL,
	ended_at        INTEGER
);
CREATE TABLE IF NOT EXISTS turns (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id  TEXT NOT NULL,
	role        TEXT NOT NULL,
	content     TEXT NOT NULL,
	inserted_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS chunks (
	id          TEXT PRIMARY KEY,
	session_id  TEXT NOT NULL,
	sequence    INTEGER NOT NULL,
	raw_size    INTEGER NOT NULL,
	accepted    INTEGER NOT NULL,
	uploaded_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id);
CREATE INDEX IF NOT EXISTS idx_chunks_session ON chunks(session_id);
`

// OpenDatabase opens (creating if needed) the SQLite journal at path and
// applies the schema. Use ":memory:" for a throwaway journal.
func OpenDatabase(path string) (*sql.DB, error) {
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, &JournalError{Op: "open", Path: path, Err: err}
		}
		dsn = path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, &JournalError{Op: "open", Path: path, Err: err}
	}
	// Writes arrive from timer and upload goroutines; one connection
	// serializes them and keeps an in-memory database shared.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, &JournalError{Op: "open", Path: path, Err: fmt.Errorf("database ping failed: %w", err)}
	}

	if err := Migrate(db); err != nil {
		db.Close()
		return nil, &JournalError{Op: "migrate", Path: path, Err: err}
	}

	return db, nil
}

// Migrate creates the journal tables if they do not exist
func Migrate(db *sql.DB) error {
	_, err := db.Exec(journalSchema)
	return err
}
