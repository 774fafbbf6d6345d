// Package catalog tracks the scan files under the incoming root in SQLite:
// one row per file whose name parses as a scan identifier and one reject row
// per file that could not be catalogued.
package catalog

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS scans (
	path               TEXT PRIMARY KEY,
	convention         TEXT NOT NULL,
	phantom            INTEGER NOT NULL DEFAULT 0,
	study              TEXT NOT NULL DEFAULT '',
	site               TEXT NOT NULL DEFAULT '',
	subject            TEXT NOT NULL DEFAULT '',
	phantom_kind       TEXT NOT NULL DEFAULT '',
	phantom_index      INTEGER,
	timepoint          TEXT NOT NULL DEFAULT '',
	session            INTEGER,
	tag                TEXT NOT NULL DEFAULT '',
	description        TEXT NOT NULL DEFAULT '',
	series             INTEGER,
	extension          TEXT NOT NULL DEFAULT '',
	label              TEXT NOT NULL DEFAULT '',
	internal_label     TEXT NOT NULL DEFAULT '',
	internal_study     TEXT NOT NULL DEFAULT '',
	internal_subject   TEXT NOT NULL DEFAULT '',
	archive_subject    TEXT NOT NULL DEFAULT '',
	archive_experiment TEXT NOT NULL DEFAULT '',
	checksum           TEXT NOT NULL DEFAULT '',
	size               INTEGER NOT NULL DEFAULT 0,
	ingest_id          TEXT NOT NULL DEFAULT '',
	updated_at         DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_scans_subject ON scans(study, subject);
CREATE INDEX IF NOT EXISTS idx_scans_internal ON scans(internal_study, internal_subject);

CREATE TABLE IF NOT EXISTS rejects (
	path       TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	field      TEXT NOT NULL DEFAULT '',
	message    TEXT NOT NULL DEFAULT '',
	ingest_id  TEXT NOT NULL DEFAULT '',
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// DB wraps a sql.DB with catalog-specific operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("catalog: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("catalog: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("catalog: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Ping reports whether the database is reachable.
func (db *DB) Ping() error {
	return db.conn.Ping()
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
