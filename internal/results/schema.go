// Package results persists fit runs and their chains in SQLite.
package results

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS runs (
	id              TEXT PRIMARY KEY,
	status          TEXT NOT NULL,
	components      TEXT NOT NULL DEFAULT '[]',
	parameter_names TEXT NOT NULL DEFAULT '[]',
	spectrum        TEXT NOT NULL DEFAULT '{}',
	checksum        TEXT NOT NULL DEFAULT '',
	walkers         INTEGER NOT NULL,
	iterations      INTEGER NOT NULL,
	burn_in         INTEGER NOT NULL DEFAULT 0,
	seed            INTEGER NOT NULL DEFAULT 0,
	acceptance      REAL NOT NULL DEFAULT 0,
	step            INTEGER NOT NULL DEFAULT 0,
	error           TEXT NOT NULL DEFAULT '',
	created_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS samples (
	run_id  TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	step    INTEGER NOT NULL,
	walker  INTEGER NOT NULL,
	ln_prob REAL NOT NULL,
	params  TEXT NOT NULL,
	PRIMARY KEY (run_id, step, walker)
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);
`

// DB wraps a sql.DB with run and sample operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("results: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("results: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("results: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping checks the database is reachable.
func (db *DB) Ping() error {
	return db.conn.Ping()
}
