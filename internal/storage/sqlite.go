package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens (and creates if needed) the SQLite database at path and
// ensures required tables exist.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if path != ":memory:" {
		if err := CheckLocalFilesystem(path); err != nil {
			return nil, err
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if path == ":memory:" {
		// Every pooled connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}

	// Basic health check + apply a few safe pragmas.
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(pctx, "PRAGMA foreign_keys = ON;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign_keys: %w", err)
	}
	if _, err := db.ExecContext(pctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}
	if err := BootstrapSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// BootstrapSQLite creates tables/indexes if missing.
func BootstrapSQLite(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS invocation_log (
  id            TEXT PRIMARY KEY,
  command_id    TEXT NOT NULL,
  method        TEXT NOT NULL,
  remote_addr   TEXT,
  params        JSON NOT NULL DEFAULT '{}',
  has_body      INTEGER NOT NULL DEFAULT 0,
  args          JSON NOT NULL DEFAULT '[]',
  status        TEXT NOT NULL,
  exit_code     INTEGER,
  selected      TEXT NOT NULL,
  content_type  TEXT NOT NULL,
  summary       TEXT NOT NULL,
  stderr        TEXT,
  spawn_error   TEXT,
  truncated     INTEGER NOT NULL DEFAULT 0,
  started_at    TEXT NOT NULL,
  completed_at  TEXT NOT NULL,
  duration_ms   INTEGER NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS invocation_log_started_at_idx ON invocation_log(started_at);`,
		`CREATE INDEX IF NOT EXISTS invocation_log_command_started_at_idx ON invocation_log(command_id, started_at);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}
