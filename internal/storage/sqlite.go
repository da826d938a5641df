package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens (and creates if needed) the SQLite database at path and
// ensures the work item tables exist. The path must be on a local
// filesystem where the platform can tell.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if path != ":memory:" {
		if err := CheckLocalPath(path, "server.state.path"); err != nil && !errors.Is(err, ErrDetectionUnsupported) {
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
	// One writer keeps reserve/release transactions from tripping SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON;",
		"PRAGMA busy_timeout = 5000;",
		"PRAGMA journal_mode = WAL;",
	} {
		if _, err := db.ExecContext(pctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
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
		`CREATE TABLE IF NOT EXISTS work_items (
  id                TEXT PRIMARY KEY,
  workspace         TEXT NOT NULL,
  kind              TEXT NOT NULL,
  parent_id         TEXT REFERENCES work_items(id) ON DELETE CASCADE,
  payload           JSON NOT NULL DEFAULT '{}',
  status            TEXT NOT NULL,
  run_id            TEXT,
  exception_type    TEXT,
  exception_code    TEXT,
  exception_message TEXT,
  created_at        TEXT NOT NULL,
  reserved_at       TEXT,
  released_at       TEXT,
  updated_at        TEXT NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS work_item_files (
  item_id    TEXT NOT NULL REFERENCES work_items(id) ON DELETE CASCADE,
  name       TEXT NOT NULL,
  size       INTEGER NOT NULL,
  digest     TEXT NOT NULL,
  created_at TEXT NOT NULL,
  PRIMARY KEY (item_id, name)
);`,
		`CREATE TABLE IF NOT EXISTS work_item_log (
  id                TEXT PRIMARY KEY,
  item_id           TEXT NOT NULL,
  workspace         TEXT NOT NULL,
  run_id            TEXT,
  state             TEXT NOT NULL,
  exception_type    TEXT,
  exception_code    TEXT,
  exception_message TEXT,
  reserved_at       TEXT,
  released_at       TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS work_items_workspace_status_idx ON work_items(workspace, kind, status, created_at);`,
		`CREATE INDEX IF NOT EXISTS work_items_parent_idx ON work_items(parent_id);`,
		`CREATE INDEX IF NOT EXISTS work_item_log_item_idx ON work_item_log(item_id);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}
