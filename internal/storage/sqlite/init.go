package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

// DefaultPath is used when no database path is configured.
const DefaultPath = "jellygrab.db"

// InitDB opens the SQLite database at path and creates the history table if it doesn't exist.
func InitDB(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		path = DefaultPath
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// one writer at a time keeps sqlite from returning SQLITE_BUSY under load
	db.SetMaxOpenConns(1)

	_, err = db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS download_history (
		id INTEGER PRIMARY KEY,
		item_id TEXT NOT NULL,
		filename TEXT,
		path TEXT,
		state TEXT NOT NULL,
		total_bytes INTEGER DEFAULT 0,
		downloaded_bytes INTEGER DEFAULT 0,
		error TEXT,
		instance_id TEXT,
		finished_at TEXT NOT NULL
	)`)
	if err != nil {
		db.Close()

		return nil, fmt.Errorf("failed to create download_history table: %w", err)
	}

	if _, err := db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_download_history_finished_at ON download_history (finished_at)`); err != nil {
		db.Close()

		return nil, fmt.Errorf("failed to create download_history index: %w", err)
	}

	return db, nil
}

// timeLayout is fixed-width so that string comparison in SQL orders correctly.
const timeLayout = "2006-01-02T15:04:05.000000000Z"
