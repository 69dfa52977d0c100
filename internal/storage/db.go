package storage

import (
	"database/sql"
	"fmt"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// InitDB initializes a SQLite database connection
func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}

// RunMigrations creates the necessary tables if they don't exist
func RunMigrations(db *sql.DB) error {
	// fetched_at and duration are stored as unix milliseconds
	fetchesTable := `
	CREATE TABLE IF NOT EXISTS fetches (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		request_url TEXT NOT NULL,
		final_url TEXT NOT NULL,
		outcome TEXT NOT NULL,
		upstream_status INTEGER NOT NULL DEFAULT 0,
		response_status INTEGER NOT NULL,
		hops INTEGER NOT NULL DEFAULT 0,
		body_bytes INTEGER NOT NULL DEFAULT 0,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		fetched_at INTEGER NOT NULL
	);`

	if _, err := db.Exec(fetchesTable); err != nil {
		return fmt.Errorf("failed to create fetches table: %w", err)
	}

	// Create index on fetched_at for listing and pruning
	indexQuery := `
	CREATE INDEX IF NOT EXISTS idx_fetches_fetched_at ON fetches(fetched_at DESC);`

	if _, err := db.Exec(indexQuery); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	return nil
}
