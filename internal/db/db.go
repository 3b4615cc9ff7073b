// Package db provides database connection management and operations.
package db

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// DB wraps the sql.DB with GymNexus-specific configuration.
type DB struct {
	*sql.DB
	Path string
}

// Options tunes a database opened with Open.
type Options struct {
	// MaxPageCount caps the database size in pages (0 = unlimited).
	// Writes beyond the cap fail with SQLITE_FULL, surfaced as a quota error.
	MaxPageCount int64

	// BusyTimeoutMillis is how long a writer waits for a lock.
	BusyTimeoutMillis int
}

// Open opens the SQLite database dataDir/name.db.
// The database is opened with:
// - WAL mode for concurrent reads during writes and crash safety
// - synchronous=NORMAL, durable across process crashes in WAL mode
// - Foreign key constraints enabled
func Open(dataDir, name string, opts Options) (*DB, error) {
	// Ensure data directory exists
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, name+".db")

	// Open database with modernc.org/sqlite (pure Go, no CGO)
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite doesn't support multiple writers; one connection also gives
	// every caller read-your-writes.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := opts.BusyTimeoutMillis
	if busy <= 0 {
		busy = 5000
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		fmt.Sprintf("PRAGMA busy_timeout=%d;", busy),
	}
	if opts.MaxPageCount > 0 {
		pragmas = append(pragmas, fmt.Sprintf("PRAGMA max_page_count=%d;", opts.MaxPageCount))
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	return &DB{DB: db, Path: dbPath}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.DB.Close()
}

// IsQuotaError reports whether err is SQLite running out of space, either
// the disk or the configured max_page_count.
func IsQuotaError(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code()&0xff == sqlite3.SQLITE_FULL
}
