package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DB is the run and cycle history. Path is the file it was opened from, or
// ":memory:".
type DB struct {
	*sql.DB
	Path string
}

// DefaultDBPath returns ~/.marksweep/marksweep.db.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".marksweep", "marksweep.db"), nil
}

// Open opens the history database at path, creating the file and its
// directory if needed, and brings the schema up to date.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	return open(path, 0)
}

// OpenMemory opens a private in-memory database, used by tests.
func OpenMemory() (*DB, error) {
	// Each connection to :memory: sees its own empty database.
	return open(":memory:", 1)
}

func open(path string, maxConns int) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if maxConns > 0 {
		sqlDB.SetMaxOpenConns(maxConns)
	}

	db := &DB{DB: sqlDB, Path: path}
	if err := db.setup(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// setup applies connection settings and pending migrations.
func (db *DB) setup() error {
	settings := []string{
		// Servers write cycles while CLI runs read history.
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		// cycles.run_id cascades from runs.
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, s := range settings {
		if _, err := db.Exec(s); err != nil {
			return fmt.Errorf("%s: %w", s, err)
		}
	}
	if err := db.migrate(); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
