package store

import (
	"fmt"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "runs: one row per heap lifetime",
		SQL: `
CREATE TABLE runs (
    id                INTEGER PRIMARY KEY,
    run_id            TEXT NOT NULL UNIQUE,
    source            TEXT NOT NULL CHECK (source IN ('run', 'bench', 'server')),
    label             TEXT,

    -- Heap configuration
    stack_capacity    INTEGER NOT NULL,
    initial_threshold INTEGER NOT NULL,
    max_objects       INTEGER NOT NULL DEFAULT 0,

    status            TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'completed', 'failed')),
    started_at        INTEGER NOT NULL,
    ended_at          INTEGER,

    -- Totals at finish
    allocated         INTEGER NOT NULL DEFAULT 0,
    freed             INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX idx_runs_started_at ON runs(started_at DESC);
CREATE INDEX idx_runs_status     ON runs(status);
`,
	},
	{
		Version:     2,
		Description: "cycles: one row per collection cycle",
		SQL: `
CREATE TABLE cycles (
    id           INTEGER PRIMARY KEY,
    run_id       TEXT NOT NULL,
    seq          INTEGER NOT NULL,
    trigger_kind TEXT NOT NULL CHECK (trigger_kind IN ('allocation', 'explicit', 'teardown')),
    live_before  INTEGER NOT NULL,
    marked       INTEGER NOT NULL,
    freed        INTEGER NOT NULL,
    remaining    INTEGER NOT NULL,
    threshold    INTEGER NOT NULL,
    duration_ns  INTEGER NOT NULL,
    created_at   INTEGER NOT NULL,

    UNIQUE (run_id, seq),
    FOREIGN KEY (run_id) REFERENCES runs(run_id) ON DELETE CASCADE
);

CREATE INDEX idx_cycles_run ON cycles(run_id);
`,
	},
	{
		Version:     3,
		Description: "runs.owner: process that must finish an active run",
		SQL: `
ALTER TABLE runs ADD COLUMN owner TEXT NOT NULL DEFAULT '';

CREATE INDEX idx_runs_owner ON runs(owner) WHERE status = 'active';
`,
	},
}

// migrate applies every migration newer than the recorded schema version,
// each in its own transaction.
func (db *DB) migrate() error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_versions (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now') * 1000)
		)
	`); err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	current, err := db.SchemaVersion()
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		if err := db.apply(m); err != nil {
			return err
		}
	}
	return nil
}

func (db *DB) apply(m migration) (err error) {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin migration %d: %w", m.Version, err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.Exec(m.SQL); err != nil {
		return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
	}
	if _, err = tx.Exec(`INSERT INTO schema_versions (version, description) VALUES (?, ?)`,
		m.Version, m.Description); err != nil {
		return fmt.Errorf("record migration %d: %w", m.Version, err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %d: %w", m.Version, err)
	}
	return nil
}

// SchemaVersion returns the current schema version.
func (db *DB) SchemaVersion() (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&version)
	return version, err
}
