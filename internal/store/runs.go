package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Run sources.
const (
	SourceRun    = "run"
	SourceBench  = "bench"
	SourceServer = "server"
)

// Run records the lifetime of one heap: its configuration, when it started
// and finished, and how much it allocated and freed.
type Run struct {
	ID               int64  `json:"id"`
	RunID            string `json:"run_id"`
	Source           string `json:"source"`
	Owner            string `json:"owner,omitempty"`
	Label            string `json:"label,omitempty"`
	StackCapacity    int    `json:"stack_capacity"`
	InitialThreshold int    `json:"initial_threshold"`
	MaxObjects       int    `json:"max_objects"`
	Status           string `json:"status"`
	StartedAt        int64  `json:"started_at"`
	EndedAt          *int64 `json:"ended_at,omitempty"`
	Allocated        int64  `json:"allocated"`
	Freed            int64  `json:"freed"`
}

const runColumns = `id, run_id, source, owner, COALESCE(label, ''), stack_capacity, initial_threshold, max_objects,
	status, started_at, ended_at, allocated, freed`

func scanRun(row interface{ Scan(...any) error }) (*Run, error) {
	var r Run
	err := row.Scan(&r.ID, &r.RunID, &r.Source, &r.Owner, &r.Label, &r.StackCapacity, &r.InitialThreshold, &r.MaxObjects,
		&r.Status, &r.StartedAt, &r.EndedAt, &r.Allocated, &r.Freed)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// StartRun inserts an active run. RunID and Source are required; Owner names
// the process responsible for finishing it.
func (db *DB) StartRun(r Run) (*Run, error) {
	if r.RunID == "" {
		return nil, fmt.Errorf("start run: run_id required")
	}
	now := time.Now().UnixMilli()
	result, err := db.Exec(`
		INSERT INTO runs (run_id, source, owner, label, stack_capacity, initial_threshold, max_objects, status, started_at)
		VALUES (?, ?, ?, NULLIF(?, ''), ?, ?, ?, 'active', ?)
	`, r.RunID, r.Source, r.Owner, r.Label, r.StackCapacity, r.InitialThreshold, r.MaxObjects, now)
	if err != nil {
		return nil, fmt.Errorf("start run: %w", err)
	}

	id, _ := result.LastInsertId()
	r.ID = id
	r.Status = "active"
	r.StartedAt = now
	r.EndedAt = nil
	return &r, nil
}

// FinishRun closes an active run with the given status and heap totals.
func (db *DB) FinishRun(runID, status string, allocated, freed uint64) error {
	now := time.Now().UnixMilli()
	result, err := db.Exec(`
		UPDATE runs SET status = ?, ended_at = ?, allocated = ?, freed = ?
		WHERE run_id = ? AND status = 'active'
	`, status, now, int64(allocated), int64(freed), runID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("no active run found for %s", runID)
	}
	return nil
}

// GetRun returns a run by its run_id, or nil if there is none.
func (db *DB) GetRun(runID string) (*Run, error) {
	r, err := scanRun(db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE run_id = ?`, runID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// ListRuns returns the most recent runs, newest first.
func (db *DB) ListRuns(limit int) ([]Run, error) {
	rows, err := db.Query(`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// FailStaleRuns marks active runs as failed when alive reports that their
// owner is gone. A run left active by a crashed process can never finish.
func (db *DB) FailStaleRuns(alive func(owner string) bool) (int64, error) {
	owners, err := db.activeOwners()
	if err != nil {
		return 0, err
	}

	var failed int64
	now := time.Now().UnixMilli()
	for _, owner := range owners {
		if alive(owner) {
			continue
		}
		result, err := db.Exec(`
			UPDATE runs SET status = 'failed', ended_at = ?
			WHERE status = 'active' AND owner = ?
		`, now, owner)
		if err != nil {
			return failed, fmt.Errorf("fail stale runs: %w", err)
		}
		n, _ := result.RowsAffected()
		failed += n
	}
	return failed, nil
}

func (db *DB) activeOwners() ([]string, error) {
	rows, err := db.Query(`SELECT DISTINCT owner FROM runs WHERE status = 'active'`)
	if err != nil {
		return nil, fmt.Errorf("list run owners: %w", err)
	}
	defer rows.Close()

	var owners []string
	for rows.Next() {
		var o string
		if err := rows.Scan(&o); err != nil {
			return nil, fmt.Errorf("scan run owner: %w", err)
		}
		owners = append(owners, o)
	}
	return owners, rows.Err()
}
