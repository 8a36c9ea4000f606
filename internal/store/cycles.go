package store

import (
	"fmt"
	"time"
)

// Cycle is one persisted collection cycle.
type Cycle struct {
	ID         int64  `json:"id"`
	RunID      string `json:"run_id"`
	Seq        int    `json:"seq"`
	Trigger    string `json:"trigger"`
	LiveBefore int    `json:"live_before"`
	Marked     int    `json:"marked"`
	Freed      int    `json:"freed"`
	Remaining  int    `json:"remaining"`
	Threshold  int    `json:"threshold"`
	DurationNS int64  `json:"duration_ns"`
	CreatedAt  int64  `json:"created_at"`
}

// CycleSummary aggregates the cycles of a run.
type CycleSummary struct {
	Count         int   `json:"count"`
	Freed         int64 `json:"freed"`
	MaxLiveBefore int   `json:"max_live_before"`
	TotalNS       int64 `json:"total_ns"`
}

// AddCycle records a collection cycle for a run.
func (db *DB) AddCycle(c Cycle) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO cycles (run_id, seq, trigger_kind, live_before, marked, freed, remaining, threshold, duration_ns, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.RunID, c.Seq, c.Trigger, c.LiveBefore, c.Marked, c.Freed, c.Remaining, c.Threshold, c.DurationNS, now)
	if err != nil {
		return fmt.Errorf("add cycle: %w", err)
	}
	return nil
}

// AddCycles records a batch of cycles in one transaction.
func (db *DB) AddCycles(cycles []Cycle) error {
	if len(cycles) == 0 {
		return nil
	}
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("add cycles: %w", err)
	}
	stmt, err := tx.Prepare(`
		INSERT INTO cycles (run_id, seq, trigger_kind, live_before, marked, freed, remaining, threshold, duration_ns, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("add cycles: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UnixMilli()
	for _, c := range cycles {
		if _, err := stmt.Exec(c.RunID, c.Seq, c.Trigger, c.LiveBefore, c.Marked, c.Freed,
			c.Remaining, c.Threshold, c.DurationNS, now); err != nil {
			tx.Rollback()
			return fmt.Errorf("add cycle %d of %s: %w", c.Seq, c.RunID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("add cycles: %w", err)
	}
	return nil
}

// GetCycles returns the cycles of a run in sequence order.
func (db *DB) GetCycles(runID string) ([]Cycle, error) {
	rows, err := db.Query(`
		SELECT id, run_id, seq, trigger_kind, live_before, marked, freed, remaining, threshold, duration_ns, created_at
		FROM cycles WHERE run_id = ? ORDER BY seq
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("get cycles: %w", err)
	}
	defer rows.Close()

	var cycles []Cycle
	for rows.Next() {
		var c Cycle
		if err := rows.Scan(&c.ID, &c.RunID, &c.Seq, &c.Trigger, &c.LiveBefore, &c.Marked, &c.Freed,
			&c.Remaining, &c.Threshold, &c.DurationNS, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan cycle: %w", err)
		}
		cycles = append(cycles, c)
	}
	return cycles, rows.Err()
}

// SummarizeCycles returns totals over the cycles of a run.
func (db *DB) SummarizeCycles(runID string) (CycleSummary, error) {
	var s CycleSummary
	err := db.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(freed), 0), COALESCE(MAX(live_before), 0), COALESCE(SUM(duration_ns), 0)
		FROM cycles WHERE run_id = ?
	`, runID).Scan(&s.Count, &s.Freed, &s.MaxLiveBefore, &s.TotalNS)
	if err != nil {
		return CycleSummary{}, fmt.Errorf("summarize cycles: %w", err)
	}
	return s, nil
}
