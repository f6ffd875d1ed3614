package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Run statuses.
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// StartRun records the start of a batch run.
func (s *SQLiteStore) StartRun(ctx context.Context, r *Run) error {
	if r.RunID == "" {
		return fmt.Errorf("run id cannot be empty")
	}
	dryRun := 0
	if r.DryRun {
		dryRun = 1
	}
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, command, source, dry_run, status) VALUES (?, ?, ?, ?, ?)`,
		r.RunID, r.Command, r.Source, dryRun, RunRunning,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("run %q already exists", r.RunID)
		}
		return fmt.Errorf("recording run start: %w", err)
	}
	r.ID, _ = result.LastInsertId()
	r.Status = RunRunning
	return nil
}

// FinishRun records the outcome of a run. A nil runErr marks it completed.
func (s *SQLiteStore) FinishRun(ctx context.Context, runID string, counts map[string]int, runErr error) error {
	if counts == nil {
		counts = map[string]int{}
	}
	b, err := json.Marshal(counts)
	if err != nil {
		return fmt.Errorf("encoding run counts: %w", err)
	}
	status, msg := RunCompleted, ""
	if runErr != nil {
		status, msg = RunFailed, runErr.Error()
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE runs
		 SET status = ?,
		     counts = ?,
		     error = ?,
		     finished_at = CURRENT_TIMESTAMP
		 WHERE run_id = ?`,
		status, string(b), msg, runID,
	)
	if err != nil {
		return fmt.Errorf("recording run finish: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("run %q: %w", runID, ErrNotFound)
	}
	return nil
}

// ListRuns returns the most recent runs first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, command, source, dry_run, status, counts, error, started_at, finished_at
		 FROM runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		var r Run
		var dryRun int
		var counts string
		var finishedAt sql.NullTime
		if err := rows.Scan(&r.ID, &r.RunID, &r.Command, &r.Source, &dryRun, &r.Status,
			&counts, &r.Error, &r.StartedAt, &finishedAt); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		r.DryRun = dryRun == 1
		r.Counts = map[string]int{}
		json.Unmarshal([]byte(counts), &r.Counts)
		if finishedAt.Valid {
			t := finishedAt.Time
			r.FinishedAt = &t
		}
		runs = append(runs, &r)
	}
	return runs, rows.Err()
}

// Duration returns how long a finished run took, or zero.
func (r *Run) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
