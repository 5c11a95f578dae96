package state

import (
	"context"
	"fmt"
	"time"
)

// Run is one completed engine run, recorded after finalization.
type Run struct {
	RunID       string
	ScriptName  string
	Environment string
	StartedAt   time.Time
	FinishedAt  time.Time
	Status      string // "Completed" or "Failed"
	Summary     string
}

// InsertRun stores a finished run.
func (s *Store) InsertRun(ctx context.Context, r Run) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, script_name, environment, started_at, finished_at, status, summary)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.ScriptName, r.Environment,
		r.StartedAt.UTC().Format(time.RFC3339Nano),
		r.FinishedAt.UTC().Format(time.RFC3339Nano),
		r.Status, r.Summary,
	)
	if err != nil {
		return fmt.Errorf("state: recording run %s: %w", r.RunID, err)
	}

	return nil
}

// ListRuns returns the most recent runs, newest first, up to limit.
// A non-positive limit returns everything.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	query := `
		SELECT run_id, script_name, environment, started_at, finished_at, status, summary
		FROM runs ORDER BY started_at DESC, run_id`

	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("state: listing runs: %w", err)
	}
	defer rows.Close()

	var out []Run

	for rows.Next() {
		var (
			r                 Run
			started, finished string
		)

		if err := rows.Scan(&r.RunID, &r.ScriptName, &r.Environment, &started, &finished, &r.Status, &r.Summary); err != nil {
			return nil, fmt.Errorf("state: scanning run: %w", err)
		}

		if r.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
			return nil, fmt.Errorf("state: run %s: bad started_at %q: %w", r.RunID, started, err)
		}

		if r.FinishedAt, err = time.Parse(time.RFC3339Nano, finished); err != nil {
			return nil, fmt.Errorf("state: run %s: bad finished_at %q: %w", r.RunID, finished, err)
		}

		out = append(out, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("state: listing runs: %w", err)
	}

	return out, nil
}
