package engine

import (
	"fmt"
	"time"
)

// DatabaseStatus is the per-database outcome of a run.
type DatabaseStatus string

const (
	StatusOK      DatabaseStatus = "ok"
	StatusSkipped DatabaseStatus = "skipped"
	StatusPartial DatabaseStatus = "partial"
	StatusFailed  DatabaseStatus = "failed"
)

// ExportStats counts the remote-to-table direction of row sync.
type ExportStats struct {
	Read      int `json:"read"`
	Added     int `json:"added"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
}

// UpsertStats counts the table-to-remote direction of row sync.
type UpsertStats struct {
	Created    int `json:"created"`
	Updated    int `json:"updated"`
	Skipped    int `json:"skipped"`
	Conflicted int `json:"conflicted"`
}

// RecordStats counts record file work.
type RecordStats struct {
	Materialized int `json:"materialized"`
	Updated      int `json:"updated"`
	Archived     int `json:"archived"`
}

// DatabaseResult is one database's outcome within a run.
type DatabaseResult struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Status DatabaseStatus `json:"status"`
	Schema SchemaDiff     `json:"schema"`
	Export ExportStats    `json:"export"`
	Upsert UpsertStats    `json:"upsert"`
	Record RecordStats    `json:"records"`
	Err    string         `json:"error,omitempty"`
}

// RunResult is what Run reports back to the caller.
type RunResult struct {
	RunID     string           `json:"runId"`
	Started   time.Time        `json:"started"`
	Finished  time.Time        `json:"finished"`
	LockHeld  bool             `json:"lockHeld"`
	Databases []DatabaseResult `json:"databases"`
	Errors    []Issue          `json:"errors"`
	Warnings  []Issue          `json:"warnings"`
	Failed    bool             `json:"failed"`
}

// Summary renders a one-line human summary for logs and run history.
func (r *RunResult) Summary() string {
	ok, skipped, partial, failed := 0, 0, 0, 0

	for _, db := range r.Databases {
		switch db.Status {
		case StatusOK:
			ok++
		case StatusSkipped:
			skipped++
		case StatusPartial:
			partial++
		case StatusFailed:
			failed++
		}
	}

	return fmt.Sprintf("%d ok, %d skipped, %d partial, %d failed; %d errors, %d warnings",
		ok, skipped, partial, failed, len(r.Errors), len(r.Warnings))
}
