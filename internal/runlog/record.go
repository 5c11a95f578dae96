// Package runlog emits one execution record per run in three forms: a
// structured jsonl file, a plaintext log file, and a remote execution page.
// The on-disk pair is created with Running status names and renamed together
// at finalization; the rename is the authoritative outcome marker.
package runlog

import "time"

// Status is the lifecycle state of a run, embedded in log file names and
// written to the execution page.
type Status string

const (
	StatusRunning   Status = "Running"
	StatusCompleted Status = "Completed"
	StatusFailed    Status = "Failed"
)

// Record is the final summary entry of a run. It is appended to the jsonl
// file as the last line and mirrored to the execution page at finalization.
type Record struct {
	RunID           string             `json:"runId"`
	ScriptName      string             `json:"scriptName"`
	ScriptID        string             `json:"scriptId"`
	Environment     string             `json:"environment"`
	StartTime       time.Time          `json:"startTime"`
	EndTime         time.Time          `json:"endTime"`
	Status          Status             `json:"status"`
	DurationSeconds float64            `json:"durationSeconds"`
	Steps           []Step             `json:"steps"`
	Errors          []string           `json:"errors"`
	Warnings        []string           `json:"warnings"`
	Summary         string             `json:"summary"`
	Metrics         map[string]float64 `json:"performanceMetrics,omitempty"`
}

// Step is one named phase of the run with its outcome.
type Step struct {
	Name    string  `json:"name"`
	Status  string  `json:"status"`
	Seconds float64 `json:"seconds"`
	Detail  string  `json:"detail,omitempty"`
}

// Entry is one structured log line in the jsonl file.
type Entry struct {
	RunID     string         `json:"runId"`
	Timestamp time.Time      `json:"timestamp"`
	Level     string         `json:"level"`
	Component string         `json:"component"`
	Message   string         `json:"message"`
	Context   map[string]any `json:"context,omitempty"`
}
