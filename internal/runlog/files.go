package runlog

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const timestampLayout = "2006-01-02 15.04.05"

// FilePair is the jsonl + plaintext log file couple for one run. Both files
// carry the same name apart from the extension and are renamed together when
// the run finalizes.
type FilePair struct {
	dir      string
	script   string
	scriptID string
	version  string
	env      string
	runID    string
	stamp    time.Time

	jsonl *os.File
	plain *os.File
}

func pairName(script, version, env string, stamp time.Time, status Status, scriptID, runID, ext string) string {
	return fmt.Sprintf("%s — v%s — %s — %s — %s [%s] (%s).%s",
		script, version, env, stamp.Format(timestampLayout), status, scriptID, runID, ext)
}

// CreatePair creates the two log files under dir/<YYYY>/<MM>/ with Running
// status in their names.
func CreatePair(dir, script, version, env, scriptID, runID string, stamp time.Time) (*FilePair, error) {
	sub := filepath.Join(dir, stamp.Format("2006"), stamp.Format("01"))
	if err := os.MkdirAll(sub, 0o755); err != nil {
		return nil, fmt.Errorf("runlog: creating log directory: %w", err)
	}

	p := &FilePair{
		dir:      sub,
		script:   script,
		scriptID: scriptID,
		version:  version,
		env:      env,
		runID:    runID,
		stamp:    stamp,
	}

	var err error

	p.jsonl, err = os.OpenFile(p.path(StatusRunning, "jsonl"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("runlog: creating jsonl log: %w", err)
	}

	p.plain, err = os.OpenFile(p.path(StatusRunning, "log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		p.jsonl.Close()
		os.Remove(p.path(StatusRunning, "jsonl"))

		return nil, fmt.Errorf("runlog: creating plaintext log: %w", err)
	}

	return p, nil
}

func (p *FilePair) path(status Status, ext string) string {
	return filepath.Join(p.dir, pairName(p.script, p.version, p.env, p.stamp, status, p.scriptID, p.runID, ext))
}

// JSONLPath returns the current path of the jsonl file.
func (p *FilePair) JSONLPath() string { return p.path(StatusRunning, "jsonl") }

// WriteJSONL appends one line to the structured log.
func (p *FilePair) WriteJSONL(line []byte) error {
	if _, err := p.jsonl.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("runlog: writing jsonl entry: %w", err)
	}

	return nil
}

// WritePlain appends one line to the plaintext log.
func (p *FilePair) WritePlain(line string) error {
	if _, err := p.plain.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("runlog: writing plaintext entry: %w", err)
	}

	return nil
}

// Finalize syncs and closes both files, then renames them to their final
// status. The two renames either both happen or the first is rolled back, so
// the pair never disagrees on status.
func (p *FilePair) Finalize(status Status) error {
	for _, f := range []*os.File{p.jsonl, p.plain} {
		f.Sync()

		if err := f.Close(); err != nil {
			return fmt.Errorf("runlog: closing log file: %w", err)
		}
	}

	if err := os.Rename(p.path(StatusRunning, "jsonl"), p.path(status, "jsonl")); err != nil {
		return fmt.Errorf("runlog: renaming jsonl log: %w", err)
	}

	if err := os.Rename(p.path(StatusRunning, "log"), p.path(status, "log")); err != nil {
		os.Rename(p.path(status, "jsonl"), p.path(StatusRunning, "jsonl"))

		return fmt.Errorf("runlog: renaming plaintext log: %w", err)
	}

	return nil
}
