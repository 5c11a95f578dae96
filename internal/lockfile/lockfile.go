// Package lockfile implements the process-wide run lock. The lock is a
// flock(2)-style file lock; a second basesync process observing the lock
// held exits cleanly rather than erroring.
package lockfile

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// retryInterval is how often acquisition is retried within the wait budget.
const retryInterval = 250 * time.Millisecond

// Lock is a named process-wide lock backed by a lock file.
type Lock struct {
	fl     *flock.Flock
	path   string
	logger *slog.Logger
}

// New creates a Lock at path. The lock file's parent directory is created
// on Acquire.
func New(path string, logger *slog.Logger) *Lock {
	if logger == nil {
		logger = slog.Default()
	}

	return &Lock{fl: flock.New(path), path: path, logger: logger}
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

// Acquire tries to take the lock, retrying until wait elapses. Returns
// (false, nil) when the lock is held elsewhere; another active instance
// is a clean outcome, not an error.
func (l *Lock) Acquire(ctx context.Context, wait time.Duration) (bool, error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return false, fmt.Errorf("lockfile: creating lock directory: %w", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	acquired, err := l.fl.TryLockContext(waitCtx, retryInterval)
	if err != nil {
		// Deadline exhaustion means contention, not failure.
		if waitCtx.Err() != nil && ctx.Err() == nil {
			l.logger.Info("lock held by another process",
				slog.String("path", l.path),
				slog.Duration("waited", wait),
			)

			return false, nil
		}

		return false, fmt.Errorf("lockfile: acquiring %s: %w", l.path, err)
	}

	if acquired {
		l.logger.Debug("lock acquired", slog.String("path", l.path))
	}

	return acquired, nil
}

// Release drops the lock. Safe to call when not held.
func (l *Lock) Release() error {
	if err := l.fl.Unlock(); err != nil {
		return fmt.Errorf("lockfile: releasing %s: %w", l.path, err)
	}

	l.logger.Debug("lock released", slog.String("path", l.path))

	return nil
}
