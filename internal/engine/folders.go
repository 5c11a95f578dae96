package engine

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/basesync/basesync/internal/record"
	"github.com/basesync/basesync/internal/remote"
	"github.com/basesync/basesync/internal/table"
)

// archiveDirName is the per-folder archive subdirectory.
const archiveDirName = ".archive"

// normalizeFolderName derives the on-disk folder name from a database
// display name. The same sanitization as record file names keeps renames
// deterministic.
func normalizeFolderName(displayName string) string {
	return record.SanitizeTitle(displayName)
}

// ensureFolder puts the database's folder in place: creates it on first
// sight, renames it when the display name changed (a rename is a move,
// never delete-then-create), and guarantees the archive subfolder.
func (e *Engine) ensureFolder(db remote.Database) (string, error) {
	want := filepath.Join(e.databasesRoot(), normalizeFolderName(db.DisplayName()))

	if prior, ok := e.reg.Get(db.ID); ok && prior.FolderPath != "" && prior.FolderPath != want {
		if _, err := os.Stat(prior.FolderPath); err == nil {
			if e.dryRun {
				return prior.FolderPath, nil
			}

			if _, err := os.Stat(want); err == nil {
				return "", fmt.Errorf("engine: folder rename target %s already exists", want)
			}

			if err := os.MkdirAll(filepath.Dir(want), 0o755); err != nil {
				return "", fmt.Errorf("engine: preparing folder root: %w", err)
			}

			if err := os.Rename(prior.FolderPath, want); err != nil {
				return "", fmt.Errorf("engine: renaming folder: %w", err)
			}

			e.logger.Info("database folder renamed",
				slog.String("component", "folder"),
				slog.String("from", prior.FolderPath),
				slog.String("to", want),
			)
		}
	}

	if e.dryRun {
		return want, nil
	}

	if err := os.MkdirAll(want, 0o755); err != nil {
		return "", fmt.Errorf("engine: creating folder %s: %w", want, err)
	}

	if err := e.ensureArchive(want); err != nil {
		return "", err
	}

	entry, _ := e.reg.Get(db.ID)
	entry.ID = db.ID
	entry.DisplayName = db.DisplayName()
	entry.FolderPath = want
	entry.LastSeen = e.runStart
	entry.Environment = e.cfg.Environment
	e.reg.Upsert(entry)

	return want, nil
}

// ensureArchive creates the folder's archive subfolder.
func (e *Engine) ensureArchive(folder string) error {
	if e.dryRun {
		return nil
	}

	if err := os.MkdirAll(filepath.Join(folder, archiveDirName), 0o755); err != nil {
		return fmt.Errorf("engine: creating archive subfolder: %w", err)
	}

	return nil
}

// verifyArchive confirms the archive subfolder survived the sync step.
// A missing archive is never silent; it fails the database for this run.
func (e *Engine) verifyArchive(folder string) error {
	if e.dryRun {
		return nil
	}

	info, err := os.Stat(filepath.Join(folder, archiveDirName))
	if err != nil {
		return fmt.Errorf("engine: archive subfolder missing in %s: %w", folder, err)
	}

	if !info.IsDir() {
		return fmt.Errorf("engine: archive path in %s is not a directory", folder)
	}

	return nil
}

// archiveRecordFile moves a record file into the folder's archive,
// preserving its name. Archiving an already-archived or missing file is a
// no-op.
func (e *Engine) archiveRecordFile(folder, fileName string) error {
	if e.dryRun {
		return nil
	}

	src := filepath.Join(folder, fileName)
	if _, err := os.Stat(src); errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	if err := e.ensureArchive(folder); err != nil {
		return err
	}

	dst := filepath.Join(folder, archiveDirName, fileName)

	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("engine: archiving %s: %w", fileName, err)
	}

	return nil
}

// snapshotTable copies the current canonical table into the archive with a
// timestamped name, preserving removed rows for later inspection.
func (e *Engine) snapshotTable(folder string) error {
	if e.dryRun {
		return nil
	}

	data, err := os.ReadFile(filepath.Join(folder, table.FileName))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("engine: reading table for snapshot: %w", err)
	}

	if err := e.ensureArchive(folder); err != nil {
		return err
	}

	name := fmt.Sprintf("table-%s.csv", e.runStart.Format("20060102-150405"))

	if err := os.WriteFile(filepath.Join(folder, archiveDirName, name), data, 0o644); err != nil {
		return fmt.Errorf("engine: writing table snapshot: %w", err)
	}

	return nil
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
