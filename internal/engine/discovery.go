package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/basesync/basesync/internal/registry"
	"github.com/basesync/basesync/internal/remote"
)

// Discover enumerates remote databases, refreshes the registry, applies the
// allow/deny lists, and consolidates duplicate folders. Databases that
// cannot be resolved to a data source are dropped with a warning; they must
// never reach a write path through fallback addressing.
func (e *Engine) Discover(ctx context.Context) ([]remote.Database, error) {
	found, err := e.api.SearchDatabases(ctx)
	if err != nil {
		return nil, fmt.Errorf("engine: searching databases: %w", err)
	}

	var databases []remote.Database

	for _, db := range found {
		if db.Archived {
			continue
		}

		if !e.cfg.Allows(db.ID) {
			e.logger.Debug("database excluded by allow/deny lists", slog.String("database", db.ID))
			continue
		}

		dsID, err := e.api.ResolveDataSource(ctx, db.ID)
		if err != nil {
			e.recordWarning(Issue{
				Database:  db.ID,
				Component: "discovery",
				Kind:      classify(err),
				Message:   fmt.Sprintf("no data source resolved, skipping: %v", err),
			})

			continue
		}

		e.caches.dataSourceIDs.Add(db.ID, dsID)

		// Keep a known folder path; ensureFolder turns a display-name
		// change into a rename by comparing against it.
		entry, _ := e.reg.Get(db.ID)
		entry.ID = db.ID
		entry.DisplayName = db.DisplayName()
		entry.LastSeen = e.runStart
		entry.Environment = e.cfg.Environment

		if entry.FolderPath == "" {
			entry.FolderPath = filepath.Join(e.databasesRoot(), normalizeFolderName(db.DisplayName()))
		}

		e.reg.Upsert(entry)

		databases = append(databases, db)
	}

	if err := e.consolidateDuplicates(databases); err != nil {
		return nil, err
	}

	e.logger.Info("discovery complete",
		slog.String("component", "discovery"),
		slog.Int("found", len(found)),
		slog.Int("selected", len(databases)),
	)

	return databases, nil
}

// consolidateDuplicates merges historical race-created duplicates: registry
// rows sharing a display name but differing in id. The survivor is the entry
// whose folder has content; the other folder's files move into it.
func (e *Engine) consolidateDuplicates(databases []remote.Database) error {
	byName := make(map[string][]registry.Entry)
	for _, entry := range e.reg.Entries() {
		byName[entry.DisplayName] = append(byName[entry.DisplayName], entry)
	}

	for name, entries := range byName {
		if len(entries) < 2 {
			continue
		}

		survivor := entries[0]

		for _, candidate := range entries {
			if folderHasContent(candidate.FolderPath) {
				survivor = candidate
				break
			}
		}

		for _, dup := range entries {
			if dup.ID == survivor.ID || dup.FolderPath == survivor.FolderPath {
				continue
			}

			if err := e.mergeFolder(dup.FolderPath, survivor.FolderPath); err != nil {
				return fmt.Errorf("engine: consolidating %q: %w", name, err)
			}

			dup.FolderPath = survivor.FolderPath
			e.reg.Upsert(dup)

			e.recordWarning(Issue{
				Database:  dup.ID,
				Component: "discovery",
				Kind:      KindInvariant,
				Message:   fmt.Sprintf("duplicate folder for %q consolidated into %s", name, survivor.FolderPath),
			})
		}
	}

	return nil
}

// mergeFolder moves every file from src into dst, then removes src. Files
// already present in dst are kept as-is.
func (e *Engine) mergeFolder(src, dst string) error {
	if e.dryRun {
		return nil
	}

	entries, err := os.ReadDir(src)
	if os.IsNotExist(err) {
		return nil
	}

	if err != nil {
		return err
	}

	if err := os.MkdirAll(dst, 0o755); err != nil {
		return err
	}

	for _, entry := range entries {
		from := filepath.Join(src, entry.Name())
		to := filepath.Join(dst, entry.Name())

		if _, err := os.Stat(to); err == nil {
			continue
		}

		if err := os.Rename(from, to); err != nil {
			return err
		}
	}

	return os.RemoveAll(src)
}

// folderHasContent reports whether the folder exists and holds anything
// besides its archive subfolder.
func folderHasContent(path string) bool {
	entries, err := os.ReadDir(path)
	if err != nil {
		return false
	}

	for _, entry := range entries {
		if entry.Name() != archiveDirName {
			return true
		}
	}

	return false
}
