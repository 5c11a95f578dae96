// Package registry maintains the registry workbook: one row per known
// remote database, plus run metadata on a separate sheet. The workbook is
// the only cross-run index the engine keeps next to the content itself.
package registry

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/xuri/excelize/v2"
)

// FileName is the workbook file inside an environment subtree.
const FileName = "registry.xlsx"

// Sheet and cell layout.
const (
	databasesSheet = "Databases"
	metaSheet      = "Meta"

	rotationKey = "rotationPointer"
)

var databaseHeaders = []string{"id", "displayName", "folderPath", "lastSeen", "environment"}

// Entry is one registry row. Rows are unique by ID.
type Entry struct {
	ID          string
	DisplayName string
	FolderPath  string
	LastSeen    time.Time
	Environment string
}

// Registry is the in-memory form of the workbook. Mutations accumulate in
// memory; Save writes the whole workbook atomically.
type Registry struct {
	path     string
	logger   *slog.Logger
	entries  map[string]Entry
	rotation string
}

// Open loads the workbook at path, or returns an empty registry when the
// file does not exist yet.
func Open(path string, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}

	r := &Registry{path: path, logger: logger, entries: make(map[string]Entry)}

	f, err := excelize.OpenFile(path)
	if os.IsNotExist(err) {
		logger.Debug("registry workbook absent, starting empty", slog.String("path", path))
		return r, nil
	}

	if err != nil {
		return nil, fmt.Errorf("registry: opening %s: %w", path, err)
	}
	defer f.Close()

	if err := r.loadDatabases(f); err != nil {
		return nil, err
	}

	if err := r.loadMeta(f); err != nil {
		return nil, err
	}

	return r, nil
}

func (r *Registry) loadDatabases(f *excelize.File) error {
	rows, err := f.GetRows(databasesSheet)
	if err != nil {
		// Sheet missing in a hand-made workbook: treat as empty.
		r.logger.Warn("registry missing Databases sheet", slog.String("path", r.path))
		return nil
	}

	for i, row := range rows {
		if i == 0 || len(row) == 0 || row[0] == "" {
			continue
		}

		e := Entry{ID: row[0]}

		if len(row) > 1 {
			e.DisplayName = row[1]
		}

		if len(row) > 2 {
			e.FolderPath = row[2]
		}

		if len(row) > 3 && row[3] != "" {
			ts, parseErr := time.Parse(time.RFC3339, row[3])
			if parseErr != nil {
				return fmt.Errorf("registry: row %d: bad lastSeen %q: %w", i+1, row[3], parseErr)
			}

			e.LastSeen = ts
		}

		if len(row) > 4 {
			e.Environment = row[4]
		}

		// Last writer wins on duplicate ids; Save restores uniqueness.
		r.entries[e.ID] = e
	}

	return nil
}

func (r *Registry) loadMeta(f *excelize.File) error {
	rows, err := f.GetRows(metaSheet)
	if err != nil {
		return nil
	}

	for _, row := range rows {
		if len(row) >= 2 && row[0] == rotationKey {
			r.rotation = row[1]
		}
	}

	return nil
}

// Get returns the entry for a database id.
func (r *Registry) Get(id string) (Entry, bool) {
	e, ok := r.entries[id]
	return e, ok
}

// Entries returns all rows sorted by id.
func (r *Registry) Entries() []Entry {
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out
}

// Upsert inserts or replaces the entry with e.ID.
func (r *Registry) Upsert(e Entry) {
	r.entries[e.ID] = e
}

// Remove deletes the entry for id. Returns true if it existed.
func (r *Registry) Remove(id string) bool {
	_, ok := r.entries[id]
	delete(r.entries, id)

	return ok
}

// RotationPointer returns the id of the database the round-robin order
// starts after, persisted across runs.
func (r *Registry) RotationPointer() string { return r.rotation }

// SetRotationPointer records where the next run's rotation resumes.
func (r *Registry) SetRotationPointer(id string) { r.rotation = id }

// Save writes the workbook atomically: build in memory, write to a temp
// file, rename over the target.
func (r *Registry) Save() error {
	f := excelize.NewFile()
	defer f.Close()

	// excelize starts with "Sheet1"; rename it to our first sheet.
	if err := f.SetSheetName("Sheet1", databasesSheet); err != nil {
		return fmt.Errorf("registry: naming sheet: %w", err)
	}

	if err := f.SetSheetRow(databasesSheet, "A1", &databaseHeaders); err != nil {
		return fmt.Errorf("registry: writing header: %w", err)
	}

	for i, e := range r.Entries() {
		cell := fmt.Sprintf("A%d", i+2)
		row := []any{e.ID, e.DisplayName, e.FolderPath, formatLastSeen(e.LastSeen), e.Environment}

		if err := f.SetSheetRow(databasesSheet, cell, &row); err != nil {
			return fmt.Errorf("registry: writing row for %s: %w", e.ID, err)
		}
	}

	if _, err := f.NewSheet(metaSheet); err != nil {
		return fmt.Errorf("registry: creating meta sheet: %w", err)
	}

	metaRow := []any{rotationKey, r.rotation}
	if err := f.SetSheetRow(metaSheet, "A1", &metaRow); err != nil {
		return fmt.Errorf("registry: writing meta: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("registry: creating directory: %w", err)
	}

	// excelize rejects unknown extensions in SaveAs, so the temp file is
	// written through f.Write instead.
	tmp, err := os.CreateTemp(filepath.Dir(r.path), "registry-*.xlsx")
	if err != nil {
		return fmt.Errorf("registry: creating temp workbook: %w", err)
	}

	if err := f.Write(tmp); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())

		return fmt.Errorf("registry: writing %s: %w", tmp.Name(), err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("registry: closing temp workbook: %w", err)
	}

	if err := os.Rename(tmp.Name(), r.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("registry: replacing %s: %w", r.path, err)
	}

	r.logger.Debug("registry saved",
		slog.String("path", r.path),
		slog.Int("entries", len(r.entries)),
	)

	return nil
}

func formatLastSeen(ts time.Time) string {
	if ts.IsZero() {
		return ""
	}

	return ts.UTC().Format(time.RFC3339)
}
