package table

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// FileName is the canonical table file inside a database folder.
const FileName = "table.csv"

// Load reads a canonical table from path. The first record is the header
// (user columns then the two synthetic columns), the second is the kind row,
// data records follow. Returns os.ErrNotExist if the file is absent so the
// caller can create the table lazily.
func Load(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("table: opening %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1 // validated explicitly below for better messages

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("table: parsing %s: %w", path, err)
	}

	if len(records) < 2 {
		return nil, fmt.Errorf("table: %s: missing header or kind row", path)
	}

	header, kinds := records[0], records[1]

	if len(header) != len(kinds) {
		return nil, fmt.Errorf("table: %s: header has %d columns but kind row has %d",
			path, len(header), len(kinds))
	}

	if len(header) < 2 || header[len(header)-2] != ColRowKey || header[len(header)-1] != ColLastSync {
		return nil, fmt.Errorf("table: %s: synthetic columns %s,%s must be last",
			path, ColRowKey, ColLastSync)
	}

	userCols := len(header) - 2
	t := &Table{Columns: make([]Column, 0, userCols)}

	for i := 0; i < userCols; i++ {
		kind := Kind(kinds[i])
		if !kind.Valid() {
			return nil, fmt.Errorf("table: %s: column %q has unknown kind %q", path, header[i], kinds[i])
		}

		t.Columns = append(t.Columns, Column{Name: header[i], Kind: kind})
	}

	for n, rec := range records[2:] {
		if len(rec) != len(header) {
			return nil, fmt.Errorf("table: %s: row %d has %d fields, want %d",
				path, n+1, len(rec), len(header))
		}

		row := Row{Cells: make(map[string]Cell, userCols)}

		for i := 0; i < userCols; i++ {
			cell, cellErr := DecodeCell(t.Columns[i].Kind, rec[i])
			if cellErr != nil {
				return nil, fmt.Errorf("table: %s: row %d column %q: %w",
					path, n+1, header[i], cellErr)
			}

			row.Cells[header[i]] = cell
		}

		row.RowKey = rec[userCols]

		if ts := rec[userCols+1]; ts != "" {
			parsed, tsErr := time.Parse(time.RFC3339, ts)
			if tsErr != nil {
				return nil, fmt.Errorf("table: %s: row %d: bad %s %q: %w",
					path, n+1, ColLastSync, ts, tsErr)
			}

			row.LastSync = parsed
		}

		t.Rows = append(t.Rows, row)
	}

	return t, nil
}

// Save writes the table to path atomically: a temp file in the same
// directory is written, synced, and renamed over the target. Output is
// RFC-4180 with LF line endings.
func (t *Table) Save(path string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".table-*.csv.tmp")
	if err != nil {
		return fmt.Errorf("table: creating temp file: %w", err)
	}

	tmpName := tmp.Name()

	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	w := csv.NewWriter(tmp)

	header := append(t.ColumnNames(), ColRowKey, ColLastSync)
	kinds := make([]string, 0, len(header))

	for _, c := range t.Columns {
		kinds = append(kinds, string(c.Kind))
	}

	// The synthetic columns are plain text.
	kinds = append(kinds, string(KindText), string(KindText))

	if err := w.Write(header); err != nil {
		cleanup()
		return fmt.Errorf("table: writing header: %w", err)
	}

	if err := w.Write(kinds); err != nil {
		cleanup()
		return fmt.Errorf("table: writing kind row: %w", err)
	}

	for i := range t.Rows {
		rec := make([]string, 0, len(header))

		for _, c := range t.Columns {
			rec = append(rec, t.Rows[i].Cells[c.Name].Encode())
		}

		rec = append(rec, t.Rows[i].RowKey, formatLastSync(t.Rows[i].LastSync))

		if err := w.Write(rec); err != nil {
			cleanup()
			return fmt.Errorf("table: writing row %d: %w", i, err)
		}
	}

	w.Flush()

	if err := w.Error(); err != nil {
		cleanup()
		return fmt.Errorf("table: flushing csv: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("table: syncing temp file: %w", err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("table: closing temp file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("table: replacing %s: %w", path, err)
	}

	return nil
}

// formatLastSync renders the sync timestamp as RFC3339 UTC, or "" when the
// row was never synced.
func formatLastSync(ts time.Time) string {
	if ts.IsZero() {
		return ""
	}

	return ts.UTC().Format(time.RFC3339)
}
