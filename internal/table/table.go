// Package table implements the canonical table: the on-disk CSV mirror of a
// remote database. A table carries an ordered set of typed user columns plus
// two synthetic trailing columns, __rowKey and __lastSyncTimestamp, that the
// sync engine owns exclusively.
package table

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Synthetic column names. Always present and always the last two columns.
const (
	ColRowKey   = "__rowKey"
	ColLastSync = "__lastSyncTimestamp"
)

// Kind identifies a column's value type. The token set mirrors the remote
// store's property types.
type Kind string

const (
	KindTitle          Kind = "title"
	KindText           Kind = "text"
	KindNumber         Kind = "number"
	KindCheckbox       Kind = "checkbox"
	KindDate           Kind = "date"
	KindSingleSelect   Kind = "singleSelect"
	KindMultiSelect    Kind = "multiSelect"
	KindURL            Kind = "url"
	KindEmail          Kind = "email"
	KindPhone          Kind = "phone"
	KindStatus         Kind = "status"
	KindRelation       Kind = "relation"
	KindPeople         Kind = "people"
	KindFiles          Kind = "files"
	KindFormula        Kind = "formula"
	KindRollup         Kind = "rollup"
	KindCreatedTime    Kind = "createdTime"
	KindLastEditedTime Kind = "lastEditedTime"
	KindCreatedBy      Kind = "createdBy"
	KindLastEditedBy   Kind = "lastEditedBy"
)

// allKinds is the closed set of valid kind tokens.
var allKinds = map[Kind]bool{
	KindTitle: true, KindText: true, KindNumber: true, KindCheckbox: true,
	KindDate: true, KindSingleSelect: true, KindMultiSelect: true,
	KindURL: true, KindEmail: true, KindPhone: true, KindStatus: true,
	KindRelation: true, KindPeople: true, KindFiles: true,
	KindFormula: true, KindRollup: true, KindCreatedTime: true,
	KindLastEditedTime: true, KindCreatedBy: true, KindLastEditedBy: true,
}

// Valid reports whether k is a recognized kind token.
func (k Kind) Valid() bool { return allKinds[k] }

// ReadOnly reports whether the remote computes this kind itself. Read-only
// kinds are exported into the table but never pushed back.
func (k Kind) ReadOnly() bool {
	switch k {
	case KindFormula, KindRollup, KindCreatedTime, KindLastEditedTime,
		KindCreatedBy, KindLastEditedBy:
		return true
	default:
		return false
	}
}

// HasOptions reports whether the kind carries an option set.
func (k Kind) HasOptions() bool {
	return k == KindSingleSelect || k == KindMultiSelect || k == KindStatus
}

// Column is one user column of the canonical table.
type Column struct {
	Name    string
	Kind    Kind
	Options []string // allowed choices for select/multi-select/status
}

// Row is one data row. Cells are keyed by column name; the synthetic fields
// live outside the cell map. A blank RowKey means the row originated locally
// and has not been pushed yet.
type Row struct {
	Cells    map[string]Cell
	RowKey   string
	LastSync time.Time // zero means never synced
}

// Table is the in-memory form of a canonical table file.
type Table struct {
	Columns []Column
	Rows    []Row
}

// New creates an empty table with the given user columns.
func New(columns []Column) *Table {
	return &Table{Columns: append([]Column(nil), columns...)}
}

// Column returns the column with the given name, or nil.
func (t *Table) Column(name string) *Column {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i]
		}
	}

	return nil
}

// ColumnNames returns the user column names in display order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}

	return names
}

// TitleColumn returns the name of the title column, or "" if the table has
// none (a freshly created empty table).
func (t *Table) TitleColumn() string {
	for _, c := range t.Columns {
		if c.Kind == KindTitle {
			return c.Name
		}
	}

	return ""
}

// EnsureColumn appends col if no column with that name exists. New columns
// always land at the end of the user columns, i.e. left of the two synthetic
// columns in the CSV. Returns true if the column was added.
func (t *Table) EnsureColumn(col Column) bool {
	if t.Column(col.Name) != nil {
		return false
	}

	if col.Name == ColRowKey || col.Name == ColLastSync {
		return false
	}

	t.Columns = append(t.Columns, col)

	return true
}

// RemoveColumn drops the named column and its cells from every row.
// Returns true if a column was removed.
func (t *Table) RemoveColumn(name string) bool {
	idx := -1

	for i := range t.Columns {
		if t.Columns[i].Name == name {
			idx = i
			break
		}
	}

	if idx < 0 {
		return false
	}

	t.Columns = append(t.Columns[:idx], t.Columns[idx+1:]...)

	for i := range t.Rows {
		delete(t.Rows[i].Cells, name)
	}

	return true
}

// FindByKey returns the row with the given non-blank row key, or nil.
func (t *Table) FindByKey(key string) *Row {
	if key == "" {
		return nil
	}

	for i := range t.Rows {
		if t.Rows[i].RowKey == key {
			return &t.Rows[i]
		}
	}

	return nil
}

// AppendRow adds a row, initializing its cell map if nil.
func (t *Table) AppendRow(r Row) *Row {
	if r.Cells == nil {
		r.Cells = make(map[string]Cell)
	}

	t.Rows = append(t.Rows, r)

	return &t.Rows[len(t.Rows)-1]
}

// DeleteRow removes the row at index i.
func (t *Table) DeleteRow(i int) {
	t.Rows = append(t.Rows[:i], t.Rows[i+1:]...)
}

// ValidateKeys checks the row-key uniqueness invariant: every non-blank
// __rowKey appears at most once.
func (t *Table) ValidateKeys() error {
	seen := make(map[string]bool, len(t.Rows))

	for i := range t.Rows {
		key := t.Rows[i].RowKey
		if key == "" {
			continue
		}

		if seen[key] {
			return fmt.Errorf("table: duplicate row key %q", key)
		}

		seen[key] = true
	}

	return nil
}

// Fingerprint returns a stable content hash for a row, used as the natural
// identity of rows that have no row key yet. Cells are hashed in column-name
// order so map iteration order cannot change the result. Empty cells are
// skipped: a blank value hashes the same whether or not its column exists
// in the cell map, so adding a column does not change existing fingerprints.
func (r *Row) Fingerprint() string {
	names := make([]string, 0, len(r.Cells))
	for name := range r.Cells {
		names = append(names, name)
	}

	sort.Strings(names)

	h := sha256.New()
	for _, name := range names {
		cell := r.Cells[name]
		if cell.IsZero() {
			continue
		}

		fmt.Fprintf(h, "%s\x00%s\x00%s\x1e", name, cell.Kind, cell.Encode())
	}

	return hex.EncodeToString(h.Sum(nil))[:16]
}

// Title returns the row's value in the given title column, flattened to a
// plain string.
func (r *Row) Title(titleColumn string) string {
	if titleColumn == "" {
		return ""
	}

	return strings.TrimSpace(r.Cells[titleColumn].Encode())
}
