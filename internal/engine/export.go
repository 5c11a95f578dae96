package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/basesync/basesync/internal/remote"
	"github.com/basesync/basesync/internal/table"
)

// exportRows reflects every non-archived remote row into the canonical
// table. Rows with pending local edits are left alone here; the upsert step
// decides what happens to them. Returns partial=true when the run budget
// ran out mid-export.
func (e *Engine) exportRows(ctx context.Context, databaseID string, ds *remote.DataSource, tbl *table.Table, pages []remote.Page) (ExportStats, bool, error) {
	var stats ExportStats

	for _, page := range pages {
		if page.Archived || page.InTrash {
			continue
		}

		if e.budgetExceeded() {
			e.logger.Warn("run budget exhausted mid-export",
				slog.String("component", "export"), slog.String("database", databaseID))

			return stats, true, nil
		}

		stats.Read++

		row := tbl.FindByKey(page.ID)

		var prev map[string]table.Cell
		if row != nil {
			prev = row.Cells
		}

		cells := e.cellsFromPage(databaseID, tbl, page, prev)

		if row == nil {
			row = tbl.AppendRow(table.Row{Cells: cells, RowKey: page.ID, LastSync: e.runStart})
			stats.Added++

			if err := e.storeFingerprint(ctx, databaseID, row); err != nil {
				return stats, false, err
			}

			continue
		}

		localChanged, err := e.rowLocallyChanged(ctx, databaseID, row, page)
		if err != nil {
			return stats, false, err
		}

		if localChanged {
			// The upsert step resolves pushes and conflicts for this row.
			continue
		}

		if !page.LastEditedTime.After(row.LastSync) {
			stats.Unchanged++
			continue
		}

		fresh := table.Row{Cells: cells}

		if fresh.Fingerprint() == row.Fingerprint() {
			stats.Unchanged++
		} else {
			row.Cells = cells
			stats.Updated++
		}

		row.LastSync = e.runStart

		if err := e.storeFingerprint(ctx, databaseID, row); err != nil {
			return stats, false, err
		}
	}

	return stats, false, nil
}

// cellsFromPage maps a page's property values onto the table's columns.
// Values whose remote type disagrees with the column kind go through the
// safe coercion pairs; anything else is cleared with a warning. Columns with
// no matching remote property keep their previous cell, so a column retained
// after a remote property deletion does not lose its values.
func (e *Engine) cellsFromPage(databaseID string, tbl *table.Table, page remote.Page, prev map[string]table.Cell) map[string]table.Cell {
	propNames := make([]string, 0, len(page.Properties))
	for name := range page.Properties {
		propNames = append(propNames, name)
	}

	cells := make(map[string]table.Cell, len(tbl.Columns))

	for _, col := range tbl.Columns {
		res, ok := e.matcher.Match(col.Name, propNames)
		if !ok {
			if kept, held := prev[col.Name]; held {
				cells[col.Name] = kept
			} else {
				cells[col.Name] = table.Cell{Kind: col.Kind}
			}

			continue
		}

		value := page.Properties[res.Candidate]

		valueKind, known := kindFromType[value.Type]
		if !known || value.Type == "" {
			valueKind = col.Kind
		}

		cell := cellFromValue(valueKind, value)

		if valueKind != col.Kind {
			coerced, ok := cell.Coerce(col.Kind)
			if !ok {
				e.recordWarning(Issue{
					Database:  databaseID,
					Component: "export",
					Row:       page.ID,
					Kind:      KindSchemaMismatch,
					Message: fmt.Sprintf("value of %q (%s) cannot be coerced to column kind %s, cleared",
						res.Candidate, value.Type, col.Kind),
				})

				cells[col.Name] = table.Cell{Kind: col.Kind}

				continue
			}

			cell = coerced
		}

		cells[col.Name] = cell
	}

	return cells
}

// rowLocallyChanged reports whether the table row diverged from its state at
// the last successful sync. The stored fingerprint is authoritative; rows
// synced before fingerprints existed fall back to the timestamp heuristic.
func (e *Engine) rowLocallyChanged(ctx context.Context, databaseID string, row *table.Row, page remote.Page) (bool, error) {
	stored, err := e.store.GetFingerprint(ctx, databaseID, row.RowKey)
	if err != nil {
		return false, err
	}

	if stored == "" {
		return row.LastSync.After(page.LastEditedTime), nil
	}

	return row.Fingerprint() != stored, nil
}

// storeFingerprint persists the row's current content fingerprint.
func (e *Engine) storeFingerprint(ctx context.Context, databaseID string, row *table.Row) error {
	if e.dryRun || row.RowKey == "" {
		return nil
	}

	return e.store.SetFingerprint(ctx, databaseID, row.RowKey, row.Fingerprint(), e.runStart)
}
