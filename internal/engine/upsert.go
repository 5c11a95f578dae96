package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/basesync/basesync/internal/config"
	"github.com/basesync/basesync/internal/record"
	"github.com/basesync/basesync/internal/remote"
	"github.com/basesync/basesync/internal/state"
	"github.com/basesync/basesync/internal/table"
)

// upsertRows pushes table-side changes to the remote, one row at a time so
// a single bad payload never fails the whole database. Returns the number
// of record files archived for orphaned rows alongside the stats.
func (e *Engine) upsertRows(ctx context.Context, db remote.Database, dataSourceID string, ds *remote.DataSource, tbl *table.Table, pages []remote.Page, folder string) (UpsertStats, int, bool, error) {
	var (
		stats    UpsertStats
		archived int
		orphans  []int
	)

	policy := e.cfg.PolicyFor(db.ID)

	pageByID := make(map[string]*remote.Page, len(pages))
	for i := range pages {
		pageByID[pages[i].ID] = &pages[i]
	}

	for i := range tbl.Rows {
		if e.budgetExceeded() {
			e.logger.Warn("run budget exhausted mid-upsert",
				slog.String("component", "upsert"), slog.String("database", db.ID))

			return stats, archived, true, nil
		}

		row := &tbl.Rows[i]

		if row.RowKey == "" {
			if e.createRow(ctx, db.ID, dataSourceID, ds, tbl, row) {
				stats.Created++
			} else {
				stats.Skipped++
			}

			continue
		}

		page, present := pageByID[row.RowKey]
		if !present || page.Archived || page.InTrash {
			didArchive, err := e.handleOrphan(ctx, db.ID, tbl, row, folder)
			if err != nil {
				return stats, archived, false, err
			}

			if didArchive {
				archived++
				orphans = append(orphans, i)
			}

			stats.Skipped++

			continue
		}

		localChanged, err := e.rowLocallyChanged(ctx, db.ID, row, *page)
		if err != nil {
			return stats, archived, false, err
		}

		if !localChanged {
			stats.Skipped++
			continue
		}

		remoteChanged := page.LastEditedTime.After(row.LastSync)

		if !remoteChanged {
			if e.updateRow(ctx, db.ID, dataSourceID, ds, tbl, row) {
				stats.Updated++
			} else {
				stats.Skipped++
			}

			continue
		}

		// Both sides changed since the last sync.
		stats.Conflicted++
		e.resolveConflict(ctx, db.ID, dataSourceID, ds, tbl, row, page, policy)
	}

	if len(orphans) > 0 {
		if err := e.snapshotTable(folder); err != nil {
			return stats, archived, false, err
		}

		sort.Sort(sort.Reverse(sort.IntSlice(orphans)))

		for _, i := range orphans {
			tbl.DeleteRow(i)
		}
	}

	return stats, archived, false, nil
}

// createRow pushes a locally authored row. Returns false when the row was
// skipped (missing title or failed write).
func (e *Engine) createRow(ctx context.Context, databaseID, dataSourceID string, ds *remote.DataSource, tbl *table.Table, row *table.Row) bool {
	title := row.Title(tbl.TitleColumn())
	if title == "" {
		e.recordWarning(Issue{
			Database:  databaseID,
			Component: "upsert",
			Row:       row.Fingerprint(),
			Kind:      KindSchemaMismatch,
			Message:   "row has no title, not creating a titleless remote row",
		})

		return false
	}

	props := e.propsFromRow(ctx, databaseID, dataSourceID, ds, tbl, row)

	if e.dryRun {
		return true
	}

	page, err := e.api.CreatePage(ctx, dataSourceID, props)
	if err != nil {
		e.recordError(Issue{Database: databaseID, Component: "upsert", Row: title,
			Kind: classify(err), Message: fmt.Sprintf("creating row: %v", err)})

		return false
	}

	row.RowKey = page.ID
	row.LastSync = e.runStart

	if err := e.storeFingerprint(ctx, databaseID, row); err != nil {
		e.recordError(Issue{Database: databaseID, Component: "upsert", Row: page.ID,
			Kind: KindLocalIO, Message: err.Error()})
	}

	return true
}

// updateRow pushes local edits over the remote row.
func (e *Engine) updateRow(ctx context.Context, databaseID, dataSourceID string, ds *remote.DataSource, tbl *table.Table, row *table.Row) bool {
	props := e.propsFromRow(ctx, databaseID, dataSourceID, ds, tbl, row)

	if e.dryRun {
		return true
	}

	if _, err := e.api.UpdatePage(ctx, row.RowKey, props); err != nil {
		e.recordError(Issue{Database: databaseID, Component: "upsert", Row: row.RowKey,
			Kind: classify(err), Message: fmt.Sprintf("updating row: %v", err)})

		return false
	}

	row.LastSync = e.runStart

	if err := e.storeFingerprint(ctx, databaseID, row); err != nil {
		e.recordError(Issue{Database: databaseID, Component: "upsert", Row: row.RowKey,
			Kind: KindLocalIO, Message: err.Error()})
	}

	return true
}

// resolveConflict applies the database's conflict policy to a row both
// sides changed. The engine never merges at the cell level.
func (e *Engine) resolveConflict(ctx context.Context, databaseID, dataSourceID string, ds *remote.DataSource, tbl *table.Table, row *table.Row, page *remote.Page, policy string) {
	winner := "remote"
	if policy == config.PolicyLocalWins {
		winner = "local"
	}

	e.recordWarning(Issue{
		Database:  databaseID,
		Component: "conflict",
		Row:       row.RowKey,
		Kind:      KindInvariant,
		Message:   fmt.Sprintf("both sides changed, %s wins by policy %s", winner, policy),
	})

	if !e.dryRun {
		if _, err := e.store.RecordConflict(ctx, state.Conflict{
			DatabaseID: databaseID,
			RowKey:     row.RowKey,
			Component:  "cells",
			Policy:     policy,
			Winner:     winner,
			DetectedAt: e.runStart,
		}); err != nil {
			e.logger.Warn("recording conflict", slog.Any("error", err))
		}
	}

	if policy == config.PolicyLocalWins {
		e.updateRow(ctx, databaseID, dataSourceID, ds, tbl, row)
		return
	}

	row.Cells = e.cellsFromPage(databaseID, tbl, *page, row.Cells)
	row.LastSync = e.runStart

	if err := e.storeFingerprint(ctx, databaseID, row); err != nil {
		e.recordError(Issue{Database: databaseID, Component: "conflict", Row: row.RowKey,
			Kind: KindLocalIO, Message: err.Error()})
	}
}

// handleOrphan deals with a table row whose remote counterpart is gone.
// With archiving enabled the record file moves to the archive and the row is
// retired; otherwise the row is left alone with a warning.
func (e *Engine) handleOrphan(ctx context.Context, databaseID string, tbl *table.Table, row *table.Row, folder string) (bool, error) {
	if !e.cfg.ArchiveDeletions() {
		e.recordWarning(Issue{
			Database:  databaseID,
			Component: "upsert",
			Row:       row.RowKey,
			Kind:      KindInvariant,
			Message:   "remote row gone but deletion archiving is disabled, leaving row in place",
		})

		return false, nil
	}

	base, err := e.store.GetRecordName(ctx, databaseID, row.RowKey)
	if err != nil {
		return false, err
	}

	if base != "" {
		if err := e.archiveRecordFile(folder, base+record.Extension); err != nil {
			return false, err
		}
	}

	e.logger.Info("remote row deleted, archiving local copies",
		slog.String("component", "upsert"),
		slog.String("database", databaseID),
		slog.String("row", row.RowKey),
	)

	if !e.dryRun {
		if err := e.store.DeleteRecordName(ctx, databaseID, row.RowKey); err != nil {
			return false, err
		}

		if err := e.store.DeleteFingerprint(ctx, databaseID, row.RowKey); err != nil {
			return false, err
		}
	}

	return true, nil
}

// propsFromRow builds the property payload for a push. Read-only kinds are
// never included; invalid values and unknown select options that cannot be
// created are cleared with a warning rather than failing the row.
func (e *Engine) propsFromRow(ctx context.Context, databaseID, dataSourceID string, ds *remote.DataSource, tbl *table.Table, row *table.Row) map[string]remote.Value {
	propNames := ds.PropertyNames()
	props := make(map[string]remote.Value)

	for ci := range tbl.Columns {
		col := &tbl.Columns[ci]

		if col.Kind.ReadOnly() {
			continue
		}

		res, ok := e.matcher.Match(col.Name, propNames)
		if !ok {
			continue
		}

		cell := row.Cells[col.Name]
		cell.Kind = col.Kind

		if err := cell.Validate(); err != nil {
			e.recordWarning(Issue{Database: databaseID, Component: "upsert", Row: row.RowKey,
				Kind: KindSchemaMismatch,
				Message: fmt.Sprintf("invalid %s value in %q cleared: %v", col.Kind, col.Name, err)})

			cell = table.Cell{Kind: col.Kind}
			row.Cells[col.Name] = cell
		}

		if col.Kind.HasOptions() {
			cell = e.ensureOptions(ctx, databaseID, dataSourceID, ds, res.Candidate, col, cell, row.RowKey)
			row.Cells[col.Name] = cell
		}

		value, ok := valueFromCell(cell)
		if !ok {
			continue
		}

		props[res.Candidate] = value
	}

	return props
}

// ensureOptions makes sure every option the cell uses exists remotely,
// creating missing options where the remote permits. Options that cannot be
// created are dropped from the cell with a warning; the row write proceeds.
func (e *Engine) ensureOptions(ctx context.Context, databaseID, dataSourceID string, ds *remote.DataSource, propName string, col *table.Column, cell table.Cell, rowKey string) table.Cell {
	prop, ok := ds.Properties[propName]
	if !ok {
		return cell
	}

	known := prop.OptionNames()

	var missing []string

	for _, o := range cell.Options {
		if o != "" && !containsString(known, o) {
			missing = append(missing, o)
		}
	}

	if len(missing) == 0 {
		return cell
	}

	if !e.dryRun {
		union := append(append([]string(nil), known...), missing...)

		if err := e.api.UpdateSelectOptions(ctx, dataSourceID, propName, prop.Type, union); err == nil {
			e.applyOptionUnion(databaseID, ds, propName, prop, col, union)
			return cell
		}

		e.recordWarning(Issue{Database: databaseID, Component: "upsert", Row: rowKey,
			Kind: KindSchemaMismatch,
			Message: fmt.Sprintf("options %v of %q could not be created remotely, cleared from cell",
				missing, col.Name)})
	} else {
		return cell
	}

	var kept []string

	for _, o := range cell.Options {
		if !containsString(missing, o) {
			kept = append(kept, o)
		}
	}

	cell.Options = kept

	return cell
}

// applyOptionUnion reflects a successful option creation into the cached
// schema and the table column.
func (e *Engine) applyOptionUnion(databaseID string, ds *remote.DataSource, propName string, prop remote.Property, col *table.Column, union []string) {
	set := &remote.OptionSet{}
	for _, o := range union {
		set.Options = append(set.Options, remote.Option{Name: o})
	}

	switch prop.Type {
	case remote.TypeSelect:
		prop.Select = set
	case remote.TypeMultiSelect:
		prop.MultiSelect = set
	case remote.TypeStatus:
		prop.Status = set
	}

	ds.Properties[propName] = prop
	col.Options = union
	e.caches.schemas.Add(databaseID, ds)
}
