package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/basesync/basesync/internal/config"
	"github.com/basesync/basesync/internal/remote"
	"github.com/basesync/basesync/internal/table"
)

// inProgressStatus is the status value the Single-In-Progress invariant
// guards on the agent-tasks database.
const inProgressStatus = "In Progress"

// enforceInvariants validates content invariants after a database's sync
// steps. Today that is the Single-In-Progress rule: at most one agent-tasks
// row may be "In Progress"; extra claimants are demoted, keeping the most
// recently edited one.
func (e *Engine) enforceInvariants(ctx context.Context, db remote.Database, ds *remote.DataSource, tbl *table.Table, pages []remote.Page) error {
	if e.cfg.AgentTasksDatabaseID == "" || db.ID != e.cfg.AgentTasksDatabaseID {
		return nil
	}

	statusCol := findStatusColumn(tbl)
	if statusCol == "" {
		return nil
	}

	lastEdited := make(map[string]time.Time, len(pages))
	for _, p := range pages {
		lastEdited[p.ID] = p.LastEditedTime
	}

	var offenders []int

	for i := range tbl.Rows {
		cell := tbl.Rows[i].Cells[statusCol]
		if len(cell.Options) > 0 && cell.Options[0] == inProgressStatus {
			offenders = append(offenders, i)
		}
	}

	if len(offenders) <= 1 {
		return nil
	}

	// The most recently edited claimant keeps the slot.
	keep := offenders[0]
	for _, i := range offenders[1:] {
		if lastEdited[tbl.Rows[i].RowKey].After(lastEdited[tbl.Rows[keep].RowKey]) {
			keep = i
		}
	}

	demoteTo := e.cfg.DemoteStatus
	if demoteTo == "" {
		demoteTo = config.DefaultDemoteStatus
	}

	statusProp, propOK := e.matcher.Match(statusCol, ds.PropertyNames())

	for _, i := range offenders {
		if i == keep {
			continue
		}

		row := &tbl.Rows[i]

		cell := row.Cells[statusCol]
		cell.Options = []string{demoteTo}
		row.Cells[statusCol] = cell

		if !e.dryRun && row.RowKey != "" && propOK {
			value, _ := valueFromCell(cell)

			if _, err := e.api.UpdatePage(ctx, row.RowKey, map[string]remote.Value{statusProp.Candidate: value}); err != nil {
				return fmt.Errorf("engine: demoting row %s: %w", row.RowKey, err)
			}
		}

		row.LastSync = e.runStart

		if err := e.storeFingerprint(ctx, db.ID, row); err != nil {
			return err
		}

		e.recordWarning(Issue{
			Database:  db.ID,
			Component: "invariants",
			Row:       row.RowKey,
			Kind:      KindInvariant,
			Message:   fmt.Sprintf("multiple rows in progress, demoted to %q keeping the most recent", demoteTo),
		})
	}

	return nil
}

// findStatusColumn picks the column the Single-In-Progress rule applies to:
// the first status column, falling back to a select column named like
// "Status".
func findStatusColumn(tbl *table.Table) string {
	for _, col := range tbl.Columns {
		if col.Kind == table.KindStatus {
			return col.Name
		}
	}

	for _, col := range tbl.Columns {
		if col.Kind == table.KindSingleSelect && normalizedStatusName(col.Name) {
			return col.Name
		}
	}

	return ""
}

func normalizedStatusName(name string) bool {
	switch name {
	case "Status", "status", "State", "state":
		return true
	default:
		return false
	}
}
