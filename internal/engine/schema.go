package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/basesync/basesync/internal/remote"
	"github.com/basesync/basesync/internal/table"
)

// itemTypeColumn is the column requireItemTypeColumn guarantees.
const itemTypeColumn = "itemType"

// SchemaAction says what the schema sync did about one column.
type SchemaAction string

const (
	ActionAddedLocal     SchemaAction = "added-local"
	ActionAddedRemote    SchemaAction = "added-remote"
	ActionRemovedLocal   SchemaAction = "removed-local"
	ActionRetained       SchemaAction = "retained"
	ActionTypeMismatch   SchemaAction = "type-mismatch"
	ActionOptionsUnioned SchemaAction = "options-unioned"
)

// SchemaChange is one column-level outcome of a schema sync.
type SchemaChange struct {
	Column string       `json:"column"`
	Action SchemaAction `json:"action"`
	Detail string       `json:"detail,omitempty"`
}

// SchemaDiff lists everything a schema sync observed and did.
type SchemaDiff struct {
	Changes []SchemaChange `json:"changes,omitempty"`
}

// Empty reports whether the sync found both sides already aligned.
func (d SchemaDiff) Empty() bool { return len(d.Changes) == 0 }

func (d *SchemaDiff) add(column string, action SchemaAction, detail string) {
	d.Changes = append(d.Changes, SchemaChange{Column: column, Action: action, Detail: detail})
}

// syncSchema reconciles the column sets of the remote data source and the
// canonical table. Additions propagate in both directions; deletions only
// when allowSchemaDeletions is set; type mismatches are recorded and left
// untouched.
func (e *Engine) syncSchema(ctx context.Context, databaseID, dataSourceID string, ds *remote.DataSource, tbl *table.Table) (SchemaDiff, error) {
	var diff SchemaDiff

	schemaChanged := false

	// Title first, then alphabetical, approximating the remote display
	// order (the schema payload itself is an unordered map).
	propNames := ds.PropertyNames()
	sort.Slice(propNames, func(i, j int) bool {
		iTitle := ds.Properties[propNames[i]].Type == remote.TypeTitle
		jTitle := ds.Properties[propNames[j]].Type == remote.TypeTitle

		if iTitle != jTitle {
			return iTitle
		}

		return propNames[i] < propNames[j]
	})

	// Remote properties missing from the table become new table columns,
	// placed left of the synthetic pair.
	matchedTableCols := make(map[string]string) // table column -> remote property
	for _, propName := range propNames {
		prop := ds.Properties[propName]

		res, ok := e.matcher.Match(propName, tbl.ColumnNames())
		if !ok {
			kind, known := kindFromType[prop.Type]
			if !known {
				e.recordWarning(Issue{Database: databaseID, Component: "schema", Kind: KindSchemaMismatch,
					Message: fmt.Sprintf("property %q has unsupported type %q, skipped", propName, prop.Type)})

				continue
			}

			tbl.EnsureColumn(table.Column{Name: propName, Kind: kind, Options: prop.OptionNames()})
			diff.add(propName, ActionAddedLocal, string(kind))

			continue
		}

		matchedTableCols[res.Candidate] = propName

		col := tbl.Column(res.Candidate)
		wantKind := kindFromType[prop.Type]

		if col.Kind != wantKind {
			diff.add(res.Candidate, ActionTypeMismatch,
				fmt.Sprintf("table %s vs remote %s", col.Kind, prop.Type))
			e.recordWarning(Issue{Database: databaseID, Component: "schema", Kind: KindSchemaMismatch,
				Message: fmt.Sprintf("column %q: table kind %s does not match remote type %s, left untouched",
					res.Candidate, col.Kind, prop.Type)})

			continue
		}

		if col.Kind.HasOptions() {
			unioned, changedRemote := unionOptions(prop.OptionNames(), col.Options)

			// The table file does not persist option lists, so hydrating
			// the column from the remote set is not a schema change.
			col.Options = unioned

			if changedRemote {
				diff.add(res.Candidate, ActionOptionsUnioned, strings.Join(unioned, ", "))

				if !e.dryRun {
					if err := e.api.UpdateSelectOptions(ctx, dataSourceID, propName, prop.Type, unioned); err != nil {
						return diff, fmt.Errorf("engine: unioning options of %q: %w", propName, err)
					}

					schemaChanged = true
				}
			}
		}
	}

	// Table columns missing from the remote: push as new properties, or
	// drop locally when deletions are allowed.
	for _, name := range tbl.ColumnNames() {
		if _, matched := matchedTableCols[name]; matched {
			continue
		}

		col := tbl.Column(name)
		if col == nil {
			continue
		}

		if _, addedThisSync := ds.Properties[name]; addedThisSync {
			continue
		}

		if _, ok := e.matcher.Match(name, propNames); ok {
			continue
		}

		if e.cfg.AllowSchemaDeletions {
			tbl.RemoveColumn(name)
			diff.add(name, ActionRemovedLocal, "absent from remote")
			e.logger.Info("column removed from table",
				slog.String("component", "schema"),
				slog.String("database", databaseID),
				slog.String("column", name),
			)

			continue
		}

		if col.Kind.ReadOnly() {
			diff.add(name, ActionRetained, "read-only kind cannot be created remotely")
			continue
		}

		if e.dryRun {
			diff.add(name, ActionAddedRemote, typeFromKind(col.Kind))
			continue
		}

		prop := remote.Property{Type: typeFromKind(col.Kind)}
		if col.Kind.HasOptions() {
			set := &remote.OptionSet{}
			for _, o := range col.Options {
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
		}

		if err := e.api.CreateProperty(ctx, dataSourceID, name, prop); err != nil {
			return diff, fmt.Errorf("engine: creating property %q: %w", name, err)
		}

		diff.add(name, ActionAddedRemote, prop.Type)
		schemaChanged = true
	}

	if e.cfg.RequireItemTypeColumn {
		if tbl.EnsureColumn(table.Column{Name: itemTypeColumn, Kind: table.KindText}) {
			diff.add(itemTypeColumn, ActionAddedLocal, "required column")
		}

		if _, ok := e.matcher.Match(itemTypeColumn, propNames); !ok && !e.dryRun {
			if err := e.api.CreateProperty(ctx, dataSourceID, itemTypeColumn,
				remote.Property{Type: remote.TypeRichText}); err != nil {
				return diff, fmt.Errorf("engine: creating %s property: %w", itemTypeColumn, err)
			}

			diff.add(itemTypeColumn, ActionAddedRemote, remote.TypeRichText)
			schemaChanged = true
		}
	}

	if schemaChanged {
		e.caches.invalidateSchema(databaseID)
		e.matcher.Reset()

		// Re-fetch so later steps see the post-change schema.
		fresh, err := e.api.GetDataSource(ctx, dataSourceID)
		if err != nil {
			return diff, fmt.Errorf("engine: refreshing schema: %w", err)
		}

		*ds = *fresh
		e.caches.schemas.Add(databaseID, ds)
	}

	return diff, nil
}

// unionOptions merges two option lists preserving remote order first.
// changedRemote means the remote set was missing local options.
func unionOptions(remoteOpts, localOpts []string) (union []string, changedRemote bool) {
	seen := make(map[string]bool, len(remoteOpts)+len(localOpts))

	for _, o := range remoteOpts {
		if !seen[o] {
			seen[o] = true
			union = append(union, o)
		}
	}

	for _, o := range localOpts {
		if o != "" && !seen[o] {
			seen[o] = true
			union = append(union, o)
			changedRemote = true
		}
	}

	return union, changedRemote
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}

	return false
}
