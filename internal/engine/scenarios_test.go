package engine

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basesync/basesync/internal/config"
	"github.com/basesync/basesync/internal/registry"
	"github.com/basesync/basesync/internal/remote"
	"github.com/basesync/basesync/internal/table"
)

func loadTable(t *testing.T, fx *fixture, folderName string) *table.Table {
	t.Helper()

	tbl, err := table.Load(filepath.Join(fx.folder(folderName), table.FileName))
	require.NoError(t, err)

	return tbl
}

func saveTable(t *testing.T, fx *fixture, folderName string, tbl *table.Table) {
	t.Helper()
	require.NoError(t, tbl.Save(filepath.Join(fx.folder(folderName), table.FileName)))
}

func readRecord(t *testing.T, fx *fixture, folderName, fileName string) string {
	t.Helper()

	data, err := os.ReadFile(filepath.Join(fx.folder(folderName), fileName))
	require.NoError(t, err)

	return string(data)
}

func csvLines(t *testing.T, fx *fixture, folderName string) []string {
	t.Helper()

	data, err := os.ReadFile(filepath.Join(fx.folder(folderName), table.FileName))
	require.NoError(t, err)

	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

func TestFreshSync(t *testing.T) {
	fx := newFixture(t, seedSimpleRemote(), nil)

	res := fx.run(t)

	require.Len(t, res.Databases, 1)
	db := res.Databases[0]

	assert.Equal(t, StatusOK, db.Status)
	assert.False(t, res.Failed)

	assert.Equal(t, 2, db.Export.Read)
	assert.Equal(t, 2, db.Export.Added)
	assert.Equal(t, 0, db.Upsert.Created)
	assert.Equal(t, 2, db.Upsert.Skipped)
	assert.Equal(t, 2, db.Record.Materialized)

	lines := csvLines(t, fx, "D1")
	require.GreaterOrEqual(t, len(lines), 4)
	assert.Equal(t, "Title,Status,__rowKey,__lastSyncTimestamp", lines[0])
	assert.Equal(t, "title,status,text,text", lines[1])

	tbl := loadTable(t, fx, "D1")
	require.Len(t, tbl.Rows, 2)
	assert.Equal(t, "r1", tbl.Rows[0].RowKey)
	assert.Equal(t, "Alpha", tbl.Rows[0].Cells["Title"].Text)
	assert.Equal(t, []string{"Open"}, tbl.Rows[0].Cells["Status"].Options)
	assert.Equal(t, runOneAt, tbl.Rows[0].LastSync)

	alpha := readRecord(t, fx, "D1", "Alpha.txt")
	assert.Contains(t, alpha, "rowKey: r1")
	assert.Contains(t, alpha, "lastSync: 2026-08-26T09:00:00Z")
	assert.Contains(t, alpha, "Status: Open")
	assert.Contains(t, alpha, "Alpha body")

	beta := readRecord(t, fx, "D1", "Beta.txt")
	assert.Contains(t, beta, "rowKey: r2")

	info, err := os.Stat(filepath.Join(fx.folder("D1"), archiveDirName))
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	reg, err := registry.Open(filepath.Join(fx.root, "dev", registry.FileName), discardLogger())
	require.NoError(t, err)

	entry, ok := reg.Get("db1")
	require.True(t, ok)
	assert.Equal(t, "D1", entry.DisplayName)
	assert.Equal(t, fx.folder("D1"), entry.FolderPath)
	assert.Equal(t, "db1", reg.RotationPointer())
}

func TestSecondRunMakesNoChanges(t *testing.T) {
	fx := newFixture(t, seedSimpleRemote(), nil)

	fx.run(t)
	fx.clock.advance(time.Hour)
	res := fx.run(t)

	require.Len(t, res.Databases, 1)
	db := res.Databases[0]

	assert.True(t, db.Schema.Empty())
	assert.Equal(t, 0, db.Export.Added)
	assert.Equal(t, 0, db.Export.Updated)
	assert.Equal(t, 2, db.Export.Unchanged)
	assert.Equal(t, 0, db.Upsert.Created)
	assert.Equal(t, 0, db.Upsert.Updated)
	assert.Equal(t, 0, db.Upsert.Conflicted)
	assert.Equal(t, 0, db.Record.Materialized)
	assert.Equal(t, 0, db.Record.Updated)

	assert.Equal(t, 0, fx.fr.created)
	assert.Empty(t, fx.fr.updated)
	assert.Empty(t, fx.fr.replaced)
}

func TestLocalCellEditPushed(t *testing.T) {
	fx := newFixture(t, seedSimpleRemote(), nil)
	fx.run(t)

	tbl := loadTable(t, fx, "D1")
	cell := tbl.Rows[0].Cells["Status"]
	cell.Options = []string{"Done"}
	tbl.Rows[0].Cells["Status"] = cell
	saveTable(t, fx, "D1", tbl)

	fx.clock.advance(time.Hour)
	res := fx.run(t)

	db := res.Databases[0]
	assert.Equal(t, 0, db.Export.Updated, "pending local edits are not clobbered by export")
	assert.Equal(t, 1, db.Upsert.Updated)
	assert.Equal(t, 0, db.Upsert.Conflicted)
	assert.Equal(t, 1, fx.fr.updated["r1"])

	page := fx.fr.pages["ds1"][0]
	require.NotNil(t, page.Properties["Status"].Status)
	assert.Equal(t, "Done", page.Properties["Status"].Status.Name)

	// A third run sees both sides settled.
	fx.clock.advance(time.Hour)
	res = fx.run(t)

	db = res.Databases[0]
	assert.Equal(t, 0, db.Upsert.Updated)
	assert.Equal(t, 2, db.Export.Unchanged)
}

func TestLocalNewOptionCreatedOnPush(t *testing.T) {
	fx := newFixture(t, seedSimpleRemote(), nil)
	fx.run(t)

	tbl := loadTable(t, fx, "D1")
	cell := tbl.Rows[0].Cells["Status"]
	cell.Options = []string{"Blocked"}
	tbl.Rows[0].Cells["Status"] = cell
	saveTable(t, fx, "D1", tbl)

	fx.clock.advance(time.Hour)
	res := fx.run(t)

	db := res.Databases[0]
	assert.Equal(t, 1, db.Upsert.Updated)
	assert.Equal(t, 1, fx.fr.optionCalls, "the unknown option is created remotely before the push")

	fx.fr.mu.Lock()
	statusProp := fx.fr.schemas["ds1"].Properties["Status"]
	names := statusProp.OptionNames()
	fx.fr.mu.Unlock()

	assert.Contains(t, names, "Blocked")

	page := fx.fr.pages["ds1"][0]
	require.NotNil(t, page.Properties["Status"].Status)
	assert.Equal(t, "Blocked", page.Properties["Status"].Status.Name)
}

func TestRetainedColumnKeepsValuesAfterRemoteDeletion(t *testing.T) {
	fr := seedSimpleRemote()
	fr.schemas["ds1"].Properties["Created"] = remote.Property{Name: "Created", Type: remote.TypeCreatedTime}

	for i := range fr.pages["ds1"] {
		fr.pages["ds1"][i].Properties["Created"] = remote.Value{
			Type: remote.TypeCreatedTime, CreatedTime: "2026-08-01T00:00:00Z",
		}
	}

	fx := newFixture(t, fr, nil)
	fx.run(t)

	fx.fr.mu.Lock()
	delete(fx.fr.schemas["ds1"].Properties, "Created")
	for i := range fx.fr.pages["ds1"] {
		delete(fx.fr.pages["ds1"][i].Properties, "Created")
	}
	fx.fr.mu.Unlock()

	fx.fr.setPageValue("ds1", "r1", "Status",
		remote.Value{Type: remote.TypeStatus, Status: &remote.Option{Name: "Done"}},
		runOneAt.Add(30*time.Minute))

	fx.clock.advance(time.Hour)
	res := fx.run(t)

	retained := false
	for _, c := range res.Databases[0].Schema.Changes {
		if c.Column == "Created" && c.Action == ActionRetained {
			retained = true
		}
	}
	assert.True(t, retained, "read-only column absent remotely is retained")

	tbl := loadTable(t, fx, "D1")
	row := tbl.FindByKey("r1")
	require.NotNil(t, row)
	assert.Equal(t, []string{"Done"}, row.Cells["Status"].Options)
	assert.Equal(t, "2026-08-01T00:00:00Z", row.Cells["Created"].Text,
		"retained values survive a later remote edit to the row")
}

func TestConflictRemoteWins(t *testing.T) {
	fx := newFixture(t, seedSimpleRemote(), nil)
	fx.run(t)

	tbl := loadTable(t, fx, "D1")
	cell := tbl.Rows[0].Cells["Status"]
	cell.Options = []string{"Done"}
	tbl.Rows[0].Cells["Status"] = cell
	saveTable(t, fx, "D1", tbl)

	fx.fr.setPageValue("ds1", "r1", "Title",
		remote.Value{Type: remote.TypeTitle, Title: remote.Text("Alpha prime")},
		runOneAt.Add(30*time.Minute))

	fx.clock.advance(time.Hour)
	res := fx.run(t)

	db := res.Databases[0]
	assert.Equal(t, 1, db.Upsert.Conflicted)
	assert.Empty(t, fx.fr.updated, "remote-wins never pushes the losing edit")

	tbl = loadTable(t, fx, "D1")
	row := tbl.FindByKey("r1")
	require.NotNil(t, row)
	assert.Equal(t, "Alpha prime", row.Cells["Title"].Text)
	assert.Equal(t, []string{"Open"}, row.Cells["Status"].Options, "local edit lost to policy")

	conflicts, err := fx.store.ListConflicts(context.Background(), true)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, "cells", conflicts[0].Component)
	assert.Equal(t, "remote", conflicts[0].Winner)
	assert.Equal(t, config.PolicyRemoteWins, conflicts[0].Policy)
	assert.Nil(t, conflicts[0].ResolvedAt)
}

func TestConflictLocalWins(t *testing.T) {
	fx := newFixture(t, seedSimpleRemote(), func(c *config.Config) {
		c.ConflictPolicy = config.PolicyLocalWins
	})
	fx.run(t)

	tbl := loadTable(t, fx, "D1")
	cell := tbl.Rows[0].Cells["Status"]
	cell.Options = []string{"Done"}
	tbl.Rows[0].Cells["Status"] = cell
	saveTable(t, fx, "D1", tbl)

	fx.fr.setPageValue("ds1", "r1", "Title",
		remote.Value{Type: remote.TypeTitle, Title: remote.Text("Alpha prime")},
		runOneAt.Add(30*time.Minute))

	fx.clock.advance(time.Hour)
	res := fx.run(t)

	assert.Equal(t, 1, res.Databases[0].Upsert.Conflicted)
	assert.Equal(t, 1, fx.fr.updated["r1"])

	page := fx.fr.pages["ds1"][0]
	assert.Equal(t, "Alpha", remote.Plain(page.Properties["Title"].Title), "local title overwrote the remote edit")
	assert.Equal(t, "Done", page.Properties["Status"].Status.Name)
}

func TestRemoteColumnAddedBeforeSynthetics(t *testing.T) {
	fx := newFixture(t, seedSimpleRemote(), nil)
	fx.run(t)

	fx.fr.mu.Lock()
	fx.fr.schemas["ds1"].Properties["Priority"] = remote.Property{Name: "Priority", Type: remote.TypeNumber}
	fx.fr.mu.Unlock()

	fx.clock.advance(time.Hour)
	res := fx.run(t)

	db := res.Databases[0]
	require.False(t, db.Schema.Empty())
	assert.Equal(t, "Priority", db.Schema.Changes[0].Column)
	assert.Equal(t, ActionAddedLocal, db.Schema.Changes[0].Action)

	lines := csvLines(t, fx, "D1")
	assert.Equal(t, "Title,Status,Priority,__rowKey,__lastSyncTimestamp", lines[0])
}

func TestLocalColumnCreatedRemotely(t *testing.T) {
	fx := newFixture(t, seedSimpleRemote(), nil)
	fx.run(t)

	tbl := loadTable(t, fx, "D1")
	tbl.EnsureColumn(table.Column{Name: "Notes", Kind: table.KindText})
	saveTable(t, fx, "D1", tbl)

	fx.clock.advance(time.Hour)
	res := fx.run(t)

	db := res.Databases[0]
	require.False(t, db.Schema.Empty())

	fx.fr.mu.Lock()
	prop, ok := fx.fr.schemas["ds1"].Properties["Notes"]
	fx.fr.mu.Unlock()

	require.True(t, ok)
	assert.Equal(t, remote.TypeRichText, prop.Type)
}

func TestTitleRenameMovesRecordFile(t *testing.T) {
	fx := newFixture(t, seedSimpleRemote(), nil)
	fx.run(t)

	fx.fr.setPageValue("ds1", "r1", "Title",
		remote.Value{Type: remote.TypeTitle, Title: remote.Text("Alpha v2")},
		runOneAt.Add(30*time.Minute))

	fx.clock.advance(time.Hour)
	res := fx.run(t)

	db := res.Databases[0]
	assert.Equal(t, 1, db.Export.Updated)

	_, err := os.Stat(filepath.Join(fx.folder("D1"), "Alpha.txt"))
	assert.True(t, os.IsNotExist(err), "old record file is moved, not copied")

	renamed := readRecord(t, fx, "D1", "Alpha v2.txt")
	assert.Contains(t, renamed, "Alpha body", "contents survive the rename")

	base, err := fx.store.GetRecordName(context.Background(), "db1", "r1")
	require.NoError(t, err)
	assert.Equal(t, "Alpha v2", base)
}

func TestSingleInProgressDemotion(t *testing.T) {
	fr := newFakeRemote()
	fr.databases = []remote.Database{{ID: "agent-db", Title: remote.Text("Agent Tasks")}}
	fr.dsByDB["agent-db"] = "ds-agent"
	fr.schemas["ds-agent"] = &remote.DataSource{
		ID: "ds-agent",
		Properties: map[string]remote.Property{
			"Task": {Name: "Task", Type: remote.TypeTitle},
			"Status": {Name: "Status", Type: remote.TypeStatus,
				Status: &remote.OptionSet{Options: []remote.Option{
					{Name: "Ready"}, {Name: "In Progress"}, {Name: "Done"},
				}}},
		},
	}
	fr.pages["ds-agent"] = []remote.Page{
		{
			ID:             "t1",
			LastEditedTime: remoteEdit,
			Properties: map[string]remote.Value{
				"Task":   {Type: remote.TypeTitle, Title: remote.Text("First")},
				"Status": {Type: remote.TypeStatus, Status: &remote.Option{Name: "In Progress"}},
			},
		},
		{
			ID:             "t2",
			LastEditedTime: remoteEdit.Add(30 * time.Minute),
			Properties: map[string]remote.Value{
				"Task":   {Type: remote.TypeTitle, Title: remote.Text("Second")},
				"Status": {Type: remote.TypeStatus, Status: &remote.Option{Name: "In Progress"}},
			},
		},
	}

	fx := newFixture(t, fr, func(c *config.Config) {
		c.AgentTasksDatabaseID = "agent-db"
	})

	res := fx.run(t)

	require.Len(t, res.Databases, 1)
	assert.Equal(t, 1, fr.updated["t1"], "older claimant is demoted")
	assert.Zero(t, fr.updated["t2"], "most recently edited claimant keeps the slot")

	var demoted *remote.Page
	for i := range fr.pages["ds-agent"] {
		if fr.pages["ds-agent"][i].ID == "t1" {
			demoted = &fr.pages["ds-agent"][i]
		}
	}

	require.NotNil(t, demoted)
	assert.Equal(t, "Ready", demoted.Properties["Status"].Status.Name)

	tbl := loadTable(t, fx, "Agent Tasks")
	row := tbl.FindByKey("t1")
	require.NotNil(t, row)
	assert.Equal(t, []string{"Ready"}, row.Cells["Status"].Options)

	found := false
	for _, w := range res.Warnings {
		if w.Component == "invariants" && w.Kind == KindInvariant {
			found = true
		}
	}
	assert.True(t, found, "demotion is surfaced as a warning")
}

func TestOrphanRowArchived(t *testing.T) {
	fx := newFixture(t, seedSimpleRemote(), nil)
	fx.run(t)

	fx.fr.removePage("ds1", "r2")

	fx.clock.advance(time.Hour)
	res := fx.run(t)

	db := res.Databases[0]
	assert.Equal(t, 1, db.Record.Archived)

	_, err := os.Stat(filepath.Join(fx.folder("D1"), "Beta.txt"))
	assert.True(t, os.IsNotExist(err))

	_, err = os.Stat(filepath.Join(fx.folder("D1"), archiveDirName, "Beta.txt"))
	assert.NoError(t, err, "record file moved into the archive")

	snapshots, err := filepath.Glob(filepath.Join(fx.folder("D1"), archiveDirName, "table-*.csv"))
	require.NoError(t, err)
	assert.Len(t, snapshots, 1, "table snapshot taken before removing rows")

	tbl := loadTable(t, fx, "D1")
	require.Len(t, tbl.Rows, 1)
	assert.Equal(t, "r1", tbl.Rows[0].RowKey)

	base, err := fx.store.GetRecordName(context.Background(), "db1", "r2")
	require.NoError(t, err)
	assert.Empty(t, base, "remembered file name released")
}

func TestOrphanLeftInPlaceWhenArchivingDisabled(t *testing.T) {
	off := false

	fx := newFixture(t, seedSimpleRemote(), func(c *config.Config) {
		c.DeletionArchivesRecords = &off
	})
	fx.run(t)

	fx.fr.removePage("ds1", "r2")

	fx.clock.advance(time.Hour)
	res := fx.run(t)

	assert.Equal(t, 0, res.Databases[0].Record.Archived)

	_, err := os.Stat(filepath.Join(fx.folder("D1"), "Beta.txt"))
	assert.NoError(t, err)

	tbl := loadTable(t, fx, "D1")
	assert.Len(t, tbl.Rows, 2)
}

func TestDatabaseRenameMovesFolder(t *testing.T) {
	fx := newFixture(t, seedSimpleRemote(), nil)
	fx.run(t)

	fx.fr.mu.Lock()
	fx.fr.databases[0].Title = remote.Text("D1 Renamed")
	fx.fr.mu.Unlock()

	fx.clock.advance(time.Hour)
	fx.run(t)

	_, err := os.Stat(fx.folder("D1"))
	assert.True(t, os.IsNotExist(err), "old folder is gone after the move")

	_, err = os.Stat(filepath.Join(fx.folder("D1 Renamed"), table.FileName))
	assert.NoError(t, err)

	alpha := readRecord(t, fx, "D1 Renamed", "Alpha.txt")
	assert.Contains(t, alpha, "Alpha body", "record files move with the folder")

	entry, ok := fx.reg.Get("db1")
	require.True(t, ok)
	assert.Equal(t, fx.folder("D1 Renamed"), entry.FolderPath)
}

func TestDuplicateRegistryEntriesConsolidated(t *testing.T) {
	fx := newFixture(t, seedSimpleRemote(), nil)
	fx.run(t)

	fx.reg.Upsert(registry.Entry{
		ID:          "db1-old",
		DisplayName: "D1",
		FolderPath:  fx.folder("D1 old"),
		Environment: "dev",
	})

	fx.clock.advance(time.Hour)
	res := fx.run(t)

	entry, ok := fx.reg.Get("db1-old")
	require.True(t, ok)
	assert.Equal(t, fx.folder("D1"), entry.FolderPath, "duplicate re-pointed at the surviving folder")

	found := false
	for _, w := range res.Warnings {
		if w.Component == "discovery" && strings.Contains(w.Message, "consolidated") {
			found = true
		}
	}
	assert.True(t, found)
}

func TestLocallyAuthoredRowCreated(t *testing.T) {
	fx := newFixture(t, seedSimpleRemote(), nil)
	fx.run(t)

	tbl := loadTable(t, fx, "D1")
	tbl.AppendRow(table.Row{Cells: map[string]table.Cell{
		"Title":  table.TextCell(table.KindTitle, "Gamma"),
		"Status": {Kind: table.KindStatus, Options: []string{"Open"}},
	}})
	saveTable(t, fx, "D1", tbl)

	fx.clock.advance(time.Hour)
	res := fx.run(t)

	db := res.Databases[0]
	assert.Equal(t, 1, db.Upsert.Created)
	assert.Equal(t, 1, fx.fr.created)

	tbl = loadTable(t, fx, "D1")
	require.Len(t, tbl.Rows, 3)
	assert.NotEmpty(t, tbl.Rows[2].RowKey, "remote id stamped after the push")

	gamma := readRecord(t, fx, "D1", "Gamma.txt")
	assert.Contains(t, gamma, "rowKey: "+tbl.Rows[2].RowKey)

	// The created row settles on the next run.
	fx.clock.advance(time.Hour)
	res = fx.run(t)

	db = res.Databases[0]
	assert.Equal(t, 0, db.Upsert.Created)
	assert.Equal(t, 3, db.Export.Unchanged)
}

func TestTitlelessLocalRowSkipped(t *testing.T) {
	fx := newFixture(t, seedSimpleRemote(), nil)
	fx.run(t)

	tbl := loadTable(t, fx, "D1")
	tbl.AppendRow(table.Row{Cells: map[string]table.Cell{
		"Status": {Kind: table.KindStatus, Options: []string{"Open"}},
	}})
	saveTable(t, fx, "D1", tbl)

	fx.clock.advance(time.Hour)
	res := fx.run(t)

	assert.Equal(t, 0, res.Databases[0].Upsert.Created)
	assert.Equal(t, 0, fx.fr.created)

	found := false
	for _, w := range res.Warnings {
		if w.Component == "upsert" && strings.Contains(w.Message, "title") {
			found = true
		}
	}
	assert.True(t, found)
}

func TestLocalBodyEditPushed(t *testing.T) {
	fx := newFixture(t, seedSimpleRemote(), nil)
	fx.run(t)

	path := filepath.Join(fx.folder("D1"), "Alpha.txt")

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	edited := strings.Replace(string(data), "Alpha body", "Alpha body edited", 1)
	require.NoError(t, os.WriteFile(path, []byte(edited), 0o644))

	// The write above stamps a real mtime, which is after the pinned
	// last-sync time, so the file reads as locally edited.
	future := runOneAt.Add(30 * time.Minute)
	require.NoError(t, os.Chtimes(path, future, future))

	fx.clock.advance(time.Hour)
	res := fx.run(t)

	assert.Equal(t, 1, res.Databases[0].Record.Updated)
	assert.Equal(t, 1, fx.fr.replaced["r1"])
	assert.Equal(t, "Alpha body edited", remote.Plain(fx.fr.blocks["r1"][0].Content()))

	// The push settles; nothing is re-pushed next run.
	fx.clock.advance(time.Hour)
	res = fx.run(t)

	assert.Equal(t, 0, res.Databases[0].Record.Updated)
	assert.Equal(t, 1, fx.fr.replaced["r1"])
}

func TestRecordConflictRemoteWins(t *testing.T) {
	fx := newFixture(t, seedSimpleRemote(), nil)
	fx.run(t)

	path := filepath.Join(fx.folder("D1"), "Alpha.txt")

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	edited := strings.Replace(string(data), "Alpha body", "Alpha body edited", 1)
	require.NoError(t, os.WriteFile(path, []byte(edited), 0o644))
	localEdit := runOneAt.Add(30 * time.Minute)
	require.NoError(t, os.Chtimes(path, localEdit, localEdit))

	fx.fr.mu.Lock()
	fx.fr.blocks["r1"] = []remote.Block{
		{Type: "paragraph", Paragraph: &remote.BlockContent{RichText: remote.Text("Rewritten remotely")}},
	}
	fx.fr.mu.Unlock()
	fx.fr.setPageValue("ds1", "r1", "Title",
		remote.Value{Type: remote.TypeTitle, Title: remote.Text("Alpha")},
		runOneAt.Add(45*time.Minute))

	fx.clock.advance(time.Hour)
	fx.run(t)

	alpha := readRecord(t, fx, "D1", "Alpha.txt")
	assert.Contains(t, alpha, "Rewritten remotely")
	assert.NotContains(t, alpha, "Alpha body edited")
	assert.Empty(t, fx.fr.replaced, "losing local body is never pushed")

	conflicts, err := fx.store.ListConflicts(context.Background(), true)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, "content", conflicts[0].Component)
	assert.Equal(t, "remote", conflicts[0].Winner)
}

func TestRemoteBodyEditPulled(t *testing.T) {
	fx := newFixture(t, seedSimpleRemote(), nil)
	fx.run(t)

	fx.fr.mu.Lock()
	fx.fr.blocks["r1"] = []remote.Block{
		{Type: "paragraph", Paragraph: &remote.BlockContent{RichText: remote.Text("Rewritten remotely")}},
	}
	fx.fr.mu.Unlock()
	fx.fr.setPageValue("ds1", "r1", "Title",
		remote.Value{Type: remote.TypeTitle, Title: remote.Text("Alpha")},
		runOneAt.Add(30*time.Minute))

	fx.clock.advance(time.Hour)
	res := fx.run(t)

	assert.GreaterOrEqual(t, res.Databases[0].Record.Updated, 1)

	alpha := readRecord(t, fx, "D1", "Alpha.txt")
	assert.Contains(t, alpha, "Rewritten remotely")
	assert.NotContains(t, alpha, "Alpha body")
}

func TestDryRunTouchesNothing(t *testing.T) {
	fr := seedSimpleRemote()
	fx := newFixture(t, fr, nil)

	dry := New(Options{
		Config:   fx.cfg,
		API:      fr,
		Logger:   discardLogger(),
		Registry: fx.reg,
		State:    fx.store,
		Lock:     &fakeLock{available: true},
		Clock:    fx.clock,
		DryRun:   true,
	})

	res, err := dry.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, res.Databases, 1)
	assert.Equal(t, 2, res.Databases[0].Export.Added)

	_, statErr := os.Stat(filepath.Join(fx.root, "dev", "databases"))
	assert.True(t, os.IsNotExist(statErr), "dry run creates no folders")
	assert.Equal(t, 0, fr.created)
	assert.Empty(t, fr.updated)
	assert.Empty(t, fr.replaced)
}
