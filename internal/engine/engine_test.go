package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basesync/basesync/internal/config"
	"github.com/basesync/basesync/internal/registry"
	"github.com/basesync/basesync/internal/remote"
	"github.com/basesync/basesync/internal/state"
)

var (
	remoteEdit = time.Date(2026, 8, 26, 8, 0, 0, 0, time.UTC)
	runOneAt   = time.Date(2026, 8, 26, 9, 0, 0, 0, time.UTC)
)

// fakeClock is a settable clock; step, when non-zero, advances it on every
// read to simulate a run eating its budget.
type fakeClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(c.step)

	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeLock struct {
	available bool
	acquired  int
	released  int
}

func (l *fakeLock) Acquire(context.Context, time.Duration) (bool, error) {
	if !l.available {
		return false, nil
	}

	l.acquired++

	return true, nil
}

func (l *fakeLock) Release() error {
	l.released++
	return nil
}

type recordingScheduler struct {
	paused  []string
	resumed []string
}

func (s *recordingScheduler) Pause(_ context.Context, name string) error {
	s.paused = append(s.paused, name)
	return nil
}

func (s *recordingScheduler) Resume(_ context.Context, name string) error {
	s.resumed = append(s.resumed, name)
	return nil
}

// fakeRemote is an in-memory remote store.
type fakeRemote struct {
	mu  sync.Mutex
	now func() time.Time

	databases []remote.Database
	dsByDB    map[string]string
	schemas   map[string]*remote.DataSource // by data source id
	pages     map[string][]remote.Page      // by data source id
	blocks    map[string][]remote.Block     // by page id

	nextID      int
	created     int
	updated     map[string]int
	optionCalls int
	replaced    map[string]int
	resolves    int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		dsByDB:   make(map[string]string),
		schemas:  make(map[string]*remote.DataSource),
		pages:    make(map[string][]remote.Page),
		blocks:   make(map[string][]remote.Block),
		updated:  make(map[string]int),
		replaced: make(map[string]int),
		now:      time.Now,
	}
}

func (f *fakeRemote) SearchDatabases(context.Context) ([]remote.Database, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]remote.Database(nil), f.databases...), nil
}

func (f *fakeRemote) ResolveDataSource(_ context.Context, databaseID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.resolves++

	ds, ok := f.dsByDB[databaseID]
	if !ok {
		return "", fmt.Errorf("remote: database %s has no data source", databaseID)
	}

	return ds, nil
}

func (f *fakeRemote) GetDataSource(_ context.Context, dataSourceID string) (*remote.DataSource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ds, ok := f.schemas[dataSourceID]
	if !ok {
		return nil, fmt.Errorf("remote: no data source %s", dataSourceID)
	}

	return ds, nil
}

func (f *fakeRemote) QueryAllPages(_ context.Context, dataSourceID string) ([]remote.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]remote.Page(nil), f.pages[dataSourceID]...), nil
}

func (f *fakeRemote) CreatePage(_ context.Context, dataSourceID string, properties map[string]remote.Value) (*remote.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextID++
	f.created++

	page := remote.Page{
		ID:             fmt.Sprintf("new-%d", f.nextID),
		CreatedTime:    f.now(),
		LastEditedTime: f.now(),
		Properties:     properties,
	}

	f.pages[dataSourceID] = append(f.pages[dataSourceID], page)

	return &page, nil
}

func (f *fakeRemote) UpdatePage(_ context.Context, pageID string, properties map[string]remote.Value) (*remote.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for dsID, pages := range f.pages {
		for i := range pages {
			if pages[i].ID != pageID {
				continue
			}

			for k, v := range properties {
				pages[i].Properties[k] = v
			}

			pages[i].LastEditedTime = f.now()
			f.pages[dsID] = pages
			f.updated[pageID]++

			page := pages[i]

			return &page, nil
		}
	}

	return nil, fmt.Errorf("remote: no page %s", pageID)
}

func (f *fakeRemote) CreateProperty(_ context.Context, dataSourceID, name string, prop remote.Property) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	prop.Name = name
	f.schemas[dataSourceID].Properties[name] = prop

	return nil
}

func (f *fakeRemote) DeleteProperty(_ context.Context, dataSourceID, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.schemas[dataSourceID].Properties, name)

	return nil
}

func (f *fakeRemote) UpdateSelectOptions(_ context.Context, dataSourceID, name, propType string, options []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.optionCalls++

	set := &remote.OptionSet{}
	for _, o := range options {
		set.Options = append(set.Options, remote.Option{Name: o})
	}

	prop := f.schemas[dataSourceID].Properties[name]

	switch propType {
	case remote.TypeSelect:
		prop.Select = set
	case remote.TypeMultiSelect:
		prop.MultiSelect = set
	case remote.TypeStatus:
		prop.Status = set
	}

	f.schemas[dataSourceID].Properties[name] = prop

	return nil
}

func (f *fakeRemote) ListBlockChildren(_ context.Context, blockID string) ([]remote.Block, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]remote.Block(nil), f.blocks[blockID]...), nil
}

func (f *fakeRemote) ReplaceBlockChildren(_ context.Context, pageID string, blocks []remote.Block) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.blocks[pageID] = blocks
	f.replaced[pageID]++

	return nil
}

// setPageValue edits a page property and bumps its last-edited time.
func (f *fakeRemote) setPageValue(dataSourceID, pageID, prop string, v remote.Value, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()

	pages := f.pages[dataSourceID]
	for i := range pages {
		if pages[i].ID == pageID {
			pages[i].Properties[prop] = v
			pages[i].LastEditedTime = at
		}
	}
}

func (f *fakeRemote) removePage(dataSourceID, pageID string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	pages := f.pages[dataSourceID][:0]
	for _, p := range f.pages[dataSourceID] {
		if p.ID != pageID {
			pages = append(pages, p)
		}
	}

	f.pages[dataSourceID] = pages
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	cfg   *config.Config
	fr    *fakeRemote
	clock *fakeClock
	lock  *fakeLock
	sched *recordingScheduler
	eng   *Engine
	store *state.Store
	reg   *registry.Registry
	root  string
}

func newFixture(t *testing.T, fr *fakeRemote, mutate func(*config.Config)) *fixture {
	t.Helper()

	root := t.TempDir()

	cfg := &config.Config{
		CredentialHandle: "token",
		RootPath:         root,
		Environment:      "dev",
		MaxRun:           25 * time.Minute,
		LockWait:         time.Second,
	}

	if mutate != nil {
		mutate(cfg)
	}

	clock := &fakeClock{now: runOneAt}
	fr.now = func() time.Time {
		clock.mu.Lock()
		defer clock.mu.Unlock()

		return clock.now
	}

	logger := discardLogger()

	envDir := filepath.Join(root, "dev")
	require.NoError(t, os.MkdirAll(envDir, 0o755))

	reg, err := registry.Open(filepath.Join(envDir, registry.FileName), logger)
	require.NoError(t, err)

	store, err := state.Open(filepath.Join(envDir, state.FileName), logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	lock := &fakeLock{available: true}
	sched := &recordingScheduler{}

	eng := New(Options{
		Config:    cfg,
		API:       fr,
		Logger:    logger,
		Registry:  reg,
		State:     store,
		Lock:      lock,
		Clock:     clock,
		Scheduler: sched,
	})

	return &fixture{
		cfg: cfg, fr: fr, clock: clock, lock: lock, sched: sched,
		eng: eng, store: store, reg: reg, root: root,
	}
}

func (fx *fixture) run(t *testing.T) *RunResult {
	t.Helper()

	res, err := fx.eng.Run(context.Background())
	require.NoError(t, err)

	return res
}

func (fx *fixture) folder(name string) string {
	return filepath.Join(fx.root, "dev", "databases", name)
}

// seedSimpleRemote builds a database D1 with Title/Status columns and rows
// Alpha (Open) and Beta (Done).
func seedSimpleRemote() *fakeRemote {
	fr := newFakeRemote()

	fr.databases = []remote.Database{{ID: "db1", Title: remote.Text("D1"), LastEditedTime: remoteEdit}}
	fr.dsByDB["db1"] = "ds1"
	fr.schemas["ds1"] = &remote.DataSource{
		ID: "ds1",
		Properties: map[string]remote.Property{
			"Title": {Name: "Title", Type: remote.TypeTitle},
			"Status": {Name: "Status", Type: remote.TypeStatus,
				Status: &remote.OptionSet{Options: []remote.Option{{Name: "Open"}, {Name: "Done"}}}},
		},
	}

	fr.pages["ds1"] = []remote.Page{
		{
			ID:             "r1",
			LastEditedTime: remoteEdit,
			Properties: map[string]remote.Value{
				"Title":  {Type: remote.TypeTitle, Title: remote.Text("Alpha")},
				"Status": {Type: remote.TypeStatus, Status: &remote.Option{Name: "Open"}},
			},
		},
		{
			ID:             "r2",
			LastEditedTime: remoteEdit,
			Properties: map[string]remote.Value{
				"Title":  {Type: remote.TypeTitle, Title: remote.Text("Beta")},
				"Status": {Type: remote.TypeStatus, Status: &remote.Option{Name: "Done"}},
			},
		},
	}

	fr.blocks["r1"] = []remote.Block{{Type: "paragraph", Paragraph: &remote.BlockContent{RichText: remote.Text("Alpha body")}}}

	return fr
}

func TestRun_LockContentionIsCleanExit(t *testing.T) {
	fx := newFixture(t, seedSimpleRemote(), nil)
	fx.lock.available = false

	res := fx.run(t)

	assert.False(t, res.LockHeld)
	assert.False(t, res.Failed)
	assert.Empty(t, res.Databases)
	assert.Empty(t, fx.sched.paused, "triggers stay untouched when the lock is held elsewhere")
}

func TestRun_PausesAndResumesOwnTriggerOnly(t *testing.T) {
	fx := newFixture(t, seedSimpleRemote(), nil)

	fx.run(t)

	assert.Equal(t, []string{HandlerName}, fx.sched.paused)
	assert.Equal(t, []string{HandlerName}, fx.sched.resumed)
	assert.Equal(t, 1, fx.lock.acquired)
	assert.Equal(t, 1, fx.lock.released)
}

func TestRun_BudgetExhaustedSkipsDatabases(t *testing.T) {
	fx := newFixture(t, seedSimpleRemote(), func(c *config.Config) {
		c.MaxRun = 10 * time.Second
	})

	res := fx.run(t)

	require.Len(t, res.Databases, 1)
	assert.Equal(t, StatusSkipped, res.Databases[0].Status)
}

func TestRun_BudgetExhaustedMidDatabaseIsPartial(t *testing.T) {
	fx := newFixture(t, seedSimpleRemote(), nil)
	// Every clock read burns ten minutes; the 25 minute budget dies
	// between rows, not before the database starts.
	fx.clock.step = 10 * time.Minute

	res := fx.run(t)

	require.Len(t, res.Databases, 1)
	assert.Equal(t, StatusPartial, res.Databases[0].Status)
}

func TestRun_RotationPointerStopsAtLastProcessed(t *testing.T) {
	fr := seedSimpleRemote()
	fr.databases = append(fr.databases, remote.Database{ID: "db2", Title: remote.Text("D2"), LastEditedTime: remoteEdit})
	fr.dsByDB["db2"] = "ds2"
	fr.schemas["ds2"] = &remote.DataSource{
		ID:         "ds2",
		Properties: map[string]remote.Property{"Title": {Name: "Title", Type: remote.TypeTitle}},
	}

	fx := newFixture(t, fr, nil)
	fx.clock.step = 10 * time.Minute

	res := fx.run(t)

	require.Len(t, res.Databases, 2)
	assert.Equal(t, StatusPartial, res.Databases[0].Status)
	assert.Equal(t, StatusSkipped, res.Databases[1].Status)
	assert.Equal(t, "db1", fx.reg.RotationPointer(),
		"skipped databases lead the next run instead of sitting at the tail again")
}

func TestRun_ResolvesDataSourceOncePerDatabase(t *testing.T) {
	fx := newFixture(t, seedSimpleRemote(), nil)

	fx.run(t)

	assert.Equal(t, 1, fx.fr.resolves, "discovery's resolution is reused by the pipeline")
}

func TestRun_DeniedDatabaseExcluded(t *testing.T) {
	fx := newFixture(t, seedSimpleRemote(), func(c *config.Config) {
		c.DatabaseDenyList = []string{"db1"}
	})

	res := fx.run(t)

	assert.Empty(t, res.Databases)
}

func TestRun_UnresolvableDataSourceSkippedWithWarning(t *testing.T) {
	fr := seedSimpleRemote()
	fr.databases = append(fr.databases, remote.Database{ID: "db2", Title: remote.Text("NoSource")})

	fx := newFixture(t, fr, nil)
	res := fx.run(t)

	require.Len(t, res.Databases, 1)
	assert.Equal(t, "db1", res.Databases[0].ID)
	require.NotEmpty(t, res.Warnings)
	assert.Equal(t, "discovery", res.Warnings[0].Component)
}

func TestOrderDatabases_AgentTasksSecondSlot(t *testing.T) {
	fx := newFixture(t, newFakeRemote(), func(c *config.Config) {
		c.AgentTasksDatabaseID = "agent"
	})

	dbs := []remote.Database{{ID: "a"}, {ID: "b"}, {ID: "agent"}, {ID: "c"}}
	ordered := fx.eng.orderDatabases(dbs)

	ids := make([]string, len(ordered))
	for i, db := range ordered {
		ids[i] = db.ID
	}

	assert.Equal(t, []string{"a", "agent", "b", "c"}, ids)
}

func TestRotateAfter(t *testing.T) {
	dbs := []remote.Database{{ID: "a"}, {ID: "b"}, {ID: "c"}}

	ids := func(in []remote.Database) []string {
		out := make([]string, len(in))
		for i, db := range in {
			out[i] = db.ID
		}

		return out
	}

	assert.Equal(t, []string{"a", "b", "c"}, ids(rotateAfter(dbs, "")))
	assert.Equal(t, []string{"c", "a", "b"}, ids(rotateAfter(dbs, "b")))
	assert.Equal(t, []string{"a", "b", "c"}, ids(rotateAfter(dbs, "unknown")))
}

func TestUnionOptions(t *testing.T) {
	union, changedRemote := unionOptions([]string{"Open", "Done"}, []string{"Done", "Blocked"})

	assert.Equal(t, []string{"Open", "Done", "Blocked"}, union)
	assert.True(t, changedRemote, "remote is missing Blocked")

	union, changedRemote = unionOptions([]string{"Open"}, []string{"Open"})
	assert.Equal(t, []string{"Open"}, union)
	assert.False(t, changedRemote)

	union, changedRemote = unionOptions([]string{"Open", "Done"}, nil)
	assert.Equal(t, []string{"Open", "Done"}, union)
	assert.False(t, changedRemote, "hydrating empty local options is not a remote change")
}

func TestBlocksBodyRoundTrip(t *testing.T) {
	blocks := []remote.Block{
		{Type: "heading_1", Heading1: &remote.BlockContent{RichText: remote.Text("Top")}},
		{Type: "paragraph", Paragraph: &remote.BlockContent{RichText: remote.Text("Some text")}},
		{Type: "bulleted_list_item", Bulleted: &remote.BlockContent{RichText: remote.Text("one")}},
		{Type: "numbered_list_item", Numbered: &remote.BlockContent{RichText: remote.Text("two")}},
	}

	body := blocksToBody(blocks)
	back := bodyToBlocks(body)

	require.Len(t, back, len(blocks))

	for i := range blocks {
		assert.Equal(t, blocks[i].Type, back[i].Type)
		assert.Equal(t, remote.Plain(blocks[i].Content()), remote.Plain(back[i].Content()))
	}
}
