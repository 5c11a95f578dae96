// Package engine implements the sync pipeline: one bounded run that
// discovers remote databases, reconciles schema, syncs rows in both
// directions, aligns record files, and enforces the content invariants.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/basesync/basesync/internal/config"
	"github.com/basesync/basesync/internal/match"
	"github.com/basesync/basesync/internal/registry"
	"github.com/basesync/basesync/internal/remote"
	"github.com/basesync/basesync/internal/state"
	"github.com/basesync/basesync/internal/table"
)

// HandlerName identifies this engine's entrypoint to the trigger host.
// Pause/resume is scoped to exactly this name.
const HandlerName = "basesync-run"

// perDatabaseMargin is the minimum remaining budget required to start
// another database.
const perDatabaseMargin = 30 * time.Second

// RemoteAPI is the slice of the remote client the engine consumes. Tests
// substitute fakes; *remote.Client satisfies it.
type RemoteAPI interface {
	SearchDatabases(ctx context.Context) ([]remote.Database, error)
	ResolveDataSource(ctx context.Context, databaseID string) (string, error)
	GetDataSource(ctx context.Context, dataSourceID string) (*remote.DataSource, error)
	QueryAllPages(ctx context.Context, dataSourceID string) ([]remote.Page, error)
	CreatePage(ctx context.Context, dataSourceID string, properties map[string]remote.Value) (*remote.Page, error)
	UpdatePage(ctx context.Context, pageID string, properties map[string]remote.Value) (*remote.Page, error)
	CreateProperty(ctx context.Context, dataSourceID, name string, prop remote.Property) error
	DeleteProperty(ctx context.Context, dataSourceID, name string) error
	UpdateSelectOptions(ctx context.Context, dataSourceID, name, propType string, options []string) error
	ListBlockChildren(ctx context.Context, blockID string) ([]remote.Block, error)
	ReplaceBlockChildren(ctx context.Context, pageID string, blocks []remote.Block) error
}

// Options wires the engine's collaborators.
type Options struct {
	Config    *config.Config
	API       RemoteAPI
	Logger    *slog.Logger
	Registry  *registry.Registry
	State     *state.Store
	Lock      Locker
	Clock     Clock
	Scheduler Scheduler
	DryRun    bool

	// RunID labels the run in results and logs. Empty means generate one.
	RunID string
}

// Engine holds everything one run needs. Not safe for concurrent runs; the
// process lock enforces one run at a time anyway.
type Engine struct {
	cfg     *config.Config
	api     RemoteAPI
	logger  *slog.Logger
	reg     *registry.Registry
	store   *state.Store
	lock    Locker
	clock   Clock
	sched   Scheduler
	matcher *match.Matcher
	caches  *runCaches
	dryRun  bool
	runID   string

	runStart time.Time
	deadline time.Time

	errors   []Issue
	warnings []Issue
}

// New builds an Engine. Missing optional capabilities get no-op defaults.
func New(opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}

	if opts.Scheduler == nil {
		opts.Scheduler = NoopScheduler{}
	}

	return &Engine{
		cfg:     opts.Config,
		api:     opts.API,
		logger:  opts.Logger,
		reg:     opts.Registry,
		store:   opts.State,
		lock:    opts.Lock,
		clock:   opts.Clock,
		sched:   opts.Scheduler,
		matcher: match.New(opts.Logger),
		caches:  newRunCaches(),
		dryRun:  opts.DryRun,
		runID:   opts.RunID,
	}
}

// envRoot returns the environment subtree root.
func (e *Engine) envRoot() string {
	return filepath.Join(e.cfg.RootPath, e.cfg.Environment)
}

// databasesRoot returns the directory holding per-database folders.
func (e *Engine) databasesRoot() string {
	return filepath.Join(e.envRoot(), "databases")
}

// Run executes one bounded sync pass. Lock contention is a clean no-work
// result, not an error. Panics are caught at this boundary and turn the run
// into a failed one.
func (e *Engine) Run(ctx context.Context) (result *RunResult, err error) {
	e.runStart = e.clock.Now().UTC()
	e.deadline = e.runStart.Add(e.cfg.MaxRun)
	e.matcher.Reset()
	e.caches = newRunCaches()
	e.errors = nil
	e.warnings = nil

	runID := e.runID
	if runID == "" {
		runID = uuid.NewString()
	}

	result = &RunResult{
		RunID:   runID,
		Started: e.runStart,
	}

	defer func() {
		if r := recover(); r != nil {
			e.recordError(Issue{
				Component: "orchestrator",
				Kind:      KindProgrammer,
				Message:   fmt.Sprintf("panic: %v", r),
			})
			result.Failed = true
			err = fmt.Errorf("engine: run panicked: %v", r)
		}

		result.Errors = e.errors
		result.Warnings = e.warnings
		result.Finished = e.clock.Now().UTC()
	}()

	held, lockErr := e.lock.Acquire(ctx, e.cfg.LockWait)
	if lockErr != nil {
		e.recordError(Issue{Component: "orchestrator", Kind: KindLock, Message: lockErr.Error()})
		result.Failed = true

		return result, fmt.Errorf("engine: acquiring lock: %w", lockErr)
	}

	if !held {
		e.logger.Info("another instance holds the lock, exiting cleanly")
		return result, nil
	}

	result.LockHeld = true

	defer func() {
		if releaseErr := e.lock.Release(); releaseErr != nil {
			e.logger.Warn("releasing lock", slog.Any("error", releaseErr))
		}
	}()

	if pauseErr := e.sched.Pause(ctx, HandlerName); pauseErr != nil {
		e.recordWarning(Issue{Component: "orchestrator", Kind: KindRemoteTransient,
			Message: fmt.Sprintf("pausing trigger: %v", pauseErr)})
	}

	defer func() {
		if resumeErr := e.sched.Resume(ctx, HandlerName); resumeErr != nil {
			e.recordWarning(Issue{Component: "orchestrator", Kind: KindRemoteTransient,
				Message: fmt.Sprintf("resuming trigger: %v", resumeErr)})
		}
	}()

	databases, discErr := e.Discover(ctx)
	if discErr != nil {
		if remote.IsAuth(discErr) {
			e.recordError(Issue{Component: "discovery", Kind: KindCredential, Message: discErr.Error()})
			result.Failed = true

			return result, fmt.Errorf("engine: credential rejected: %w", discErr)
		}

		e.recordError(Issue{Component: "discovery", Kind: classify(discErr), Message: discErr.Error()})
		result.Failed = true

		return result, nil
	}

	ordered := e.orderDatabases(databases)

	lastProcessed := ""

	for i, db := range ordered {
		if e.clock.Now().Add(perDatabaseMargin).After(e.deadline) {
			e.logger.Warn("run budget nearly exhausted, skipping remaining databases",
				slog.Int("remaining", len(ordered)-i))

			for _, rest := range ordered[i:] {
				result.Databases = append(result.Databases, DatabaseResult{
					ID: rest.ID, Name: rest.DisplayName(), Status: StatusSkipped,
				})
			}

			break
		}

		result.Databases = append(result.Databases, e.processDatabase(ctx, db))
		lastProcessed = db.ID
	}

	// The pointer stops at the last database actually worked on, so a
	// budget-skipped tail leads the next run instead of starving.
	if lastProcessed != "" {
		e.reg.SetRotationPointer(lastProcessed)
	}

	if !e.dryRun {
		if saveErr := e.reg.Save(); saveErr != nil {
			e.recordError(Issue{Component: "registry", Kind: KindLocalIO, Message: saveErr.Error()})
		}
	}

	for _, db := range result.Databases {
		if db.Status == StatusFailed {
			result.Failed = true
		}
	}

	return result, nil
}

// orderDatabases applies the persisted round-robin rotation, then pins the
// agent-tasks database into the second slot when present.
func (e *Engine) orderDatabases(databases []remote.Database) []remote.Database {
	ordered := rotateAfter(databases, e.reg.RotationPointer())

	agentID := e.cfg.AgentTasksDatabaseID
	if agentID == "" || len(ordered) < 2 {
		return ordered
	}

	idx := -1

	for i, db := range ordered {
		if db.ID == agentID {
			idx = i
			break
		}
	}

	if idx < 0 || idx == 1 {
		return ordered
	}

	agent := ordered[idx]
	ordered = append(ordered[:idx], ordered[idx+1:]...)
	ordered = append(ordered[:1], append([]remote.Database{agent}, ordered[1:]...)...)

	return ordered
}

// rotateAfter returns databases reordered to start just past the database
// with the given id. Unknown or empty pointers leave the order unchanged.
func rotateAfter(databases []remote.Database, pointer string) []remote.Database {
	out := append([]remote.Database(nil), databases...)
	if pointer == "" {
		return out
	}

	for i, db := range out {
		if db.ID == pointer {
			return append(out[i+1:], out[:i+1]...)
		}
	}

	return out
}

// processDatabase runs the fixed six-step pipeline for one database. All
// failures are contained here; the engine moves on to the next database.
func (e *Engine) processDatabase(ctx context.Context, db remote.Database) DatabaseResult {
	res := DatabaseResult{ID: db.ID, Name: db.DisplayName(), Status: StatusOK}
	log := e.logger.With(slog.String("component", "pipeline"), slog.String("database", db.ID))

	fail := func(step string, err error) DatabaseResult {
		e.recordError(Issue{Database: db.ID, Component: step, Kind: classify(err), Message: err.Error()})
		res.Status = StatusFailed
		res.Err = err.Error()

		return res
	}

	dsID, ok := e.caches.dataSourceIDs.Get(db.ID)
	if !ok {
		var err error

		dsID, err = e.api.ResolveDataSource(ctx, db.ID)
		if err != nil {
			return fail("discovery", err)
		}

		e.caches.dataSourceIDs.Add(db.ID, dsID)
	}

	folder, err := e.ensureFolder(db)
	if err != nil {
		return fail("folder", err)
	}

	tbl, err := e.loadTable(folder)
	if err != nil {
		return fail("folder", err)
	}

	schema, err := e.fetchSchema(ctx, db.ID, dsID)
	if err != nil {
		return fail("schema", err)
	}

	res.Schema, err = e.syncSchema(ctx, db.ID, dsID, schema, tbl)
	if err != nil {
		return fail("schema", err)
	}

	pages, err := e.api.QueryAllPages(ctx, dsID)
	if err != nil {
		return fail("export", err)
	}

	// Record sync compares against each row's last-sync time as it was
	// before export refreshes it.
	prevSync := make(map[string]time.Time, len(tbl.Rows))
	for i := range tbl.Rows {
		if tbl.Rows[i].RowKey != "" {
			prevSync[tbl.Rows[i].RowKey] = tbl.Rows[i].LastSync
		}
	}

	var partial bool

	res.Export, partial, err = e.exportRows(ctx, db.ID, schema, tbl, pages)
	if err != nil {
		return fail("export", err)
	}

	if partial {
		res.Status = StatusPartial
	}

	var (
		upsertPartial   bool
		orphansArchived int
	)

	res.Upsert, orphansArchived, upsertPartial, err = e.upsertRows(ctx, db, dsID, schema, tbl, pages, folder)
	if err != nil {
		return fail("upsert", err)
	}

	if upsertPartial {
		res.Status = StatusPartial
	}

	res.Record, err = e.syncRecords(ctx, db.ID, tbl, pages, folder, prevSync)
	if err != nil {
		return fail("records", err)
	}

	res.Record.Archived += orphansArchived

	if err := e.enforceInvariants(ctx, db, schema, tbl, pages); err != nil {
		return fail("invariants", err)
	}

	if err := e.saveTable(folder, tbl); err != nil {
		return fail("archival", err)
	}

	if err := e.verifyArchive(folder); err != nil {
		return fail("archival", err)
	}

	log.Info("database processed",
		slog.String("status", string(res.Status)),
		slog.Int("exported", res.Export.Added+res.Export.Updated),
		slog.Int("created", res.Upsert.Created),
		slog.Int("updated", res.Upsert.Updated),
		slog.Int("conflicted", res.Upsert.Conflicted),
	)

	return res
}

// fetchSchema returns the data source schema, cached per run.
func (e *Engine) fetchSchema(ctx context.Context, databaseID, dataSourceID string) (*remote.DataSource, error) {
	if ds, ok := e.caches.schemas.Get(databaseID); ok {
		return ds, nil
	}

	ds, err := e.api.GetDataSource(ctx, dataSourceID)
	if err != nil {
		return nil, err
	}

	e.caches.schemas.Add(databaseID, ds)

	return ds, nil
}

// loadTable reads the folder's canonical table, creating an empty one on
// first sync.
func (e *Engine) loadTable(folder string) (*table.Table, error) {
	tbl, err := table.Load(filepath.Join(folder, table.FileName))
	if err == nil {
		if keyErr := tbl.ValidateKeys(); keyErr != nil {
			return nil, keyErr
		}

		return tbl, nil
	}

	if isNotExist(err) {
		return table.New(nil), nil
	}

	return nil, err
}

// saveTable writes the canonical table unless this is a dry run.
func (e *Engine) saveTable(folder string, tbl *table.Table) error {
	if e.dryRun {
		return nil
	}

	return tbl.Save(filepath.Join(folder, table.FileName))
}

// budgetExceeded reports whether the run deadline has passed.
func (e *Engine) budgetExceeded() bool {
	return e.clock.Now().After(e.deadline)
}

func (e *Engine) recordError(i Issue) {
	e.errors = append(e.errors, i)
	e.logger.Error(i.Message,
		slog.String("component", i.Component),
		slog.String("kind", string(i.Kind)),
		slog.String("database", i.Database),
		slog.String("row", i.Row),
	)
}

func (e *Engine) recordWarning(i Issue) {
	e.warnings = append(e.warnings, i)
	e.logger.Warn(i.Message,
		slog.String("component", i.Component),
		slog.String("kind", string(i.Kind)),
		slog.String("database", i.Database),
		slog.String("row", i.Row),
	)
}
