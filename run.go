package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/basesync/basesync/internal/engine"
	"github.com/basesync/basesync/internal/lockfile"
	"github.com/basesync/basesync/internal/registry"
	"github.com/basesync/basesync/internal/remote"
	"github.com/basesync/basesync/internal/runlog"
	"github.com/basesync/basesync/internal/state"
)

const scriptName = "basesync"

func newRunCmd() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one bounded sync pass",
		Long: `Run one sync pass: discover remote databases, reconcile schema, sync
rows in both directions, align record files, and enforce content invariants.

Exits 0 on success and on lock contention (another instance is already
running). Exits non-zero on credential rejection or internal failure.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSync(cmd.Context(), dryRun)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "plan and log without writing to either side")

	return cmd
}

func runSync(ctx context.Context, dryRun bool) error {
	cfg := loadedCfg
	runID := uuid.NewString()
	start := time.Now().UTC()

	envDir := filepath.Join(cfg.RootPath, cfg.Environment)
	if err := os.MkdirAll(envDir, 0o755); err != nil {
		return fmt.Errorf("preparing environment root: %w", err)
	}

	pair, err := runlog.CreatePair(filepath.Join(envDir, "logs"),
		scriptName, version, cfg.Environment, engine.HandlerName, runID, start)
	if err != nil {
		return fmt.Errorf("creating log files: %w", err)
	}

	rl := runlog.New(runlog.Options{
		Pair:    pair,
		RunID:   runID,
		Console: consoleHandler(),
		Level:   logLevel(),
	})
	logger := rl.Slog()

	client := remote.NewClient(cfg.BaseURL, defaultHTTPClient(),
		remote.StaticToken(cfg.CredentialHandle), logger)

	if cfg.RunLogDatabaseID != "" {
		rl.SetPageSink(runlog.NewRemoteSink(client, cfg.RunLogDatabaseID, "", os.Getenv("USER")))
	}

	startRec := runlog.Record{
		RunID:       runID,
		ScriptName:  scriptName,
		ScriptID:    engine.HandlerName,
		Environment: cfg.Environment,
		StartTime:   start,
		Status:      runlog.StatusRunning,
	}

	// A missing execution page never blocks the run; on-disk logs suffice.
	if err := rl.Start(ctx, startRec); err != nil {
		logger.Warn("execution page unavailable", slog.Any("error", err))
	}

	store, err := state.Open(filepath.Join(envDir, state.FileName), logger)
	if err != nil {
		return fmt.Errorf("opening state database: %w", err)
	}
	defer store.Close()

	reg, err := registry.Open(filepath.Join(envDir, registry.FileName), logger)
	if err != nil {
		return fmt.Errorf("opening registry: %w", err)
	}

	eng := engine.New(engine.Options{
		Config:   cfg,
		API:      client,
		Logger:   logger,
		Registry: reg,
		State:    store,
		Lock:     lockfile.New(filepath.Join(envDir, "basesync.lock"), logger),
		DryRun:   dryRun,
		RunID:    runID,
	})

	res, runErr := eng.Run(ctx)

	rec := finalRecord(startRec, res, runErr)

	if res.LockHeld || res.Failed {
		if insertErr := store.InsertRun(ctx, state.Run{
			RunID:       runID,
			ScriptName:  scriptName,
			Environment: cfg.Environment,
			StartedAt:   res.Started,
			FinishedAt:  res.Finished,
			Status:      string(rec.Status),
			Summary:     rec.Summary,
		}); insertErr != nil {
			logger.Warn("recording run history", slog.Any("error", insertErr))
		}
	}

	if finErr := rl.Finalize(context.WithoutCancel(ctx), rec); finErr != nil {
		logger.Warn("finalizing run log", slog.Any("error", finErr))
	}

	if runErr != nil {
		return runErr
	}

	fmt.Println(rec.Summary)

	return nil
}

// finalRecord folds the engine result into the run's closing log record.
func finalRecord(rec runlog.Record, res *engine.RunResult, runErr error) runlog.Record {
	rec.EndTime = res.Finished
	rec.DurationSeconds = res.Finished.Sub(res.Started).Seconds()

	rec.Status = runlog.StatusCompleted
	if res.Failed || runErr != nil {
		rec.Status = runlog.StatusFailed
	}

	for _, db := range res.Databases {
		rec.Steps = append(rec.Steps, runlog.Step{
			Name:   db.Name,
			Status: string(db.Status),
			Detail: db.Err,
		})
	}

	for _, i := range res.Errors {
		rec.Errors = append(rec.Errors, formatIssue(i))
	}

	for _, i := range res.Warnings {
		rec.Warnings = append(rec.Warnings, formatIssue(i))
	}

	switch {
	case !res.LockHeld && runErr == nil:
		rec.Summary = "another instance holds the lock, no work done"
	default:
		rec.Summary = res.Summary()
	}

	rec.Metrics = map[string]float64{
		"durationSeconds": rec.DurationSeconds,
		"databases":       float64(len(res.Databases)),
	}

	return rec
}

func formatIssue(i engine.Issue) string {
	s := fmt.Sprintf("[%s] %s: %s", i.Kind, i.Component, i.Message)
	if i.Database != "" {
		s = fmt.Sprintf("%s (database %s)", s, i.Database)
	}

	return s
}
