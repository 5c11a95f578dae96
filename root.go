package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/basesync/basesync/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagVerbose    bool
	flagQuiet      bool
)

// loadedCfg holds the configuration resolved by PersistentPreRunE.
var loadedCfg *config.Config

// httpClientTimeout bounds every remote request so a hung connection cannot
// stall the run past its budget.
const httpClientTimeout = 30 * time.Second

func defaultHTTPClient() *http.Client {
	return &http.Client{Timeout: httpClientTimeout}
}

// newRootCmd builds the fully-assembled root command. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "basesync",
		Short:   "Two-way sync between a hosted database service and local folders",
		Long:    "basesync mirrors remote databases into per-database folders (table.csv plus one record file per row) and pushes local edits back.",
		Version: version,
		// Silence Cobra's default error/usage printing; we handle it ourselves.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "version" {
				return nil
			}

			return loadConfig()
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path (default basesync.toml)")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newConflictsCmd())
	cmd.AddCommand(newRunsCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// loadConfig reads .env (credentials are commonly injected there in
// development), then the TOML file, and stores the result in loadedCfg.
func loadConfig() error {
	_ = godotenv.Load()

	path := flagConfigPath
	if path == "" {
		path = "basesync.toml"
	}

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	loadedCfg = cfg

	return nil
}

// logLevel resolves the effective log level. The config file provides the
// baseline; --verbose and --quiet win because CLI flags always do.
func logLevel() slog.Level {
	level := slog.LevelInfo

	if loadedCfg != nil {
		switch loadedCfg.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}

	if flagVerbose {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	return level
}

// consoleHandler builds the stderr handler: colorized when attached to a
// terminal, plain otherwise.
func consoleHandler() slog.Handler {
	return tint.NewHandler(os.Stderr, &tint.Options{
		Level:   logLevel(),
		NoColor: !isatty.IsTerminal(os.Stderr.Fd()),
	})
}

// buildLogger returns a console-only logger for commands that do not run a
// sync (and therefore have no log file pair).
func buildLogger() *slog.Logger {
	return slog.New(consoleHandler())
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
