package config

import (
	"fmt"
	"path/filepath"
	"time"
)

// Validate checks required fields, parses duration strings into the typed
// MaxRun and LockWait fields, and normalizes the root path to absolute.
func (c *Config) Validate() error {
	if c.CredentialHandle == "" {
		return fmt.Errorf("config: credential_handle is required (or set %s)", EnvToken)
	}

	if c.RootPath == "" {
		return fmt.Errorf("config: root_path is required")
	}

	abs, err := filepath.Abs(c.RootPath)
	if err != nil {
		return fmt.Errorf("config: resolving root_path: %w", err)
	}

	c.RootPath = abs

	if c.Environment == "" {
		return fmt.Errorf("config: environment is required")
	}

	if err := validPolicy(c.ConflictPolicy); err != nil {
		return err
	}

	for dbID, p := range c.ConflictPolicyOverrides {
		if err := validPolicy(p); err != nil {
			return fmt.Errorf("config: override for %s: %w", dbID, err)
		}
	}

	c.MaxRun, err = parseDurationOr(c.MaxRunDuration, DefaultMaxRun)
	if err != nil {
		return fmt.Errorf("config: max_run_duration: %w", err)
	}

	c.LockWait, err = parseDurationOr(c.LockWaitDuration, DefaultLockWait)
	if err != nil {
		return fmt.Errorf("config: lock_wait_duration: %w", err)
	}

	if c.MaxRun <= 0 {
		return fmt.Errorf("config: max_run_duration must be positive")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: log_level %q not one of debug, info, warn, error", c.LogLevel)
	}

	return nil
}

func validPolicy(p string) error {
	switch p {
	case PolicyRemoteWins, PolicyLocalWins:
		return nil
	default:
		return fmt.Errorf("config: conflict policy %q not one of %s, %s", p, PolicyRemoteWins, PolicyLocalWins)
	}
}

func parseDurationOr(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("parsing %q: %w", s, err)
	}

	return d, nil
}
