// Package config implements TOML configuration loading, environment
// overrides, and validation for basesync. The engine receives a fully
// resolved Config; credential material is never written back to disk.
package config

import "time"

// Default values applied before the file and environment are read.
const (
	DefaultEnvironment  = "dev"
	DefaultMaxRun       = 25 * time.Minute
	DefaultLockWait     = 8 * time.Second
	DefaultBaseURL      = "https://api.basehq.example"
	DefaultLogLevel     = "info"
	DefaultDemoteStatus = "Ready"
)

// Conflict policies.
const (
	PolicyRemoteWins = "remote-wins"
	PolicyLocalWins  = "local-wins"
)

// Config is the top-level configuration parsed from a TOML file. Durations
// are strings in the file ("25m", "8s") and resolved to typed fields by
// Validate.
type Config struct {
	CredentialHandle string `toml:"credential_handle"`
	RootPath         string `toml:"root_path"`
	Environment      string `toml:"environment"`
	BaseURL          string `toml:"base_url"`

	DatabaseAllowList []string `toml:"database_allow_list"`
	DatabaseDenyList  []string `toml:"database_deny_list"`

	AllowSchemaDeletions    bool              `toml:"allow_schema_deletions"`
	ConflictPolicy          string            `toml:"conflict_policy"`
	ConflictPolicyOverrides map[string]string `toml:"conflict_policy_overrides"`
	RequireItemTypeColumn   bool              `toml:"require_item_type_column"`
	DeletionArchivesRecords *bool             `toml:"deletion_archives_records"` // nil → default true
	AgentTasksDatabaseID    string            `toml:"agent_tasks_database_id"`
	DemoteStatus            string            `toml:"demote_status"`

	// Database holding one execution page per run. Empty disables the
	// remote page sink; on-disk logs are always written.
	RunLogDatabaseID string `toml:"run_log_database_id"`

	MaxRunDuration   string `toml:"max_run_duration"`
	LockWaitDuration string `toml:"lock_wait_duration"`

	LogLevel string `toml:"log_level"`

	// Resolved by Validate; not part of the file format.
	MaxRun   time.Duration `toml:"-"`
	LockWait time.Duration `toml:"-"`
}

// ArchiveDeletions reports the effective deletionArchivesRecords setting.
// The default is archive: tombstoning in place loses content on the next
// export, archiving never does.
func (c *Config) ArchiveDeletions() bool {
	if c.DeletionArchivesRecords == nil {
		return true
	}

	return *c.DeletionArchivesRecords
}

// PolicyFor returns the conflict policy for a database, falling back to the
// global policy.
func (c *Config) PolicyFor(databaseID string) string {
	if p, ok := c.ConflictPolicyOverrides[databaseID]; ok {
		return p
	}

	if c.ConflictPolicy != "" {
		return c.ConflictPolicy
	}

	return PolicyRemoteWins
}

// Allows reports whether the allow/deny lists permit processing the
// database. The deny list always wins.
func (c *Config) Allows(databaseID string) bool {
	for _, id := range c.DatabaseDenyList {
		if id == databaseID {
			return false
		}
	}

	if len(c.DatabaseAllowList) == 0 {
		return true
	}

	for _, id := range c.DatabaseAllowList {
		if id == databaseID {
			return true
		}
	}

	return false
}
