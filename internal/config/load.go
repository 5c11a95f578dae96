package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Environment variable overrides. The credential is usually supplied via
// BASESYNC_TOKEN rather than the config file.
const (
	EnvToken       = "BASESYNC_TOKEN"
	EnvRoot        = "BASESYNC_ROOT"
	EnvEnvironment = "BASESYNC_ENVIRONMENT"
	EnvBaseURL     = "BASESYNC_BASE_URL"
)

// Load reads the config file at path, applies defaults and environment
// overrides, and validates the result. A missing file is an error; a
// missing credential only fails validation if the environment does not
// provide one.
func Load(path string) (*Config, error) {
	var cfg Config

	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config: %s: unknown key %q", path, undecoded[0].String())
	}

	applyDefaults(&cfg)
	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyDefaults fills zero-valued fields with defaults.
func applyDefaults(cfg *Config) {
	if cfg.Environment == "" {
		cfg.Environment = DefaultEnvironment
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}

	if cfg.ConflictPolicy == "" {
		cfg.ConflictPolicy = PolicyRemoteWins
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}

	if cfg.DemoteStatus == "" {
		cfg.DemoteStatus = DefaultDemoteStatus
	}
}

// applyEnv overlays environment variables. Env wins over the file because
// deployment environments inject credentials and paths there.
func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvToken); v != "" {
		cfg.CredentialHandle = v
	}

	if v := os.Getenv(EnvRoot); v != "" {
		cfg.RootPath = v
	}

	if v := os.Getenv(EnvEnvironment); v != "" {
		cfg.Environment = v
	}

	if v := os.Getenv(EnvBaseURL); v != "" {
		cfg.BaseURL = v
	}
}
