// Package config loads engine configuration from a YAML file with
// SAFEGUARD_* environment overrides.
package config

import (
	"fmt"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/viper"

	"github.com/fieldgrid/safeguard/policy"
	"github.com/fieldgrid/safeguard/snapshot/backends"
)

// Config models the safeguard configuration file.
type Config struct {
	LogLevel     string          `mapstructure:"log_level"`
	HistoryLimit int             `mapstructure:"history_limit"`
	Policies     PoliciesConfig  `mapstructure:"policies"`
	Snapshots    SnapshotsConfig `mapstructure:"snapshots"`
}

// PoliciesConfig customizes the policy store. Empty lists keep the stock
// defaults; non-empty lists replace them.
type PoliciesConfig struct {
	CriticalTables     []string `mapstructure:"critical_tables"`
	PersonalDataTables []string `mapstructure:"personal_data_tables"`
	DisabledPatterns   []string `mapstructure:"disabled_patterns"`
}

// SnapshotsConfig selects and configures the snapshot backend.
type SnapshotsConfig struct {
	Backend  string                  `mapstructure:"backend"` // memory, postgres, s3
	Postgres backends.PostgresConfig `mapstructure:"postgres"`
	S3       backends.S3Config       `mapstructure:"s3"`
}

// Load reads configuration from path. An empty path loads defaults plus
// environment overrides only.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetDefault("log_level", "info")
	v.SetDefault("history_limit", 100)
	v.SetDefault("snapshots.backend", "memory")

	v.SetEnvPrefix("SAFEGUARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Snapshots.Backend {
	case "", "memory", "postgres", "s3":
	default:
		return fmt.Errorf("unknown snapshot backend %q", c.Snapshots.Backend)
	}
	return nil
}

// PolicyStore builds the policy store described by the configuration.
func (c *Config) PolicyStore() *policy.Store {
	store := policy.DefaultStore()

	if len(c.Policies.CriticalTables) > 0 {
		for _, t := range store.CriticalTables() {
			store.RemoveCriticalTable(t)
		}
		for _, t := range c.Policies.CriticalTables {
			store.AddCriticalTable(t)
		}
	}
	if len(c.Policies.PersonalDataTables) > 0 {
		for _, t := range store.PersonalDataTables() {
			store.RemovePersonalDataTable(t)
		}
		for _, t := range c.Policies.PersonalDataTables {
			store.AddPersonalDataTable(t)
		}
	}
	for _, id := range c.Policies.DisabledPatterns {
		store.RemovePattern(id)
	}
	return store
}

// Logger builds the root logger at the configured level.
func (c *Config) Logger() hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:  "safeguard",
		Level: hclog.LevelFromString(c.LogLevel),
	})
}
