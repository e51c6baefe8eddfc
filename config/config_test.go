package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "safeguard.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, "info", cfg.LogLevel)
	require.Equal(t, 100, cfg.HistoryLimit)
	require.Equal(t, "memory", cfg.Snapshots.Backend)
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
log_level: debug
history_limit: 25
policies:
  critical_tables:
    - payments
    - ledgers
  disabled_patterns:
    - comment_injection
snapshots:
  backend: postgres
  postgres:
    host: localhost
    database: safeguard
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, 25, cfg.HistoryLimit)
	require.Equal(t, "postgres", cfg.Snapshots.Backend)
	require.Equal(t, "safeguard", cfg.Snapshots.Postgres.Database)
	require.Equal(t, []string{"payments", "ledgers"}, cfg.Policies.CriticalTables)
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	path := writeConfig(t, "snapshots:\n  backend: tape\n")

	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown snapshot backend")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestPolicyStoreOverrides(t *testing.T) {
	cfg := &Config{
		Policies: PoliciesConfig{
			CriticalTables:   []string{"ledgers"},
			DisabledPatterns: []string{"comment_injection"},
		},
	}

	store := cfg.PolicyStore()

	require.True(t, store.IsCriticalTable("ledgers"))
	require.False(t, store.IsCriticalTable("users"), "stock list replaced when overridden")
	require.True(t, store.IsPersonalDataTable("customers"), "untouched list keeps defaults")

	for _, p := range store.Patterns() {
		require.NotEqual(t, "comment_injection", p.ID)
	}
}

func TestPolicyStoreKeepsDefaultsWhenEmpty(t *testing.T) {
	cfg := &Config{}

	store := cfg.PolicyStore()

	require.True(t, store.IsCriticalTable("users"))
	require.True(t, store.IsPersonalDataTable("customers"))
	require.NotEmpty(t, store.Patterns())
}
