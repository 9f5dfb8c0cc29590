package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func flags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	RegisterServerFlags(fs)
	RegisterPlannerFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func TestLoadDefaults(t *testing.T) {
	c, err := Load(flags(t))
	require.NoError(t, err)
	assert.Equal(t, "8080", c.Port)
	assert.Equal(t, "baseline", c.Scenario)
	assert.True(t, c.DBMigrate)
	assert.Equal(t, 1, c.Solver.Workers)
	assert.Equal(t, "POI.csv", c.Inputs.Sites)
	assert.Empty(t, c.Inputs.Units)
}

func TestLoadEnvAndFlags(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DATABASE_URL", " postgres://x ")
	t.Setenv("DB_MIGRATE", "false")
	t.Setenv("TIME_LIMIT", "30s")
	c, err := Load(flags(t, "--units", "a,b", "--workers", "4", "--port", "7070"))
	require.NoError(t, err)
	assert.Equal(t, "7070", c.Port, "changed flag wins over env")
	assert.Equal(t, "postgres://x", c.DatabaseURL)
	assert.False(t, c.DBMigrate)
	assert.Equal(t, 30*time.Second, c.Solver.TimeLimit)
	assert.Equal(t, 4, c.Solver.Workers)
	assert.Equal(t, []string{"a", "b"}, c.Inputs.Units)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "planner.yaml")
	require.NoError(t, os.WriteFile(path, []byte("scenario: district-batch\nnode-limit: 500\n"), 0o644))
	c, err := Load(flags(t, "--config", path))
	require.NoError(t, err)
	assert.Equal(t, "district-batch", c.Scenario)
	assert.Equal(t, 500, c.Solver.NodeLimit)

	_, err = Load(flags(t, "--config", filepath.Join(t.TempDir(), "none.yaml")))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	_, err := Load(flags(t, "--gap", "1.5", "--workers", "-1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gap")
	assert.Contains(t, err.Error(), "workers")
}

func TestFromDBNeedsDatabase(t *testing.T) {
	_, err := Load(flags(t, "--from-db"))
	require.Error(t, err)
	c, err := Load(flags(t, "--from-db", "--database-url", "postgres://db"))
	require.NoError(t, err)
	assert.True(t, c.Inputs.FromDB)
}

func TestWebhook(t *testing.T) {
	c, err := Load(flags(t, "--webhook-url", " http://hooks.local/runs ", "--webhook-secret", "s"))
	require.NoError(t, err)
	assert.Equal(t, Webhook{URL: "http://hooks.local/runs", Secret: "s", MaxAttempts: 5}, c.Webhook)

	_, err = Load(flags(t, "--webhook-url", "http://hooks.local", "--webhook-max-attempts", "0"))
	assert.Error(t, err)
}
