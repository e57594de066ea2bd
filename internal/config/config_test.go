package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/barrier-explorer/internal/tier"
)

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, int32(10), cfg.Store.MaxConns)
	assert.Equal(t, 5, cfg.Store.ConnectAttempts)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
	assert.InDelta(t, 20.0, cfg.Server.RateLimit, 0.001)
	assert.Equal(t, uint(tier.DefaultBits), cfg.Tiers.Bits)
	assert.Equal(t, tier.DefaultFieldNames, cfg.Tiers.Fields)
	assert.Equal(t, 500, cfg.Session.MaxEntries)
	assert.Equal(t, 30*time.Minute, cfg.Session.TTL)
	assert.Equal(t, 50000, cfg.Engine.IncrementalThreshold)
	assert.Equal(t, 4, cfg.Engine.IngestWorkers)
	assert.Empty(t, cfg.Facets.Dir)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: sqlite
  database_url: barriers.db
log:
  level: debug
  format: console
server:
  port: 9090
tiers:
  bits: 6
  fields: [NC, WC]
session:
  ttl: 5m
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "barriers.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, uint(6), cfg.Tiers.Bits)
	assert.Equal(t, []string{"NC", "WC"}, cfg.Tiers.Fields)
	assert.Equal(t, 5*time.Minute, cfg.Session.TTL)
	// Defaults still apply for unset values
	assert.Equal(t, 500, cfg.Session.MaxEntries)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("BARRIERS_STORE_DRIVER", "postgres")
	t.Setenv("BARRIERS_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	t.Setenv("BARRIERS_SERVER_PORT", "3000")
	t.Setenv("BARRIERS_ENGINE_INCREMENTAL_THRESHOLD", "10")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, 10, cfg.Engine.IncrementalThreshold)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "postgres"
	cfg.Store.DatabaseURL = "postgres://localhost/barriers"
	cfg.Server.Port = 8080
	cfg.Tiers.Bits = tier.DefaultBits
	cfg.Tiers.Fields = tier.DefaultFieldNames
	cfg.Session.MaxEntries = 10
	return cfg
}

func TestValidateServe_Valid(t *testing.T) {
	assert.NoError(t, validDefaults().Validate("serve"))
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
}

func TestValidateServe_Sessions(t *testing.T) {
	cfg := validDefaults()
	cfg.Session.MaxEntries = 0

	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "session.max_entries")

	assert.NoError(t, cfg.Validate("facet"), "session cache only matters when serving")
}

func TestValidateStore(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.DatabaseURL = ""
	err := cfg.Validate("facet")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")

	cfg.Store.Driver = "sqlite"
	err = cfg.Validate("import")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "required for sqlite")

	cfg.Store.DatabaseURL = "barriers.db"
	assert.NoError(t, cfg.Validate("import"))

	cfg.Store.Driver = "mysql"
	err = cfg.Validate("import")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not supported")
}

func TestValidateTierPack(t *testing.T) {
	cfg := validDefaults()
	cfg.Tiers.Bits = 16
	cfg.Tiers.Fields = []string{"a", "b", "c", "d"}

	err := cfg.Validate("tiers")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds 63 bits")

	cfg.Tiers.Bits = 0
	err = cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "outside 1..31")
}

func TestValidateTiersIgnoresStore(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = ""
	assert.NoError(t, cfg.Validate("tiers"))
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestPackFields(t *testing.T) {
	c := TierConfig{Bits: 5, Fields: []string{"NC", "WC"}}
	assert.Equal(t, []tier.Field{{Name: "NC", Bits: 5}, {Name: "WC", Bits: 5}}, c.PackFields())
}
