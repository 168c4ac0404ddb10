package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "deal-report.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
	assert.True(t, cfg.Audit.Enabled)
	assert.Equal(t, 5, cfg.Audit.WriteTimeoutSecs)
	assert.Equal(t, "https://r.jina.ai", cfg.Jina.BaseURL)
	assert.Equal(t, "https://s.jina.ai", cfg.Jina.SearchBaseURL)
	assert.Equal(t, "https://api.firecrawl.dev/v1", cfg.Firecrawl.BaseURL)
	assert.Equal(t, "sonar", cfg.Perplexity.Model)
	assert.Equal(t, "https://vpic.nhtsa.dot.gov/api", cfg.NHTSA.VPICBaseURL)
	assert.InDelta(t, 5.0, cfg.NHTSA.RateLimitRPS, 0.001)
	assert.Equal(t, int64(4096), cfg.Anthropic.MaxTokens)
	assert.False(t, cfg.Anthropic.NoBatch)
	assert.Equal(t, 5, cfg.Enrich.BranchTimeoutSecs)
	assert.Equal(t, 5, cfg.Enrich.DecodeTimeoutSecs)
	assert.Equal(t, 1, cfg.Enrich.SearchRetries)
	assert.Equal(t, 5, cfg.Enrich.BreakerThreshold)
	assert.Equal(t, 30, cfg.Enrich.BreakerResetSecs)
	assert.Equal(t, 2000, cfg.Generation.PollIntervalMs)
	assert.Equal(t, 60, cfg.Generation.TimeoutSecs)
	assert.Equal(t, 30, cfg.Generation.MaxPolls)
	assert.Equal(t, "markdown", cfg.Generation.OutputMode)
	assert.Equal(t, int64(5*1024*1024), cfg.Generation.MaxPhotoBytes)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: postgres
log:
  level: debug
  format: console
server:
  port: 9090
generation:
  output_mode: structured
  max_polls: 10
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "structured", cfg.Generation.OutputMode)
	assert.Equal(t, 10, cfg.Generation.MaxPolls)
	// Defaults still apply for unset values
	assert.Equal(t, 60, cfg.Generation.TimeoutSecs)
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

	t.Setenv("DEALREPORT_STORE_DRIVER", "postgres")
	t.Setenv("DEALREPORT_LOG_LEVEL", "warn")

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

	t.Setenv("DEALREPORT_SERVER_PORT", "3000")
	t.Setenv("DEALREPORT_ANTHROPIC_NO_BATCH", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.True(t, cfg.Anthropic.NoBatch)
}

func TestLoadRolesPath(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	cfg, err := Load()
	require.NoError(t, err)
	assert.Empty(t, cfg.Roles.Path, "built-in rules by default")

	t.Setenv("DEALREPORT_ROLES_PATH", "/etc/deal-report/rules.yaml")
	cfg, err = Load()
	require.NoError(t, err)
	assert.Equal(t, "/etc/deal-report/rules.yaml", cfg.Roles.Path)
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
	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = "deal-report.db"
	cfg.Anthropic.Key = "sk-ant-key"
	cfg.Jina.Key = "jina-key"
	cfg.Server.Port = 8080
	cfg.Audit.Enabled = true
	cfg.Enrich.BranchTimeoutSecs = 5
	cfg.Generation.PollIntervalMs = 2000
	cfg.Generation.TimeoutSecs = 60
	cfg.Generation.MaxPolls = 30
	cfg.Generation.OutputMode = "markdown"
	return cfg
}

func TestValidateServe_AllPresent(t *testing.T) {
	assert.NoError(t, validDefaults().Validate("serve"))
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
}

func TestValidateEvaluate_MissingKeys(t *testing.T) {
	cfg := validDefaults()
	cfg.Anthropic.Key = ""
	cfg.Jina.Key = ""

	err := cfg.Validate("evaluate")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic.key is required")
	assert.Contains(t, err.Error(), "jina.key is required")
}

func TestValidateEvaluate_GenerationBounds(t *testing.T) {
	cfg := validDefaults()
	cfg.Generation.MaxPolls = 0
	cfg.Generation.OutputMode = "html"

	err := cfg.Validate("evaluate")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "generation.max_polls must be > 0")
	assert.Contains(t, err.Error(), "generation.output_mode must be markdown or structured")
}

func TestValidateEvaluate_AuditDisabledSkipsStore(t *testing.T) {
	cfg := validDefaults()
	cfg.Audit.Enabled = false
	cfg.Store.Driver = ""
	cfg.Store.DatabaseURL = ""

	assert.NoError(t, cfg.Validate("evaluate"))
}

func TestValidateMigrate_NoDB(t *testing.T) {
	cfg := &Config{}

	err := cfg.Validate("migrate")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver must be sqlite or postgres")
	assert.Contains(t, err.Error(), "store.database_url is required")
}

func TestValidateMigrate_IgnoresPipelineKeys(t *testing.T) {
	cfg := validDefaults()
	cfg.Anthropic.Key = ""

	assert.NoError(t, cfg.Validate("migrate"))
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}
