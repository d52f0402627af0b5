package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "VULCAN", cfg.Instrument.Name)
	assert.Equal(t, "autoreduce", cfg.Instrument.AutoDirName)
	assert.Equal(t, "manualreduce", cfg.Instrument.ManualDirName)
	assert.Equal(t, 3, cfg.Instrument.FocusBanks)
	assert.Equal(t, "vulcan-engine", cfg.Engine.Path)
	assert.Equal(t, 3600, cfg.Engine.TimeoutSecs)
	assert.InDelta(t, 0.3, cfg.Binning.Reduce.Min, 1e-9)
	assert.InDelta(t, -0.001, cfg.Binning.Reduce.Step, 1e-9)
	assert.InDelta(t, 5000.0, cfg.Binning.Fallback.Min, 1e-9)
	assert.InDelta(t, -0.0003, cfg.Binning.HighAngleStep, 1e-12)
	require.Len(t, cfg.Vanadium.Criteria, 3)
	assert.Equal(t, "Frequency", cfg.Vanadium.Criteria[0].LogName)
	assert.Equal(t, "float", cfg.Vanadium.Criteria[0].Type)
	assert.Equal(t, "AutoRecord.txt", cfg.Record.FileName)
	assert.Equal(t, "sqlite", cfg.Journal.Driver)
	assert.Equal(t, 3, cfg.Journal.DLQMaxRetries)
	assert.Equal(t, 300, cfg.Journal.DLQBackoffSecs)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
instrument:
  focus_banks: 7
engine:
  path: /opt/engine/bin/reduce
log:
  level: debug
  format: console
vanadium:
  criteria:
    - log_name: Frequency
      type: int
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Instrument.FocusBanks)
	assert.Equal(t, "/opt/engine/bin/reduce", cfg.Engine.Path)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	require.Len(t, cfg.Vanadium.Criteria, 1)
	assert.Equal(t, "int", cfg.Vanadium.Criteria[0].Type)
	// Defaults still apply for unset values
	assert.Equal(t, "AutoRecord.txt", cfg.Record.FileName)
}

func TestLoadExplicitPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reduce.yaml")
	require.NoError(t, os.WriteFile(path, []byte("journal:\n  driver: none\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "none", cfg.Journal.Driver)
}

func TestLoadExplicitPathMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
journal:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	t.Setenv("VULCAN_JOURNAL_DRIVER", "postgres")
	t.Setenv("VULCAN_LOG_LEVEL", "warn")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Journal.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestValidate_Problems(t *testing.T) {
	chdirTemp(t)
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Instrument.FocusBanks = 5
	cfg.Engine.Path = ""
	cfg.Vanadium.Criteria = []CriterionConfig{{LogName: "Frequency", Type: "double"}}
	cfg.Journal.Driver = "mysql"

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "instrument.focus_banks")
	assert.Contains(t, err.Error(), "engine.path is required")
	assert.Contains(t, err.Error(), `vanadium.criteria[0].type "double"`)
	assert.Contains(t, err.Error(), "journal.driver")
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
