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
	t.Cleanup(func() { _ = os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Empty(t, cfg.Store.DatabaseURL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "municipio", cfg.Input.MunicipalityColumn)
	assert.Equal(t, "vereda", cfg.Input.LocalityColumn)
	assert.Equal(t, "total", cfg.Input.SumAttribute)
	assert.Equal(t, "utf-8", cfg.Input.CSVEncoding)
	assert.Equal(t, "codigo", cfg.Reference.CodeColumn)
	assert.Equal(t, "region", cfg.Reference.RegionColumn)
	assert.False(t, cfg.Reference.Strict)
	assert.Equal(t, "COD_DPTO", cfg.Reference.DepartmentField)
	assert.Equal(t, "73", cfg.Reference.Department)
	assert.Equal(t, "TOLIMA", cfg.Reference.DepartmentName)
	assert.Empty(t, cfg.Reference.ShapeEncoding)
	assert.Equal(t, 4, cfg.Classify.Concurrency)
	assert.Equal(t, 10, cfg.Classify.TopReview)
	assert.True(t, cfg.Export.Timestamped)
	assert.InDelta(t, 95, cfg.Mapping.HighThreshold, 0.001)
	assert.InDelta(t, 85, cfg.Mapping.MediumThreshold, 0.001)
	assert.Equal(t, 300, cfg.Monitoring.CheckIntervalSecs)
	assert.InDelta(t, 0.30, cfg.Monitoring.ReviewRateThreshold, 0.001)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/vereda
log:
  level: debug
  format: json
server:
  port: 9090
input:
  sum_attribute: casos
  numeric_columns: [menores_5, mayores_60]
reference:
  strict: true
classify:
  concurrency: 8
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/vereda", cfg.Store.DatabaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "casos", cfg.Input.SumAttribute)
	assert.Equal(t, []string{"menores_5", "mayores_60"}, cfg.Input.NumericColumns)
	assert.True(t, cfg.Reference.Strict)
	assert.Equal(t, 8, cfg.Classify.Concurrency)
	// Defaults still apply for unset values
	assert.Equal(t, "vereda", cfg.Input.LocalityColumn)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("VEREDA_STORE_DRIVER", "sqlite")
	t.Setenv("VEREDA_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("VEREDA_SERVER_PORT", "3000")
	t.Setenv("VEREDA_INPUT_SUM_ATTRIBUTE", "poblacion")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "poblacion", cfg.Input.SumAttribute)
}

func TestLoadMalformedFile(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("log: [unterminated"), 0644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
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
	cfg.Input.MunicipalityColumn = "municipio"
	cfg.Input.LocalityColumn = "vereda"
	cfg.Input.CSVDelimiter = ","
	cfg.Classify.Concurrency = 4
	cfg.Mapping.HighThreshold = 95
	cfg.Mapping.MediumThreshold = 85
	cfg.Server.Port = 8080
	return cfg
}

func TestValidate_Defaults(t *testing.T) {
	cfg := validDefaults()
	for _, mode := range []string{"classify", "index", "normalize", "navigate", "mapping", "serve"} {
		assert.NoError(t, cfg.Validate(mode), mode)
	}
}

func TestValidateRuns_RequiresDatabase(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("runs")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database_url")

	cfg.Store.DatabaseURL = "runs.db"
	assert.NoError(t, cfg.Validate("runs"))
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestValidateConcurrencyBounds(t *testing.T) {
	cfg := validDefaults()

	cfg.Classify.Concurrency = 0
	err := cfg.Validate("classify")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "classify.concurrency must be between 1 and 64")

	cfg.Classify.Concurrency = 65
	assert.Error(t, cfg.Validate("serve"))

	cfg.Classify.Concurrency = 64
	assert.NoError(t, cfg.Validate("serve"))
}

func TestValidateInputColumns(t *testing.T) {
	cfg := validDefaults()
	cfg.Input.LocalityColumn = ""
	cfg.Input.CSVDelimiter = ";;"

	err := cfg.Validate("classify")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "input.locality_column is required")
	assert.Contains(t, err.Error(), "csv_delimiter")
}

func TestValidateMappingThresholds(t *testing.T) {
	cfg := validDefaults()
	cfg.Mapping.MediumThreshold = 96

	err := cfg.Validate("mapping")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mapping thresholds")
}

func TestValidateStoreDriver(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "mysql"

	err := cfg.Validate("index")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver")
}
