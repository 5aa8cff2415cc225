package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Input      InputConfig      `yaml:"input" mapstructure:"input"`
	Reference  ReferenceConfig  `yaml:"reference" mapstructure:"reference"`
	Classify   ClassifyConfig   `yaml:"classify" mapstructure:"classify"`
	Export     ExportConfig     `yaml:"export" mapstructure:"export"`
	Mapping    MappingConfig    `yaml:"mapping" mapstructure:"mapping"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the run history backend. An empty DatabaseURL
// disables persistence.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// InputConfig names the columns of the population or event table.
type InputConfig struct {
	Sheet              string   `yaml:"sheet" mapstructure:"sheet"`
	MunicipalityColumn string   `yaml:"municipality_column" mapstructure:"municipality_column"`
	LocalityColumn     string   `yaml:"locality_column" mapstructure:"locality_column"`
	SumAttribute       string   `yaml:"sum_attribute" mapstructure:"sum_attribute"`
	NumericColumns     []string `yaml:"numeric_columns" mapstructure:"numeric_columns"`
	ExtraColumns       []string `yaml:"extra_columns" mapstructure:"extra_columns"`
	CSVEncoding        string   `yaml:"csv_encoding" mapstructure:"csv_encoding"`
	CSVDelimiter       string   `yaml:"csv_delimiter" mapstructure:"csv_delimiter"`
	// Canonicalize rewrites municipality variants to the authoritative
	// Tolima spelling before classification.
	Canonicalize bool `yaml:"canonicalize" mapstructure:"canonicalize"`
}

// ReferenceConfig names the columns or shapefile attributes of the
// authoritative rural locality table.
type ReferenceConfig struct {
	Sheet              string `yaml:"sheet" mapstructure:"sheet"`
	CodeColumn         string `yaml:"code_column" mapstructure:"code_column"`
	MunicipalityColumn string `yaml:"municipality_column" mapstructure:"municipality_column"`
	LocalityColumn     string `yaml:"locality_column" mapstructure:"locality_column"`
	RegionColumn       string `yaml:"region_column" mapstructure:"region_column"`
	Strict             bool   `yaml:"strict" mapstructure:"strict"`

	// Shapefile DBF attribute names.
	ShapeCodeField         string `yaml:"shape_code_field" mapstructure:"shape_code_field"`
	ShapeMunicipalityField string `yaml:"shape_municipality_field" mapstructure:"shape_municipality_field"`
	ShapeLocalityField     string `yaml:"shape_locality_field" mapstructure:"shape_locality_field"`
	ShapeRegionField       string `yaml:"shape_region_field" mapstructure:"shape_region_field"`

	// Department filter for national layers.
	DepartmentField     string `yaml:"department_field" mapstructure:"department_field"`
	Department          string `yaml:"department" mapstructure:"department"`
	DepartmentNameField string `yaml:"department_name_field" mapstructure:"department_name_field"`
	DepartmentName      string `yaml:"department_name" mapstructure:"department_name"`

	// ShapeEncoding overrides the layer's .cpg code page.
	ShapeEncoding string `yaml:"shape_encoding" mapstructure:"shape_encoding"`
}

// ClassifyConfig tunes batch classification.
type ClassifyConfig struct {
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
	TopReview   int `yaml:"top_review" mapstructure:"top_review"`
}

// ExportConfig controls where reports are written.
type ExportConfig struct {
	OutputDir   string `yaml:"output_dir" mapstructure:"output_dir"`
	Timestamped bool   `yaml:"timestamped" mapstructure:"timestamped"`
}

// MappingConfig holds similarity thresholds as percentages and the
// optional mapping file applied before classification.
type MappingConfig struct {
	File            string  `yaml:"file" mapstructure:"file"`
	IncludeMedium   bool    `yaml:"include_medium" mapstructure:"include_medium"`
	HighThreshold   float64 `yaml:"high_threshold" mapstructure:"high_threshold"`
	MediumThreshold float64 `yaml:"medium_threshold" mapstructure:"medium_threshold"`
}

// MonitoringConfig configures the run health checker.
type MonitoringConfig struct {
	Enabled              bool    `yaml:"enabled" mapstructure:"enabled"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	ReviewRateThreshold  float64 `yaml:"review_rate_threshold" mapstructure:"review_rate_threshold"`
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("VEREDA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("input.sheet", "")
	v.SetDefault("input.municipality_column", "municipio")
	v.SetDefault("input.locality_column", "vereda")
	v.SetDefault("input.sum_attribute", "total")
	v.SetDefault("input.numeric_columns", []string{})
	v.SetDefault("input.extra_columns", []string{})
	v.SetDefault("input.csv_encoding", "utf-8")
	v.SetDefault("input.csv_delimiter", ",")
	v.SetDefault("input.canonicalize", false)
	v.SetDefault("reference.sheet", "")
	v.SetDefault("reference.code_column", "codigo")
	v.SetDefault("reference.municipality_column", "municipio")
	v.SetDefault("reference.locality_column", "vereda")
	v.SetDefault("reference.region_column", "region")
	v.SetDefault("reference.strict", false)
	v.SetDefault("reference.shape_code_field", "CODIGO_VER")
	v.SetDefault("reference.shape_municipality_field", "NOMB_MPIO")
	v.SetDefault("reference.shape_locality_field", "NOMBRE_VER")
	v.SetDefault("reference.shape_region_field", "")
	v.SetDefault("reference.department_field", "COD_DPTO")
	v.SetDefault("reference.department", "73")
	v.SetDefault("reference.department_name_field", "NOM_DEP")
	v.SetDefault("reference.department_name", "TOLIMA")
	v.SetDefault("reference.shape_encoding", "")
	v.SetDefault("classify.concurrency", 4)
	v.SetDefault("classify.top_review", 10)
	v.SetDefault("export.output_dir", ".")
	v.SetDefault("export.timestamped", true)
	v.SetDefault("mapping.file", "")
	v.SetDefault("mapping.include_medium", false)
	v.SetDefault("mapping.high_threshold", 95.0)
	v.SetDefault("mapping.medium_threshold", 85.0)
	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.review_rate_threshold", 0.30)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command mode depends on.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "classify":
		errs = append(errs, c.validateInput()...)
		errs = append(errs, c.validateClassify()...)
	case "index", "normalize", "navigate":
	case "mapping":
		errs = append(errs, c.validateMapping()...)
	case "runs":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required")
		}
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be > 0 and <= 65535")
		}
		errs = append(errs, c.validateClassify()...)
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, "store.driver must be sqlite or postgres")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: invalid for %s: %s", mode, strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateInput() []string {
	var errs []string
	if c.Input.MunicipalityColumn == "" {
		errs = append(errs, "input.municipality_column is required")
	}
	if c.Input.LocalityColumn == "" {
		errs = append(errs, "input.locality_column is required")
	}
	if len([]rune(c.Input.CSVDelimiter)) > 1 {
		errs = append(errs, "input.csv_delimiter must be a single character")
	}
	return errs
}

func (c *Config) validateClassify() []string {
	if c.Classify.Concurrency < 1 || c.Classify.Concurrency > 64 {
		return []string{"classify.concurrency must be between 1 and 64"}
	}
	return nil
}

func (c *Config) validateMapping() []string {
	m := c.Mapping
	if m.MediumThreshold < 0 || m.HighThreshold > 100 || m.MediumThreshold > m.HighThreshold {
		return []string{"mapping thresholds must satisfy 0 <= medium_threshold <= high_threshold <= 100"}
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
