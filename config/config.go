/*
Package config loads service configuration and initializes logging.

PURPOSE:
  One Config struct for the server and CLI, read from an optional
  config.yaml in the working directory and overridden by INCENTIVE_*
  environment variables (INCENTIVE_STORE_PATH, INCENTIVE_LOG_LEVEL, ...).

SECTIONS:
  server:     HTTP port, CORS origins
  store:      driver (sqlite or postgres), SQLite path, Postgres URL
  log:        level and format (json or console)
  calculator: default range and the legacy denominator heuristic
  sweep:      concurrency and rate limit for bulk recalculation
  scheduler:  warm-up of the previous month's snapshots (off by default)
  program:    optional catalog file replacing the built-in program

SEE ALSO:
  - cmd/server/main.go: consumer
  - factory/catalog.go: program catalog loader
*/
package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/warp/incentive-engine/engine"
)

// Config holds the full application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Calculator CalculatorConfig `yaml:"calculator" mapstructure:"calculator"`
	Sweep      SweepConfig      `yaml:"sweep" mapstructure:"sweep"`
	Scheduler  SchedulerConfig  `yaml:"scheduler" mapstructure:"scheduler"`
	Program    ProgramConfig    `yaml:"program" mapstructure:"program"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	EnableDemo     bool     `yaml:"enable_demo" mapstructure:"enable_demo"`
}

// StoreConfig configures the database backend. The SQLite store always
// holds configuration and submissions; with driver postgres the record
// cache and warning log move to DatabaseURL.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	Path        string `yaml:"path" mapstructure:"path"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

type CalculatorConfig struct {
	DefaultRangeMin      float64 `yaml:"default_range_min" mapstructure:"default_range_min"`
	DefaultRangeMax      float64 `yaml:"default_range_max" mapstructure:"default_range_max"`
	LegacyRawThreshold   float64 `yaml:"legacy_raw_threshold" mapstructure:"legacy_raw_threshold"`
	DisableLegacyRawRule bool    `yaml:"disable_legacy_raw_rule" mapstructure:"disable_legacy_raw_rule"`
}

// SweepConfig bounds bulk recalculation. RatePerSecond 0 means unlimited.
type SweepConfig struct {
	Concurrency   int     `yaml:"concurrency" mapstructure:"concurrency"`
	RatePerSecond float64 `yaml:"rate_per_second" mapstructure:"rate_per_second"`
}

// SchedulerConfig controls the warm-up of the previous month's snapshots.
// Nothing is warmed before AfterDay of the new month.
type SchedulerConfig struct {
	Enabled  bool          `yaml:"enabled" mapstructure:"enabled"`
	Interval time.Duration `yaml:"interval" mapstructure:"interval"`
	AfterDay int           `yaml:"after_day" mapstructure:"after_day"`
}

// ProgramConfig points at a YAML or JSON catalog. Empty uses the built-in one.
type ProgramConfig struct {
	CatalogPath string `yaml:"catalog_path" mapstructure:"catalog_path"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("INCENTIVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:5173", "http://localhost:8080"})
	v.SetDefault("server.enable_demo", false)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "incentives.db")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("calculator.default_range_min", engine.DefaultPercentageRange.Min)
	v.SetDefault("calculator.default_range_max", engine.DefaultPercentageRange.Max)
	v.SetDefault("calculator.legacy_raw_threshold", engine.DefaultLegacyThreshold)
	v.SetDefault("calculator.disable_legacy_raw_rule", false)
	v.SetDefault("sweep.concurrency", engine.DefaultSweepConcurrency)
	v.SetDefault("sweep.rate_per_second", 0)
	v.SetDefault("scheduler.enabled", false)
	v.SetDefault("scheduler.interval", time.Hour)
	v.SetDefault("scheduler.after_day", 10)
	v.SetDefault("program.catalog_path", "")

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
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "sqlite":
	case "postgres":
		if c.Store.DatabaseURL == "" {
			return eris.New("config: store.database_url is required for the postgres driver")
		}
	default:
		return eris.Errorf("config: unknown store driver %q", c.Store.Driver)
	}
	if c.Sweep.Concurrency < 1 {
		return eris.Errorf("config: sweep.concurrency must be at least 1, got %d", c.Sweep.Concurrency)
	}
	if c.Scheduler.AfterDay < 0 || c.Scheduler.AfterDay > 28 {
		return eris.Errorf("config: scheduler.after_day must be between 0 and 28, got %d", c.Scheduler.AfterDay)
	}
	if c.Calculator.DefaultRangeMin > c.Calculator.DefaultRangeMax {
		return eris.New("config: calculator.default_range_min exceeds default_range_max")
	}
	return nil
}

// EngineCalculator maps the calculator section to the engine's settings.
func (c CalculatorConfig) EngineCalculator() engine.CalculatorConfig {
	threshold := c.LegacyRawThreshold
	if c.DisableLegacyRawRule {
		threshold = 0
	}
	return engine.CalculatorConfig{
		DefaultRange:    &engine.Range{Min: c.DefaultRangeMin, Max: c.DefaultRangeMax},
		LegacyThreshold: &threshold,
	}
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) (*zap.Logger, error) {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return logger, nil
}
