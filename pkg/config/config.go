// Package config loads and validates the loadoor configuration.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultRunsDir is the default directory holding per-run artifacts.
	DefaultRunsDir = "./runs"

	// DefaultSyncInterval is how often the synchronizer reconciles.
	DefaultSyncInterval = 5 * time.Second

	// DefaultStalenessThreshold is how old a non-terminal record may be
	// before the synchronizer force-finalizes it.
	DefaultStalenessThreshold = 10 * time.Minute

	// DefaultMetricsInterval is the metrics exporter poll interval.
	DefaultMetricsInterval = 10 * time.Second

	// DefaultMetricsListen is the metrics endpoint address.
	DefaultMetricsListen = ":9095"

	// DefaultKeepLatest is how many recent run directories escape
	// archival.
	DefaultKeepLatest = 1

	// DefaultArchiveRetention is how long archived run directories are
	// kept before purging.
	DefaultArchiveRetention = 7 * 24 * time.Hour

	// DefaultArchiveInterval is how often the archiver sweeps.
	DefaultArchiveInterval = time.Hour
)

// Config is the root configuration for loadoor.
type Config struct {
	LogLevel string `yaml:"log_level" mapstructure:"log_level"`

	RunsDir string `yaml:"runs_dir" mapstructure:"runs_dir"`

	Database  DatabaseConfig  `yaml:"database" mapstructure:"database"`
	Engine    EngineConfig    `yaml:"engine" mapstructure:"engine"`
	Guardrail GuardrailConfig `yaml:"guardrail" mapstructure:"guardrail"`
	Directory DirectoryConfig `yaml:"directory" mapstructure:"directory"`
	Syncer    SyncerConfig    `yaml:"syncer" mapstructure:"syncer"`
	Archiver  ArchiverConfig  `yaml:"archiver" mapstructure:"archiver"`
	Metrics   MetricsConfig   `yaml:"metrics" mapstructure:"metrics"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Driver   string         `yaml:"driver" mapstructure:"driver"`
	SQLite   SQLiteConfig   `yaml:"sqlite,omitempty" mapstructure:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres,omitempty" mapstructure:"postgres"`
}

// SQLiteConfig contains SQLite-specific settings.
type SQLiteConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
	SSLMode  string `yaml:"ssl_mode,omitempty" mapstructure:"ssl_mode"`
}

// EngineConfig describes the external load-testing engine invocation.
type EngineConfig struct {
	// Binary is the engine launcher. For containerized deployments
	// this is the container runtime binary, and ArgsTemplate carries
	// the run invocation.
	Binary       string `yaml:"binary" mapstructure:"binary"`
	ArgsTemplate string `yaml:"args_template,omitempty" mapstructure:"args_template"`

	// Simulate replaces the external process with the deterministic
	// in-process runner. Used in tests and dry runs.
	Simulate bool `yaml:"simulate,omitempty" mapstructure:"simulate"`
}

// GuardrailConfig holds submission policy ceilings.
type GuardrailConfig struct {
	MaxUsers       int      `yaml:"max_users,omitempty" mapstructure:"max_users"`
	MaxDurationSec int      `yaml:"max_duration_sec,omitempty" mapstructure:"max_duration_sec"`
	ProductionEnvs []string `yaml:"production_envs,omitempty" mapstructure:"production_envs"`
}

// DirectoryConfig points at the external application directory service.
type DirectoryConfig struct {
	BaseURL string `yaml:"base_url,omitempty" mapstructure:"base_url"`
}

// SyncerConfig controls the background database synchronizer.
type SyncerConfig struct {
	Interval           time.Duration `yaml:"interval,omitempty" mapstructure:"interval"`
	StalenessThreshold time.Duration `yaml:"staleness_threshold,omitempty" mapstructure:"staleness_threshold"`
}

// ArchiverConfig controls run artifact retention.
type ArchiverConfig struct {
	Enabled    bool          `yaml:"enabled" mapstructure:"enabled"`
	ArchiveDir string        `yaml:"archive_dir,omitempty" mapstructure:"archive_dir"`
	KeepLatest int           `yaml:"keep_latest,omitempty" mapstructure:"keep_latest"`
	Retention  time.Duration `yaml:"retention,omitempty" mapstructure:"retention"`
	Interval   time.Duration `yaml:"interval,omitempty" mapstructure:"interval"`

	Upload *S3UploadConfig `yaml:"upload,omitempty" mapstructure:"upload"`
}

// S3UploadConfig uploads archived run directories to S3-compatible
// storage before local purging.
type S3UploadConfig struct {
	Enabled         bool   `yaml:"enabled" mapstructure:"enabled"`
	EndpointURL     string `yaml:"endpoint_url,omitempty" mapstructure:"endpoint_url"`
	Region          string `yaml:"region,omitempty" mapstructure:"region"`
	Bucket          string `yaml:"bucket" mapstructure:"bucket"`
	Prefix          string `yaml:"prefix,omitempty" mapstructure:"prefix"`
	AccessKeyID     string `yaml:"access_key_id,omitempty" mapstructure:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `yaml:"force_path_style" mapstructure:"force_path_style"`
}

// MetricsConfig controls the pull-based metrics exporter.
type MetricsConfig struct {
	Enabled  bool          `yaml:"enabled" mapstructure:"enabled"`
	Listen   string        `yaml:"listen,omitempty" mapstructure:"listen"`
	Interval time.Duration `yaml:"interval,omitempty" mapstructure:"interval"`
}

// ServerConfig contains HTTP API settings.
type ServerConfig struct {
	Listen      string   `yaml:"listen" mapstructure:"listen"`
	CORSOrigins []string `yaml:"cors_origins,omitempty" mapstructure:"cors_origins"`

	RateLimit RateLimitConfig `yaml:"rate_limit,omitempty" mapstructure:"rate_limit"`
}

// RateLimitConfig configures per-IP rate limiting on submissions.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled" mapstructure:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute,omitempty" mapstructure:"requests_per_minute"`
}

// Load reads the configuration file, applies LOADOOR_* environment
// overrides, and fills defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("LOADOOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// applyDefaults sets default values for unspecified options.
func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}

	if c.RunsDir == "" {
		c.RunsDir = DefaultRunsDir
	}

	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}

	if c.Database.Driver == "sqlite" && c.Database.SQLite.Path == "" {
		c.Database.SQLite.Path = "./loadoor.db"
	}

	if c.Syncer.Interval == 0 {
		c.Syncer.Interval = DefaultSyncInterval
	}

	if c.Syncer.StalenessThreshold == 0 {
		c.Syncer.StalenessThreshold = DefaultStalenessThreshold
	}

	if c.Archiver.KeepLatest == 0 {
		c.Archiver.KeepLatest = DefaultKeepLatest
	}

	if c.Archiver.Retention == 0 {
		c.Archiver.Retention = DefaultArchiveRetention
	}

	if c.Archiver.Interval == 0 {
		c.Archiver.Interval = DefaultArchiveInterval
	}

	if c.Archiver.ArchiveDir == "" {
		c.Archiver.ArchiveDir = c.RunsDir + "/archive"
	}

	if c.Metrics.Listen == "" {
		c.Metrics.Listen = DefaultMetricsListen
	}

	if c.Metrics.Interval == 0 {
		c.Metrics.Interval = DefaultMetricsInterval
	}

	if c.Server.Listen == "" {
		c.Server.Listen = ":8080"
	}

	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerMinute == 0 {
		c.Server.RateLimit.RequestsPerMinute = 30
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.SQLite.Path == "" {
			return fmt.Errorf("database.sqlite.path is required")
		}
	case "postgres":
		if c.Database.Postgres.Host == "" {
			return fmt.Errorf("database.postgres.host is required")
		}

		if c.Database.Postgres.Database == "" {
			return fmt.Errorf("database.postgres.database is required")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	if !c.Engine.Simulate && c.Engine.Binary == "" {
		return fmt.Errorf("engine.binary is required unless engine.simulate is set")
	}

	if c.Archiver.Upload != nil && c.Archiver.Upload.Enabled {
		if c.Archiver.Upload.Bucket == "" {
			return fmt.Errorf("archiver.upload.bucket is required")
		}
	}

	return nil
}
