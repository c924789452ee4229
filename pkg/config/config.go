// Package config provides the unified configuration for the replication engine.
// A single Config structure covers both sides of the system: the analyzer that
// produces the table configuration artifact, and the load engine that consumes
// it. All data-quality thresholds and batch-size tiers are configurable here
// rather than hard-coded in the components that use them.
package config

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the top-level configuration structure.
type Config struct {
	// Source describes the operational MySQL database rows are read from
	Source SourceConfig `yaml:"source" mapstructure:"source"`

	// Target describes the PostgreSQL analytics database rows are written to
	Target TargetConfig `yaml:"target" mapstructure:"target"`

	// Analysis contains the tunables of the configuration generator
	Analysis AnalysisConfig `yaml:"analysis" mapstructure:"analysis"`

	// Load contains the tunables of the replication engine
	Load LoadConfig `yaml:"load" mapstructure:"load"`

	// Logging controls structured log output
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`
}

// SourceConfig contains source database connection settings.
type SourceConfig struct {
	// DSN is a go-sql-driver/mysql connection string
	DSN      string `yaml:"dsn" mapstructure:"dsn"`
	Database string `yaml:"database" mapstructure:"database"`

	// MaxOpenConns bounds the source connection pool
	MaxOpenConns int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnLifetime time.Duration `yaml:"conn_lifetime" mapstructure:"conn_lifetime"`

	// QueryTimeout bounds every introspection and read query
	QueryTimeout time.Duration `yaml:"query_timeout" mapstructure:"query_timeout"`
}

// TargetConfig contains target database connection settings.
type TargetConfig struct {
	// DSN is a pgx connection string
	DSN    string `yaml:"dsn" mapstructure:"dsn"`
	Schema string `yaml:"schema" mapstructure:"schema"`

	MaxConns     int           `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns     int           `yaml:"min_conns" mapstructure:"min_conns"`
	ConnLifetime time.Duration `yaml:"conn_lifetime" mapstructure:"conn_lifetime"`

	// WriteTimeout bounds every write statement against the target
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`

	// StateTable holds per-table high-water marks on the target
	StateTable string `yaml:"state_table" mapstructure:"state_table"`
}

// AnalysisConfig contains the tunables of the configuration generator.
// The thresholds here are deliberately configurable: the source material for
// this system describes them only qualitatively.
type AnalysisConfig struct {
	// ArtifactPath is where the table configuration artifact is written
	ArtifactPath string `yaml:"artifact_path" mapstructure:"artifact_path"`
	// ReportDir receives the analysis report, performance summary and changelog
	ReportDir string `yaml:"report_dir" mapstructure:"report_dir"`

	// Row-count thresholds between performance categories
	SmallThreshold  int64 `yaml:"small_threshold" mapstructure:"small_threshold"`
	MediumThreshold int64 `yaml:"medium_threshold" mapstructure:"medium_threshold"`
	LargeThreshold  int64 `yaml:"large_threshold" mapstructure:"large_threshold"`

	// Recommended batch size per performance category
	TinyBatchSize   int `yaml:"tiny_batch_size" mapstructure:"tiny_batch_size"`
	SmallBatchSize  int `yaml:"small_batch_size" mapstructure:"small_batch_size"`
	MediumBatchSize int `yaml:"medium_batch_size" mapstructure:"medium_batch_size"`
	LargeBatchSize  int `yaml:"large_batch_size" mapstructure:"large_batch_size"`

	// AvgRowSizeBytes is the assumed row size used to estimate row counts for
	// tables whose catalog statistic reports zero rows but non-zero data bytes
	AvgRowSizeBytes int64 `yaml:"avg_row_size_bytes" mapstructure:"avg_row_size_bytes"`

	// NullDensityCutoff rejects incremental column candidates whose NULL
	// fraction exceeds it
	NullDensityCutoff float64 `yaml:"null_density_cutoff" mapstructure:"null_density_cutoff"`
	// SanityEpoch rejects incremental column candidates whose maximum value
	// predates it (stale or placeholder timestamps)
	SanityEpoch time.Time `yaml:"sanity_epoch" mapstructure:"sanity_epoch"`
	// FutureTolerance rejects candidates whose maximum value is further in the
	// future than this
	FutureTolerance time.Duration `yaml:"future_tolerance" mapstructure:"future_tolerance"`

	// PriorityColumns orders incremental column candidates, best first
	PriorityColumns []string `yaml:"priority_columns" mapstructure:"priority_columns"`
	// TrustedColumns is the allow-list that lets a tiny table use incremental
	// extraction instead of a full reload
	TrustedColumns []string `yaml:"trusted_columns" mapstructure:"trusted_columns"`

	// ExcludeTables are skipped entirely during analysis
	ExcludeTables []string `yaml:"exclude_tables" mapstructure:"exclude_tables"`
}

// LoadConfig contains the tunables of the replication engine.
type LoadConfig struct {
	// Workers bounds how many tables load in parallel
	Workers int `yaml:"workers" mapstructure:"workers"`
	// ChunkWorkers bounds concurrent chunk writes within one table
	ChunkWorkers int `yaml:"chunk_workers" mapstructure:"chunk_workers"`

	// RetryAttempts bounds retries of transient failures
	RetryAttempts   int           `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	RetryDelay      time.Duration `yaml:"retry_delay" mapstructure:"retry_delay"`
	RetryMultiplier float64       `yaml:"retry_multiplier" mapstructure:"retry_multiplier"`
	MaxRetryDelay   time.Duration `yaml:"max_retry_delay" mapstructure:"max_retry_delay"`

	// CopyThreshold switches from multi-row INSERT to COPY above this many rows
	CopyThreshold int `yaml:"copy_threshold" mapstructure:"copy_threshold"`

	// MemoryLimitMB caps estimated in-flight batch memory; chunk concurrency is
	// reduced when available system memory is below it
	MemoryLimitMB int `yaml:"memory_limit_mb" mapstructure:"memory_limit_mb"`

	// SummaryPath receives the per-run load summary report
	SummaryPath string `yaml:"summary_path" mapstructure:"summary_path"`
}

// LoggingConfig controls structured log output.
type LoggingConfig struct {
	Level    string `yaml:"level" mapstructure:"level"`
	Encoding string `yaml:"encoding" mapstructure:"encoding"`
}

// Default returns a Config with production-ready defaults.
func Default() *Config {
	return &Config{
		Source: SourceConfig{
			MaxOpenConns: 10,
			MaxIdleConns: 2,
			ConnLifetime: time.Hour,
			QueryTimeout: 30 * time.Second,
		},
		Target: TargetConfig{
			Schema:       "raw",
			MaxConns:     10,
			MinConns:     2,
			ConnLifetime: time.Hour,
			WriteTimeout: 5 * time.Minute,
			StateTable:   "replication_state",
		},
		Analysis: AnalysisConfig{
			ArtifactPath:      "etl_tables.yml",
			ReportDir:         "reports",
			SmallThreshold:    10_000,
			MediumThreshold:   100_000,
			LargeThreshold:    1_000_000,
			TinyBatchSize:     10_000,
			SmallBatchSize:    25_000,
			MediumBatchSize:   50_000,
			LargeBatchSize:    100_000,
			AvgRowSizeBytes:   100,
			NullDensityCutoff: 0.35,
			SanityEpoch:       time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC),
			FutureTolerance:   24 * time.Hour,
			PriorityColumns: []string{
				"DateTStamp", "SecDateTEdit", "DateTEdit",
				"DateModified", "DateEntry",
			},
			TrustedColumns: []string{"DateTStamp", "SecDateTEdit"},
		},
		Load: LoadConfig{
			Workers:         runtime.NumCPU(),
			ChunkWorkers:    4,
			RetryAttempts:   3,
			RetryDelay:      time.Second,
			RetryMultiplier: 2.0,
			MaxRetryDelay:   60 * time.Second,
			CopyThreshold:   5_000,
			MemoryLimitMB:   1024,
			SummaryPath:     "reports/load_summary.json",
		},
		Logging: LoggingConfig{
			Level:    "info",
			Encoding: "json",
		},
	}
}

// Load reads configuration from an optional YAML file and the environment.
// Environment variables use the REPLICATOR_ prefix with underscores for
// nesting, e.g. REPLICATOR_SOURCE_DSN. A .env file in the working directory is
// honored when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("replicator")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.Source.DSN == "" {
		return fmt.Errorf("source.dsn is required")
	}
	if c.Target.DSN == "" {
		return fmt.Errorf("target.dsn is required")
	}
	if c.Target.StateTable == "" {
		return fmt.Errorf("target.state_table is required")
	}
	if c.Analysis.SmallThreshold <= 0 ||
		c.Analysis.MediumThreshold <= c.Analysis.SmallThreshold ||
		c.Analysis.LargeThreshold <= c.Analysis.MediumThreshold {
		return fmt.Errorf("analysis thresholds must be positive and strictly increasing")
	}
	if c.Analysis.TinyBatchSize <= 0 || c.Analysis.SmallBatchSize < c.Analysis.TinyBatchSize ||
		c.Analysis.MediumBatchSize < c.Analysis.SmallBatchSize ||
		c.Analysis.LargeBatchSize < c.Analysis.MediumBatchSize {
		return fmt.Errorf("analysis batch sizes must be positive and non-decreasing by category")
	}
	if c.Analysis.NullDensityCutoff < 0 || c.Analysis.NullDensityCutoff > 1 {
		return fmt.Errorf("analysis.null_density_cutoff must be within [0, 1]")
	}
	if c.Load.Workers <= 0 {
		return fmt.Errorf("load.workers must be positive")
	}
	if c.Load.ChunkWorkers <= 0 {
		return fmt.Errorf("load.chunk_workers must be positive")
	}
	if c.Load.RetryAttempts < 0 {
		return fmt.Errorf("load.retry_attempts cannot be negative")
	}
	return nil
}

// BatchSizeFor returns the recommended batch size for a performance category
// name. Unknown categories fall back to the tiny tier.
func (a *AnalysisConfig) BatchSizeFor(category string) int {
	switch category {
	case "small":
		return a.SmallBatchSize
	case "medium":
		return a.MediumBatchSize
	case "large":
		return a.LargeBatchSize
	default:
		return a.TinyBatchSize
	}
}
