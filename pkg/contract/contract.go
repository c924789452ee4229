// Package contract defines the configuration artifact shared between the
// analysis side and the load engine. The artifact is the only coupling point
// between the two: the generator writes it, the loader reads it, and neither
// side imports the other's types.
//
// Four fields per table are contractual and guaranteed stable across
// refactors of either side: extraction_strategy, batch_size,
// incremental_columns and primary_incremental_column. Everything else is
// advisory metadata and may change freely.
package contract

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/BenjaminRains/dbt-dental-clinic-sub005/pkg/errors"
)

// Strategy is the extraction strategy enum.
type Strategy string

const (
	// StrategyFullTable reloads the whole table every run
	StrategyFullTable Strategy = "full_table"
	// StrategyIncremental reads rows past the high-water marks in one pass
	StrategyIncremental Strategy = "incremental"
	// StrategyIncrementalChunked reads incrementally in bounded chunks
	StrategyIncrementalChunked Strategy = "incremental_chunked"
)

// Valid reports whether s is one of the three permitted strategies.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyFullTable, StrategyIncremental, StrategyIncrementalChunked:
		return true
	}
	return false
}

// ColumnDef records a column's structural definition for drift comparison.
type ColumnDef struct {
	Type     string `yaml:"type"`
	Nullable bool   `yaml:"nullable"`
}

// TableConfig is one table's entry in the artifact. The first four fields are
// the data contract; the rest are advisory.
type TableConfig struct {
	ExtractionStrategy       string   `yaml:"extraction_strategy"`
	BatchSize                int      `yaml:"batch_size"`
	IncrementalColumns       []string `yaml:"incremental_columns"`
	PrimaryIncrementalColumn *string  `yaml:"primary_incremental_column"`

	EstimatedRows              int64                `yaml:"estimated_rows"`
	SizeMB                     float64              `yaml:"size_mb"`
	ColumnCount                int                  `yaml:"column_count"`
	PerformanceCategory        string               `yaml:"performance_category"`
	ProcessingPriority         string               `yaml:"processing_priority"`
	EstimatedProcessingMinutes float64              `yaml:"estimated_processing_minutes"`
	EstimatedMemoryMB          float64              `yaml:"estimated_memory_mb"`
	Schema                     map[string]ColumnDef `yaml:"schema,omitempty"`
}

// Artifact is the full configuration artifact, regenerated wholesale on each
// analysis run.
type Artifact struct {
	GeneratedAt time.Time              `yaml:"generated_at"`
	SchemaHash  string                 `yaml:"schema_hash"`
	TableCount  int                    `yaml:"table_count"`
	Tables      map[string]TableConfig `yaml:"tables"`
}

// Write serializes the artifact to path atomically (write to a temp file in
// the same directory, then rename) so a crashed run never leaves a truncated
// artifact behind.
func (a *Artifact) Write(path string) error {
	data, err := yaml.Marshal(a)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to serialize artifact")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to create artifact directory")
	}

	tmp, err := os.CreateTemp(dir, ".artifact-*.yml")
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to create temp artifact")
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrap(err, errors.ErrorTypeData, "failed to write artifact")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, errors.ErrorTypeData, "failed to close artifact")
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, errors.ErrorTypeData, "failed to replace artifact")
	}
	return nil
}

// Read loads a full artifact. Used by the drift detector against the previous
// run's file; the load engine uses LoadContracts instead.
func Read(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrap(err, errors.ErrorTypeNotFound, "artifact not found")
		}
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to read artifact")
	}

	var a Artifact
	if err := yaml.Unmarshal(data, &a); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to parse artifact")
	}
	return &a, nil
}
