// Package analyze is the analysis side of the replication engine: it profiles
// source tables, discovers change-tracking columns, detects schema drift and
// emits the configuration artifact the load engine consumes.
package analyze

import (
	"github.com/BenjaminRains/dbt-dental-clinic-sub005/pkg/contract"
)

// Category is the performance band of a table.
type Category string

const (
	CategoryTiny   Category = "tiny"
	CategorySmall  Category = "small"
	CategoryMedium Category = "medium"
	CategoryLarge  Category = "large"
)

// Priority is the processing priority of a table.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// PerfProfile is the performance profiler's output for one table.
type PerfProfile struct {
	Category         Category
	BatchSize        int
	Priority         Priority
	EstimatedMinutes float64
	EstimatedMemMB   float64
}

// Profile is the assembled per-table analysis: identification, sizing,
// incremental metadata, profiler output and the chosen strategy.
//
// Invariants: PrimaryIncremental is non-empty only when IncrementalColumns is
// non-empty and is always a member of it; Strategy is full_table whenever
// IncrementalColumns is empty.
type Profile struct {
	Name          string
	EstimatedRows int64
	SizeMB        float64
	ColumnCount   int
	PrimaryKey    []string

	IncrementalColumns []string
	PrimaryIncremental string

	Strategy contract.Strategy
	PerfProfile
}
