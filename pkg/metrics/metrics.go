// Package metrics provides Prometheus instrumentation for the replication
// engine. Collectors are registered automatically via promauto; components
// record through the package-level vectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RowsReplicated tracks rows written to the target.
	// Labels: table, strategy (full_table/incremental/incremental_chunked)
	RowsReplicated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replicator_rows_replicated_total",
			Help: "Total number of rows written to the target",
		},
		[]string{"table", "strategy"},
	)

	// BatchesWritten tracks completed batch writes.
	// Labels: table, writer (insert/copy)
	BatchesWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replicator_batches_written_total",
			Help: "Total number of batches written to the target",
		},
		[]string{"table", "writer"},
	)

	// TableFailures tracks per-table load failures by error type.
	TableFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replicator_table_failures_total",
			Help: "Total number of per-table load failures",
		},
		[]string{"table", "error_type"},
	)

	// LoadDuration tracks per-table load durations in seconds.
	LoadDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "replicator_load_duration_seconds",
			Help:    "Per-table load duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
		},
		[]string{"table", "strategy"},
	)

	// AnalysisDuration tracks configuration generation duration in seconds.
	AnalysisDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "replicator_analysis_duration_seconds",
			Help:    "Configuration generation duration in seconds",
			Buckets: []float64{1, 5, 15, 60, 300, 900},
		},
	)

	// TablesAnalyzed tracks tables processed by the configuration generator.
	// Labels: status (ok/skipped/failed)
	TablesAnalyzed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replicator_tables_analyzed_total",
			Help: "Tables processed by the configuration generator",
		},
		[]string{"status"},
	)

	// SchemaChanges tracks detected schema drift entries.
	// Labels: change (added_table/removed_table/added_column/removed_column/modified_column)
	SchemaChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replicator_schema_changes_total",
			Help: "Schema drift entries detected across runs",
		},
		[]string{"change"},
	)

	// ActiveLoads tracks tables currently loading.
	ActiveLoads = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "replicator_active_loads",
			Help: "Number of tables currently loading",
		},
	)

	// Watermark advances are tracked so a stalled table is visible.
	WatermarkAdvances = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replicator_watermark_advances_total",
			Help: "High-water mark advances per table",
		},
		[]string{"table"},
	)
)

// Timer measures a duration and observes it into a histogram on Stop.
type Timer struct {
	start   time.Time
	observe func(seconds float64)
}

// NewTimer starts a timer that reports into the given observer.
func NewTimer(observe func(seconds float64)) *Timer {
	return &Timer{start: time.Now(), observe: observe}
}

// Stop reports the elapsed time and returns it.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	if t.observe != nil {
		t.observe(elapsed.Seconds())
	}
	return elapsed
}
