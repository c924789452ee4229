package analyze

import (
	"github.com/BenjaminRains/dbt-dental-clinic-sub005/pkg/config"
	"github.com/BenjaminRains/dbt-dental-clinic-sub005/pkg/source"
)

// Profiler classifies tables into performance bands and derives batch size,
// priority and processing estimates. All outputs are monotonically
// non-decreasing in table size within one run.
type Profiler struct {
	cfg *config.AnalysisConfig
}

// NewProfiler creates a Profiler with the configured thresholds.
func NewProfiler(cfg *config.AnalysisConfig) *Profiler {
	return &Profiler{cfg: cfg}
}

// Categorize maps an estimated row count to a performance band.
func (p *Profiler) Categorize(rows int64) Category {
	switch {
	case rows < p.cfg.SmallThreshold:
		return CategoryTiny
	case rows < p.cfg.MediumThreshold:
		return CategorySmall
	case rows < p.cfg.LargeThreshold:
		return CategoryMedium
	default:
		return CategoryLarge
	}
}

// Profile derives the performance portion of a table's analysis.
func (p *Profiler) Profile(schema *source.TableSchema, size source.SizeInfo) PerfProfile {
	category := p.Categorize(size.EstimatedRows)
	batchSize := p.cfg.BatchSizeFor(string(category))

	return PerfProfile{
		Category:         category,
		BatchSize:        batchSize,
		Priority:         p.priority(category, size),
		EstimatedMinutes: p.estimateMinutes(size, batchSize),
		EstimatedMemMB:   p.estimateMemoryMB(batchSize, len(schema.Columns)),
	}
}

// priority derives processing priority from the band plus absolute size.
// Large tables always run first; a medium table earns high priority when its
// on-disk footprint says it is high-traffic.
func (p *Profiler) priority(category Category, size source.SizeInfo) Priority {
	switch category {
	case CategoryLarge:
		return PriorityHigh
	case CategoryMedium:
		if size.SizeMB >= 500 {
			return PriorityHigh
		}
		return PriorityMedium
	case CategorySmall:
		if size.SizeMB >= 100 {
			return PriorityMedium
		}
		return PriorityLow
	default:
		return PriorityLow
	}
}

// estimateMinutes is a coarse throughput model: batches move at roughly a
// fixed cadence, so processing time scales with row count over batch size,
// plus a transfer term for sheer volume. Monotonic non-decreasing in size.
func (p *Profiler) estimateMinutes(size source.SizeInfo, batchSize int) float64 {
	if size.EstimatedRows == 0 {
		return 0
	}
	const batchesPerMinute = 20.0
	const mbPerMinute = 250.0

	batches := float64(size.EstimatedRows)/float64(batchSize) + 1
	return batches/batchesPerMinute + size.SizeMB/mbPerMinute
}

// estimateMemoryMB models peak memory as one in-flight batch of scanned
// values. Monotonic non-decreasing in batch size and column count.
func (p *Profiler) estimateMemoryMB(batchSize, columnCount int) float64 {
	bytesPerValue := float64(p.cfg.AvgRowSizeBytes)
	if columnCount > 0 {
		// Spread the assumed row size over its columns, bounded below so wide
		// tables still grow with column count.
		perCol := bytesPerValue / float64(columnCount)
		if perCol < 8 {
			perCol = 8
		}
		bytesPerValue = perCol * float64(columnCount)
	}
	return float64(batchSize) * bytesPerValue / (1024 * 1024)
}
