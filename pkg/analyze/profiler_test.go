package analyze

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BenjaminRains/dbt-dental-clinic-sub005/pkg/config"
	"github.com/BenjaminRains/dbt-dental-clinic-sub005/pkg/source"
)

func newTestProfiler() *Profiler {
	cfg := config.Default()
	return NewProfiler(&cfg.Analysis)
}

func TestCategorize(t *testing.T) {
	p := newTestProfiler()

	tests := []struct {
		rows int64
		want Category
	}{
		{0, CategoryTiny},
		{9_999, CategoryTiny},
		{10_000, CategorySmall},
		{99_999, CategorySmall},
		{100_000, CategoryMedium},
		{999_999, CategoryMedium},
		{1_000_000, CategoryLarge},
		{50_000_000, CategoryLarge},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Categorize(tt.rows), "rows=%d", tt.rows)
	}
}

func TestProfileBatchSizeTiers(t *testing.T) {
	p := newTestProfiler()

	tiers := []struct {
		rows  int64
		batch int
	}{
		{100, 10_000},
		{50_000, 25_000},
		{500_000, 50_000},
		{5_000_000, 100_000},
	}
	for _, tt := range tiers {
		perf := p.Profile(&source.TableSchema{Name: "t"}, source.SizeInfo{EstimatedRows: tt.rows})
		assert.Equal(t, tt.batch, perf.BatchSize, "rows=%d", tt.rows)
	}
}

func TestProfileEstimatesAreMonotonic(t *testing.T) {
	p := newTestProfiler()
	schema := &source.TableSchema{
		Name: "procedurelog",
		Columns: []source.Column{
			{Name: "ProcNum"}, {Name: "PatNum"}, {Name: "DateTStamp"},
		},
	}

	sizes := []source.SizeInfo{
		{EstimatedRows: 1_000, SizeMB: 1},
		{EstimatedRows: 50_000, SizeMB: 40},
		{EstimatedRows: 400_000, SizeMB: 300},
		{EstimatedRows: 4_000_000, SizeMB: 3_000},
	}

	var lastMinutes, lastMem float64
	for _, size := range sizes {
		perf := p.Profile(schema, size)
		require.GreaterOrEqual(t, perf.EstimatedMinutes, lastMinutes,
			"estimated minutes must not shrink as tables grow (rows=%d)", size.EstimatedRows)
		require.GreaterOrEqual(t, perf.EstimatedMemMB, lastMem,
			"estimated memory must not shrink as tables grow (rows=%d)", size.EstimatedRows)
		lastMinutes = perf.EstimatedMinutes
		lastMem = perf.EstimatedMemMB
	}
}

func TestProfilePriority(t *testing.T) {
	p := newTestProfiler()

	tests := []struct {
		name string
		size source.SizeInfo
		want Priority
	}{
		{"large always high", source.SizeInfo{EstimatedRows: 2_000_000, SizeMB: 50}, PriorityHigh},
		{"heavy medium promoted", source.SizeInfo{EstimatedRows: 500_000, SizeMB: 600}, PriorityHigh},
		{"light medium stays medium", source.SizeInfo{EstimatedRows: 500_000, SizeMB: 90}, PriorityMedium},
		{"heavy small promoted", source.SizeInfo{EstimatedRows: 50_000, SizeMB: 150}, PriorityMedium},
		{"light small stays low", source.SizeInfo{EstimatedRows: 50_000, SizeMB: 5}, PriorityLow},
		{"tiny always low", source.SizeInfo{EstimatedRows: 100, SizeMB: 0.1}, PriorityLow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			perf := p.Profile(&source.TableSchema{Name: "t"}, tt.size)
			assert.Equal(t, tt.want, perf.Priority)
		})
	}
}

func TestEmptyTableEstimatesZeroMinutes(t *testing.T) {
	p := newTestProfiler()
	perf := p.Profile(&source.TableSchema{Name: "t"}, source.SizeInfo{})
	assert.Zero(t, perf.EstimatedMinutes)
}
