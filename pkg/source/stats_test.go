package source

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatsBuild(t *testing.T) {
	c := &StatsCollector{avgRowSize: 100}

	t.Run("catalog row count is trusted when present", func(t *testing.T) {
		info := c.build(48213, 10*1024*1024, 2*1024*1024)
		assert.Equal(t, int64(48213), info.EstimatedRows)
		assert.InDelta(t, 12.0, info.SizeMB, 0.001)
		assert.Equal(t, int64(10*1024*1024), info.DataBytes)
	})

	t.Run("zero rows with data falls back to size estimate", func(t *testing.T) {
		// InnoDB row-count statistics lag; stale stats on a populated table
		// must not classify it as empty.
		info := c.build(0, 50_000, 0)
		assert.Equal(t, int64(500), info.EstimatedRows)
	})

	t.Run("tiny populated table estimates at least one row", func(t *testing.T) {
		info := c.build(0, 40, 0)
		assert.Equal(t, int64(1), info.EstimatedRows)
	})

	t.Run("truly empty table stays empty", func(t *testing.T) {
		info := c.build(0, 0, 0)
		assert.Zero(t, info.EstimatedRows)
		assert.Zero(t, info.SizeMB)
	})
}

func TestTemporalStatsNullDensity(t *testing.T) {
	assert.Zero(t, TemporalStats{}.NullDensity())
	assert.InDelta(t, 0.25, TemporalStats{TotalRows: 100, NonNull: 75}.NullDensity(), 0.001)
	assert.InDelta(t, 1.0, TemporalStats{TotalRows: 100, NonNull: 0}.NullDensity(), 0.001)
}
