package source

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildReadQuery(t *testing.T) {
	columns := []string{"PatNum", "LName", "DateTStamp"}

	t.Run("no watermarks reads everything", func(t *testing.T) {
		query, args := buildReadQuery("patient", columns, nil, "")
		assert.Equal(t, "SELECT `PatNum`, `LName`, `DateTStamp` FROM `patient`", query)
		assert.Empty(t, args)
	})

	t.Run("zero-valued watermarks are first-load and add no predicate", func(t *testing.T) {
		marks := []Watermark{{Column: "DateTStamp"}, {Column: "SecDateTEdit"}}
		query, args := buildReadQuery("patient", columns, marks, "")
		assert.NotContains(t, query, "WHERE")
		assert.Empty(t, args)
	})

	t.Run("predicates are OR-combined", func(t *testing.T) {
		mark := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
		marks := []Watermark{
			{Column: "DateTStamp", Value: mark},
			{Column: "SecDateTEdit", Value: mark},
		}
		query, args := buildReadQuery("patient", columns, marks, "")
		assert.Contains(t, query, "WHERE `DateTStamp` > ? OR `SecDateTEdit` > ?")
		require.Len(t, args, 2)
		assert.Equal(t, mark, args[0])
	})

	t.Run("newly tracked column without a watermark widens the read", func(t *testing.T) {
		// A column gains tracking after the table already has marks, e.g.
		// when analysis discovers it on a later run. Restricting the read to
		// the marked columns would permanently skip rows whose change shows
		// only through the new column, so the whole read goes unrestricted.
		mark := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
		marks := []Watermark{
			{Column: "DateTStamp", Value: mark},
			{Column: "SecDateTEdit"},
		}
		query, args := buildReadQuery("patient", columns, marks, "")
		assert.NotContains(t, query, "WHERE")
		assert.Empty(t, args)
	})

	t.Run("unmarked column widens the read regardless of position", func(t *testing.T) {
		mark := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
		marks := []Watermark{
			{Column: "SecDateTEdit"},
			{Column: "DateTStamp", Value: mark},
		}
		query, args := buildReadQuery("patient", columns, marks, "")
		assert.NotContains(t, query, "WHERE")
		assert.Empty(t, args)
	})

	t.Run("order by fixes chunk numbering", func(t *testing.T) {
		query, _ := buildReadQuery("patient", columns, nil, "DateTStamp")
		assert.Contains(t, query, " ORDER BY `DateTStamp`")
	})
}

func TestBatchMaxTime(t *testing.T) {
	batch := Batch{
		Columns: []string{"PatNum", "DateTStamp"},
		Rows: [][]interface{}{
			{int64(1), time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)},
			{int64(2), time.Date(2026, 8, 3, 10, 0, 0, 0, time.UTC)},
			{int64(3), nil},
			{int64(4), time.Date(2026, 8, 2, 10, 0, 0, 0, time.UTC)},
		},
	}

	t.Run("maximum skips NULLs", func(t *testing.T) {
		max, ok := batch.MaxTime("DateTStamp")
		require.True(t, ok)
		assert.Equal(t, time.Date(2026, 8, 3, 10, 0, 0, 0, time.UTC), max)
	})

	t.Run("unknown column finds nothing", func(t *testing.T) {
		_, ok := batch.MaxTime("Missing")
		assert.False(t, ok)
	})

	t.Run("all NULL column finds nothing", func(t *testing.T) {
		b := Batch{Columns: []string{"DateTStamp"}, Rows: [][]interface{}{{nil}, {nil}}}
		_, ok := b.MaxTime("DateTStamp")
		assert.False(t, ok)
	})
}

func TestIsTemporal(t *testing.T) {
	assert.True(t, (&Column{DataType: "timestamp"}).IsTemporal())
	assert.True(t, (&Column{DataType: "datetime"}).IsTemporal())
	assert.True(t, (&Column{DataType: "date"}).IsTemporal())
	assert.False(t, (&Column{DataType: "varchar"}).IsTemporal())
	assert.False(t, (&Column{DataType: "time"}).IsTemporal())
	assert.False(t, (&Column{DataType: "bigint"}).IsTemporal())
}

func TestAutoIncrementPK(t *testing.T) {
	t.Run("single auto-increment key", func(t *testing.T) {
		s := &TableSchema{
			Columns:    []Column{{Name: "PatNum", Extra: "auto_increment"}},
			PrimaryKey: []string{"PatNum"},
		}
		assert.True(t, s.AutoIncrementPK())
	})

	t.Run("composite key", func(t *testing.T) {
		s := &TableSchema{
			Columns:    []Column{{Name: "A", Extra: "auto_increment"}, {Name: "B"}},
			PrimaryKey: []string{"A", "B"},
		}
		assert.False(t, s.AutoIncrementPK())
	})

	t.Run("plain key", func(t *testing.T) {
		s := &TableSchema{
			Columns:    []Column{{Name: "Code"}},
			PrimaryKey: []string{"Code"},
		}
		assert.False(t, s.AutoIncrementPK())
	})
}
