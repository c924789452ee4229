package analyze

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/BenjaminRains/dbt-dental-clinic-sub005/pkg/config"
	"github.com/BenjaminRains/dbt-dental-clinic-sub005/pkg/errors"
	"github.com/BenjaminRains/dbt-dental-clinic-sub005/pkg/source"
)

// fakeProber serves canned stats per column.
type fakeProber struct {
	stats map[string]source.TemporalStats
	errs  map[string]error
}

func (f *fakeProber) TemporalColumnStats(_ context.Context, _, column string) (source.TemporalStats, error) {
	if err, ok := f.errs[column]; ok {
		return source.TemporalStats{}, err
	}
	return f.stats[column], nil
}

func validStats(rows int64) source.TemporalStats {
	return source.TemporalStats{
		TotalRows: rows,
		NonNull:   rows,
		Max:       sql.NullTime{Time: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC), Valid: true},
	}
}

func newTestDiscovery(prober QualityProber) *Discovery {
	cfg := config.Default()
	d := NewDiscovery(prober, &cfg.Analysis)
	d.now = func() time.Time { return time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC) }
	return d
}

func TestFindIncrementalColumns(t *testing.T) {
	schema := &source.TableSchema{
		Name: "patient",
		Columns: []source.Column{
			{Name: "PatNum", DataType: "bigint"},
			{Name: "LName", DataType: "varchar"},
			{Name: "DateTStamp", DataType: "timestamp"},
			{Name: "SecDateTEdit", DataType: "timestamp"},
			{Name: "DateEntry", DataType: "date"},
		},
	}

	t.Run("only healthy temporal columns survive", func(t *testing.T) {
		prober := &fakeProber{stats: map[string]source.TemporalStats{
			"DateTStamp":   validStats(1000),
			"SecDateTEdit": validStats(1000),
			// DateEntry: 60% NULL, over the cutoff
			"DateEntry": {TotalRows: 1000, NonNull: 400,
				Max: sql.NullTime{Time: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), Valid: true}},
		}}
		d := newTestDiscovery(prober)

		cols := d.FindIncrementalColumns(context.Background(), schema)
		assert.Equal(t, []string{"DateTStamp", "SecDateTEdit"}, cols)
	})

	t.Run("results follow schema order", func(t *testing.T) {
		prober := &fakeProber{stats: map[string]source.TemporalStats{
			"DateTStamp":   validStats(10),
			"SecDateTEdit": validStats(10),
			"DateEntry":    validStats(10),
		}}
		d := newTestDiscovery(prober)

		cols := d.FindIncrementalColumns(context.Background(), schema)
		assert.Equal(t, []string{"DateTStamp", "SecDateTEdit", "DateEntry"}, cols)
	})
}

func TestValidateQuality(t *testing.T) {
	t.Run("probe failure rejects the candidate without failing the run", func(t *testing.T) {
		prober := &fakeProber{errs: map[string]error{
			"DateTStamp": errors.New(errors.ErrorTypeQuery, "probe failed"),
		}}
		d := newTestDiscovery(prober)
		assert.False(t, d.ValidateQuality(context.Background(), "patient", "DateTStamp"))
	})

	t.Run("empty table is accepted", func(t *testing.T) {
		prober := &fakeProber{stats: map[string]source.TemporalStats{"DateTStamp": {}}}
		d := newTestDiscovery(prober)
		assert.True(t, d.ValidateQuality(context.Background(), "patient", "DateTStamp"))
	})

	t.Run("values stuck before the sanity epoch are rejected", func(t *testing.T) {
		prober := &fakeProber{stats: map[string]source.TemporalStats{
			"DateTStamp": {TotalRows: 100, NonNull: 100,
				Max: sql.NullTime{Time: time.Date(1999, 12, 31, 0, 0, 0, 0, time.UTC), Valid: true}},
		}}
		d := newTestDiscovery(prober)
		assert.False(t, d.ValidateQuality(context.Background(), "patient", "DateTStamp"))
	})

	t.Run("values beyond the future tolerance are rejected", func(t *testing.T) {
		prober := &fakeProber{stats: map[string]source.TemporalStats{
			"DateTStamp": {TotalRows: 100, NonNull: 100,
				Max: sql.NullTime{Time: time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC), Valid: true}},
		}}
		d := newTestDiscovery(prober)
		assert.False(t, d.ValidateQuality(context.Background(), "patient", "DateTStamp"))
	})

	t.Run("clock skew within tolerance is accepted", func(t *testing.T) {
		prober := &fakeProber{stats: map[string]source.TemporalStats{
			"DateTStamp": {TotalRows: 100, NonNull: 100,
				Max: sql.NullTime{Time: time.Date(2026, 8, 29, 6, 0, 0, 0, time.UTC), Valid: true}},
		}}
		d := newTestDiscovery(prober)
		assert.True(t, d.ValidateQuality(context.Background(), "patient", "DateTStamp"))
	})

	t.Run("all NULL column is rejected", func(t *testing.T) {
		prober := &fakeProber{stats: map[string]source.TemporalStats{
			"DateTStamp": {TotalRows: 100, NonNull: 0},
		}}
		d := newTestDiscovery(prober)
		assert.False(t, d.ValidateQuality(context.Background(), "patient", "DateTStamp"))
	})
}

func TestSelectPrimary(t *testing.T) {
	cfg := config.Default()
	d := NewDiscovery(&fakeProber{}, &cfg.Analysis)

	t.Run("priority list wins over schema order", func(t *testing.T) {
		got := d.SelectPrimary([]string{"DateEntry", "SecDateTEdit", "DateTStamp"})
		assert.Equal(t, "DateTStamp", got)
	})

	t.Run("second preference applies when first is absent", func(t *testing.T) {
		got := d.SelectPrimary([]string{"DateEntry", "SecDateTEdit"})
		assert.Equal(t, "SecDateTEdit", got)
	})

	t.Run("falls back to first candidate", func(t *testing.T) {
		got := d.SelectPrimary([]string{"CustomStamp", "OtherStamp"})
		assert.Equal(t, "CustomStamp", got)
	})

	t.Run("empty candidates yield empty primary", func(t *testing.T) {
		assert.Equal(t, "", d.SelectPrimary(nil))
	})
}
