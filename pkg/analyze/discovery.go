package analyze

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/BenjaminRains/dbt-dental-clinic-sub005/pkg/config"
	"github.com/BenjaminRains/dbt-dental-clinic-sub005/pkg/logger"
	"github.com/BenjaminRains/dbt-dental-clinic-sub005/pkg/source"
)

// QualityProber probes a candidate column's data quality. The source
// Inspector satisfies it; tests substitute a fake.
type QualityProber interface {
	TemporalColumnStats(ctx context.Context, table, column string) (source.TemporalStats, error)
}

// Discovery finds and validates incremental (change-tracking) columns.
type Discovery struct {
	prober QualityProber
	cfg    *config.AnalysisConfig
	now    func() time.Time
	logger *zap.Logger
}

// NewDiscovery creates a Discovery using the given prober and tunables.
func NewDiscovery(prober QualityProber, cfg *config.AnalysisConfig) *Discovery {
	return &Discovery{
		prober: prober,
		cfg:    cfg,
		now:    time.Now,
		logger: logger.With(zap.String("component", "discovery")),
	}
}

// FindIncrementalColumns returns the timestamp-typed columns of the table that
// pass the data-quality check, in schema order.
func (d *Discovery) FindIncrementalColumns(ctx context.Context, schema *source.TableSchema) []string {
	var columns []string
	for _, col := range schema.Columns {
		if !col.IsTemporal() {
			continue
		}
		if d.ValidateQuality(ctx, schema.Name, col.Name) {
			columns = append(columns, col.Name)
		}
	}
	return columns
}

// ValidateQuality rejects candidates with excessive NULL density, values
// entirely before the sanity epoch, or values implausibly far in the future.
// A probe failure rejects the candidate rather than failing the run.
func (d *Discovery) ValidateQuality(ctx context.Context, table, column string) bool {
	stats, err := d.prober.TemporalColumnStats(ctx, table, column)
	if err != nil {
		d.logger.Warn("quality probe failed, rejecting candidate",
			zap.String("table", table), zap.String("column", column), zap.Error(err))
		return false
	}

	// Empty tables carry no evidence against the column.
	if stats.TotalRows == 0 {
		return true
	}

	if stats.NullDensity() > d.cfg.NullDensityCutoff {
		d.logger.Debug("rejecting candidate: NULL density too high",
			zap.String("table", table), zap.String("column", column),
			zap.Float64("null_density", stats.NullDensity()))
		return false
	}

	if !stats.Max.Valid {
		// All values NULL; density check above only misses this when the
		// cutoff is 1.0.
		return false
	}
	if stats.Max.Time.Before(d.cfg.SanityEpoch) {
		d.logger.Debug("rejecting candidate: all values before sanity epoch",
			zap.String("table", table), zap.String("column", column),
			zap.Time("max", stats.Max.Time))
		return false
	}
	if stats.Max.Time.After(d.now().Add(d.cfg.FutureTolerance)) {
		d.logger.Debug("rejecting candidate: maximum value in the future",
			zap.String("table", table), zap.String("column", column),
			zap.Time("max", stats.Max.Time))
		return false
	}
	return true
}

// SelectPrimary chooses the primary incremental column from validated
// candidates: the configured priority list is walked in order (an update
// timestamp outranks a create timestamp, which outranks generic date fields),
// then the first remaining candidate wins. Returns "" when candidates is
// empty.
func (d *Discovery) SelectPrimary(candidates []string) string {
	if len(candidates) == 0 {
		return ""
	}
	for _, preferred := range d.cfg.PriorityColumns {
		for _, c := range candidates {
			if c == preferred {
				return c
			}
		}
	}
	return candidates[0]
}
