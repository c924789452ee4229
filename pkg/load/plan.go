package load

import (
	"context"

	"go.uber.org/zap"

	"github.com/BenjaminRains/dbt-dental-clinic-sub005/pkg/contract"
	"github.com/BenjaminRains/dbt-dental-clinic-sub005/pkg/logger"
)

// plan evaluates each selected table without touching the target's data
// tables: it resolves the effective strategy, the upsert decision, and the
// stored watermarks, then records a zero-row Result per table. The state
// table is read, never written.
func (e *Engine) plan(ctx context.Context, selected []contract.TableContract, opts Options, summary *RunSummary) {
	for _, tc := range selected {
		strategy := tc.ExtractionStrategy
		if opts.ForceFull {
			strategy = contract.StrategyFullTable
		}

		result := Result{Table: tc.Table, Strategy: strategy}
		log := logger.WithContext(context.WithValue(ctx, logger.TableKey, tc.Table))

		schema, err := e.tableSchema(ctx, tc.Table)
		if err != nil {
			summary.Results = append(summary.Results, failed(result, err))
			summary.TablesFail++
			continue
		}

		result.UseUpsert = !opts.ForceFull && strategy != contract.StrategyFullTable &&
			len(schema.PrimaryKey) > 0 && !trivialSurrogate(schema)

		fields := []zap.Field{
			zap.String("strategy", string(strategy)),
			zap.Int("batch_size", tc.BatchSize),
			zap.Bool("upsert", result.UseUpsert),
			zap.Strings("primary_key", schema.PrimaryKey),
		}

		if strategy != contract.StrategyFullTable {
			tracked := trackedColumns(tc, schema)
			stored, err := e.marks.Get(ctx, tc.Table, tracked)
			if err != nil {
				summary.Results = append(summary.Results, failed(result, err))
				summary.TablesFail++
				continue
			}
			for _, col := range tracked {
				if v, ok := stored[col]; ok {
					fields = append(fields, zap.Time("watermark_"+col, v))
				} else {
					fields = append(fields, zap.String("watermark_"+col, "none, first load"))
				}
			}
		}

		log.Info("planned load", fields...)
		summary.Results = append(summary.Results, result)
		summary.TablesOK++
	}
}
