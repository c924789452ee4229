package load

import (
	"context"
	"database/sql"
	stderrors "errors"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/BenjaminRains/dbt-dental-clinic-sub005/pkg/config"
	"github.com/BenjaminRains/dbt-dental-clinic-sub005/pkg/contract"
	"github.com/BenjaminRains/dbt-dental-clinic-sub005/pkg/errors"
	"github.com/BenjaminRains/dbt-dental-clinic-sub005/pkg/logger"
	"github.com/BenjaminRains/dbt-dental-clinic-sub005/pkg/metrics"
	"github.com/BenjaminRains/dbt-dental-clinic-sub005/pkg/retry"
	"github.com/BenjaminRains/dbt-dental-clinic-sub005/pkg/source"
)

// Engine replicates tables from source to target according to the
// configuration artifact. It depends on the artifact's four contractual
// fields and the databases themselves; none of the analyzer's types appear
// here.
type Engine struct {
	cfg       *config.Config
	sourceDB  *sql.DB
	inspector *source.Inspector
	reader    *source.Reader
	pool      *pgxpool.Pool
	writer    *Writer
	marks     *WatermarkStore
	policy    retry.Policy
}

// Options control one load run.
type Options struct {
	// Tables restricts the run; empty means every table in the artifact
	Tables []string
	// ForceFull bypasses incremental logic and reloads from scratch
	ForceFull bool
	// DryRun reports planned actions without executing writes
	DryRun bool
	// Workers overrides the configured table-level concurrency when positive
	Workers int
}

// NewEngine connects both databases and prepares the state table.
func NewEngine(ctx context.Context, cfg *config.Config) (*Engine, error) {
	sourceDB, err := source.Connect(cfg.Source)
	if err != nil {
		return nil, err
	}

	pool, err := ConnectTarget(ctx, cfg.Target)
	if err != nil {
		sourceDB.Close()
		return nil, err
	}

	marks := NewWatermarkStore(pool, cfg.Target.Schema, cfg.Target.StateTable)
	if err := marks.Ensure(ctx); err != nil {
		sourceDB.Close()
		pool.Close()
		return nil, err
	}

	return &Engine{
		cfg:       cfg,
		sourceDB:  sourceDB,
		inspector: source.NewInspector(sourceDB, cfg.Source.Database, cfg.Source.QueryTimeout),
		reader:    source.NewReader(sourceDB),
		pool:      pool,
		writer:    NewWriter(pool, cfg.Target.Schema, cfg.Load.CopyThreshold),
		marks:     marks,
		policy: retry.Policy{
			Attempts:   cfg.Load.RetryAttempts,
			Delay:      cfg.Load.RetryDelay,
			Multiplier: cfg.Load.RetryMultiplier,
			MaxDelay:   cfg.Load.MaxRetryDelay,
			Timeout:    cfg.Target.WriteTimeout,
		},
	}, nil
}

// Close releases both database handles.
func (e *Engine) Close() {
	if e.sourceDB != nil {
		e.sourceDB.Close()
	}
	if e.pool != nil {
		e.pool.Close()
	}
}

// Run loads the selected tables through a bounded worker pool. Per-table
// failures are collected, not propagated: one bad table never aborts the
// rest. Cancellation stops dispatching new tables and lets in-flight loads
// drain to a consistent stop.
func (e *Engine) Run(ctx context.Context, opts Options) (*RunSummary, error) {
	contracts, defects, err := contract.LoadContracts(e.cfg.Analysis.ArtifactPath)
	if err != nil {
		return nil, err
	}

	selected, selectErrs := selectTables(contracts, defects, opts.Tables)

	summary := &RunSummary{StartedAt: time.Now().UTC()}
	ctx = context.WithValue(ctx, logger.RunIDKey, summary.StartedAt.Format("20060102-150405"))
	log := logger.WithContext(ctx).With(zap.String("component", "engine"))

	for table, serr := range selectErrs {
		log.Error("table excluded from run", zap.String("table", table), zap.Error(serr))
		summary.Results = append(summary.Results, Result{Table: table, Error: serr.Error()})
		summary.TablesFail++
		metrics.TableFailures.WithLabelValues(table, string(errorType(serr))).Inc()
	}

	if opts.DryRun {
		e.plan(ctx, selected, opts, summary)
		summary.CompletedAt = time.Now().UTC()
		return summary, nil
	}

	workers := e.cfg.Load.Workers
	if opts.Workers > 0 {
		workers = opts.Workers
	}
	if workers > len(selected) && len(selected) > 0 {
		workers = len(selected)
	}

	jobs := make(chan contract.TableContract)
	results := make(chan Result)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for tc := range jobs {
				results <- e.loadTable(ctx, tc, opts.ForceFull)
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, tc := range selected {
			select {
			case jobs <- tc:
			case <-ctx.Done():
				// Stop handing out work; in-flight tables finish on their own.
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	for r := range results {
		summary.Results = append(summary.Results, r)
		if r.Error == "" {
			summary.TablesOK++
			summary.RowsWritten += r.RowsWritten
		} else {
			summary.TablesFail++
		}
	}
	sort.Slice(summary.Results, func(i, j int) bool {
		return summary.Results[i].Table < summary.Results[j].Table
	})
	summary.CompletedAt = time.Now().UTC()

	if err := summary.Write(e.cfg.Load.SummaryPath); err != nil {
		log.Warn("failed to write run summary", zap.Error(err))
	}

	log.Info("load run complete",
		zap.Int("tables_ok", summary.TablesOK),
		zap.Int("tables_failed", summary.TablesFail),
		zap.Int64("rows_written", summary.RowsWritten),
		zap.Duration("duration", summary.CompletedAt.Sub(summary.StartedAt)))

	return summary, nil
}

// loadTable replicates one table end to end and never panics the pool: every
// failure comes back inside the Result.
func (e *Engine) loadTable(ctx context.Context, tc contract.TableContract, forceFull bool) (result Result) {
	ctx = context.WithValue(ctx, logger.TableKey, tc.Table)
	log := logger.WithContext(ctx)
	metrics.ActiveLoads.Inc()
	defer metrics.ActiveLoads.Dec()

	strategy := tc.ExtractionStrategy
	if forceFull {
		strategy = contract.StrategyFullTable
	}

	result = Result{Table: tc.Table, Strategy: strategy}
	timer := metrics.NewTimer(func(s float64) {
		metrics.LoadDuration.WithLabelValues(tc.Table, string(strategy)).Observe(s)
	})
	defer func() {
		result.Duration = timer.Stop()
		result.DurationSec = result.Duration.Seconds()
	}()

	schema, err := e.tableSchema(ctx, tc.Table)
	if err != nil {
		return failed(result, err)
	}

	// The upsert decision is independent of the write-throughput strategy:
	// OR-combined incremental predicates can re-select rows loaded in a prior
	// run, and only insert-or-update keeps those writes idempotent. A full
	// refresh truncates first, so there is nothing to conflict with.
	result.UseUpsert = !forceFull && strategy != contract.StrategyFullTable &&
		len(schema.PrimaryKey) > 0 && !trivialSurrogate(schema)

	if err := e.writer.EnsureTable(ctx, schema); err != nil {
		return failed(result, err)
	}

	if strategy == contract.StrategyFullTable {
		if err := e.writer.Truncate(ctx, tc.Table); err != nil {
			return failed(result, err)
		}
	}

	tracked := trackedColumns(tc, schema)
	var watermarks []source.Watermark
	if strategy != contract.StrategyFullTable {
		stored, err := e.marks.Get(ctx, tc.Table, tracked)
		if err != nil {
			return failed(result, err)
		}
		for _, col := range tracked {
			watermarks = append(watermarks, source.Watermark{Column: col, Value: stored[col]})
		}
	}

	columns := make([]string, len(schema.Columns))
	for i, c := range schema.Columns {
		columns[i] = c.Name
	}

	orderBy := ""
	chunkWorkers := 1
	if strategy == contract.StrategyIncrementalChunked {
		orderBy = tc.PrimaryIncrementalColumn
		chunkWorkers = e.chunkConcurrency(tc.BatchSize, len(columns))
	}

	rows, batches, err := e.replicate(ctx, tc, schema, columns, watermarks, tracked, orderBy, chunkWorkers, result.UseUpsert)
	result.RowsWritten = rows
	result.Batches = batches
	if err != nil {
		return failed(result, err)
	}

	metrics.RowsReplicated.WithLabelValues(tc.Table, string(strategy)).Add(float64(rows))
	log.Info("table loaded",
		zap.String("strategy", string(strategy)),
		zap.Bool("upsert", result.UseUpsert),
		zap.Int64("rows", rows),
		zap.Int("batches", batches))
	return result
}

// replicate runs the read stream against the chunk writers and advances
// watermarks for the contiguous prefix of committed chunks. Chunk writes may
// commit out of order (upsert makes final state order-independent), but the
// read cursor only moves once everything before it is confirmed.
func (e *Engine) replicate(ctx context.Context, tc contract.TableContract, schema *source.TableSchema,
	columns []string, watermarks []source.Watermark, tracked []string,
	orderBy string, chunkWorkers int, useUpsert bool) (int64, int, error) {

	readCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	batchCh := make(chan source.Batch, chunkWorkers)
	readErr := make(chan error, 1)
	go func() {
		readErr <- e.reader.Read(readCtx, tc.Table, columns, watermarks, tc.BatchSize, orderBy, batchCh)
	}()

	tracker := newChunkTracker()
	var rows int64
	var batchCount int64
	var writeErr error
	var errOnce sync.Once

	var wg sync.WaitGroup
	for i := 0; i < chunkWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for batch := range batchCh {
				err := retry.Do(ctx, e.policy, "write "+tc.Table, func(ctx context.Context) error {
					return e.writer.WriteBatch(ctx, tc.Table, batch.Columns, batch.Rows, useUpsert, schema.PrimaryKey)
				})
				if err != nil {
					errOnce.Do(func() {
						writeErr = err
						cancel() // stop the reader and drain
					})
					continue
				}

				atomic.AddInt64(&rows, int64(len(batch.Rows)))
				atomic.AddInt64(&batchCount, 1)

				maxima := make(map[string]time.Time, len(tracked))
				for _, col := range tracked {
					if t, ok := batch.MaxTime(col); ok {
						maxima[col] = t
					}
				}
				if safe := tracker.complete(batch.Index, maxima); safe != nil {
					if err := e.marks.Advance(ctx, tc.Table, safe); err != nil {
						errOnce.Do(func() {
							writeErr = err
							cancel()
						})
						continue
					}
					metrics.WatermarkAdvances.WithLabelValues(tc.Table).Inc()
				}
			}
		}()
	}

	wg.Wait()
	rerr := <-readErr

	if writeErr != nil {
		return atomic.LoadInt64(&rows), int(atomic.LoadInt64(&batchCount)), writeErr
	}
	if rerr != nil {
		return atomic.LoadInt64(&rows), int(atomic.LoadInt64(&batchCount)), rerr
	}
	return atomic.LoadInt64(&rows), int(atomic.LoadInt64(&batchCount)), nil
}

// tableSchema introspects the source table with the run's retry policy.
func (e *Engine) tableSchema(ctx context.Context, table string) (*source.TableSchema, error) {
	var schema *source.TableSchema
	err := retry.Do(ctx, e.policy, "introspect "+table, func(ctx context.Context) error {
		var err error
		schema, err = e.inspector.TableSchema(ctx, table)
		return err
	})
	return schema, err
}

// chunkConcurrency bounds parallel chunk writers by configuration and by the
// machine's available memory, so the largest tables cannot swap the host.
func (e *Engine) chunkConcurrency(batchSize, columnCount int) int {
	workers := e.cfg.Load.ChunkWorkers

	batchBytes := uint64(batchSize) * uint64(columnCount) * 32
	if batchBytes == 0 {
		return workers
	}

	budget := uint64(e.cfg.Load.MemoryLimitMB) * 1024 * 1024
	if vm, err := mem.VirtualMemory(); err == nil && vm.Available < budget {
		budget = vm.Available
	}

	if fit := int(budget / (batchBytes * 2)); fit < workers {
		workers = fit
	}
	if workers < 1 {
		workers = 1
	}
	return workers
}

// trackedColumns returns the artifact's incremental columns that still exist
// in the source schema, primary column first.
func trackedColumns(tc contract.TableContract, schema *source.TableSchema) []string {
	var cols []string
	if tc.PrimaryIncrementalColumn != "" && schema.Column(tc.PrimaryIncrementalColumn) != nil {
		cols = append(cols, tc.PrimaryIncrementalColumn)
	}
	for _, c := range tc.IncrementalColumns {
		if c == tc.PrimaryIncrementalColumn {
			continue
		}
		if schema.Column(c) != nil {
			cols = append(cols, c)
		}
	}
	return cols
}

// trivialSurrogate reports whether the primary key is a bare synthetic row
// number: a single auto-increment column with a generic name. Such keys are
// not stable row identities, so conflict-keyed upserts against them are
// meaningless.
func trivialSurrogate(schema *source.TableSchema) bool {
	if len(schema.PrimaryKey) != 1 || !schema.AutoIncrementPK() {
		return false
	}
	return strings.EqualFold(schema.PrimaryKey[0], "id")
}

// selectTables resolves the run's table set against the artifact.
func selectTables(contracts map[string]contract.TableContract, defects map[string]error,
	requested []string) ([]contract.TableContract, map[string]error) {

	selectErrs := make(map[string]error)

	if len(requested) == 0 {
		for table, derr := range defects {
			selectErrs[table] = derr
		}
		out := make([]contract.TableContract, 0, len(contracts))
		for _, tc := range contracts {
			out = append(out, tc)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Table < out[j].Table })
		return out, selectErrs
	}

	var out []contract.TableContract
	for _, name := range requested {
		if tc, ok := contracts[name]; ok {
			out = append(out, tc)
			continue
		}
		if derr, ok := defects[name]; ok {
			selectErrs[name] = derr
			continue
		}
		selectErrs[name] = errors.Newf(errors.ErrorTypeNotFound,
			"table %s is not in the configuration artifact", name)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Table < out[j].Table })
	return out, selectErrs
}

func failed(r Result, err error) Result {
	r.Error = err.Error()
	metrics.TableFailures.WithLabelValues(r.Table, string(errorType(err))).Inc()
	return r
}

func errorType(err error) errors.ErrorType {
	var e *errors.Error
	if stderrors.As(err, &e) {
		return e.Type
	}
	return errors.ErrorTypeInternal
}

// chunkTracker applies the contiguous-prefix rule for watermark advancement:
// chunk N's maxima become safe only once chunks 0..N-1 have all committed.
type chunkTracker struct {
	mu      sync.Mutex
	pending map[int]map[string]time.Time
	next    int
	safe    map[string]time.Time
}

func newChunkTracker() *chunkTracker {
	return &chunkTracker{
		pending: make(map[int]map[string]time.Time),
		safe:    make(map[string]time.Time),
	}
}

// complete records a committed chunk. When the contiguous prefix extends, it
// returns a copy of the safe maxima to persist; otherwise nil.
func (t *chunkTracker) complete(index int, maxima map[string]time.Time) map[string]time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.pending[index] = maxima
	advanced := false
	for {
		m, ok := t.pending[t.next]
		if !ok {
			break
		}
		for col, v := range m {
			if cur, ok := t.safe[col]; !ok || v.After(cur) {
				t.safe[col] = v
			}
		}
		delete(t.pending, t.next)
		t.next++
		advanced = true
	}
	if !advanced || len(t.safe) == 0 {
		return nil
	}

	out := make(map[string]time.Time, len(t.safe))
	for col, v := range t.safe {
		out[col] = v
	}
	return out
}
