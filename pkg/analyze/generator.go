package analyze

import (
	"context"
	"database/sql"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/BenjaminRains/dbt-dental-clinic-sub005/pkg/config"
	"github.com/BenjaminRains/dbt-dental-clinic-sub005/pkg/contract"
	"github.com/BenjaminRains/dbt-dental-clinic-sub005/pkg/errors"
	"github.com/BenjaminRains/dbt-dental-clinic-sub005/pkg/logger"
	"github.com/BenjaminRains/dbt-dental-clinic-sub005/pkg/metrics"
	"github.com/BenjaminRains/dbt-dental-clinic-sub005/pkg/source"
)

// Generator orchestrates metrics collection, incremental column discovery,
// performance profiling, strategy determination and drift detection across
// all source tables, and emits the configuration artifact plus reports.
//
// All dependencies are passed in explicitly; the generator holds no global
// state and opens no connections of its own.
type Generator struct {
	inspector *source.Inspector
	stats     *source.StatsCollector
	discovery *Discovery
	profiler  *Profiler
	drift     *DriftDetector
	cfg       *config.Config
}

// Result is everything one analysis run produced.
type Result struct {
	Artifact    *contract.Artifact
	Profiles    []Profile
	Changes     *ChangeRecord
	HasBaseline bool
	Snapshot    Snapshot
	// Skipped maps table name to the reason it was left out of the artifact
	Skipped map[string]string
}

// NewGenerator wires a Generator over an open source pool.
func NewGenerator(db *sql.DB, cfg *config.Config) *Generator {
	inspector := source.NewInspector(db, cfg.Source.Database, cfg.Source.QueryTimeout)
	return &Generator{
		inspector: inspector,
		stats: source.NewStatsCollector(db, cfg.Source.Database,
			cfg.Source.QueryTimeout, cfg.Analysis.AvgRowSizeBytes),
		discovery: NewDiscovery(inspector, &cfg.Analysis),
		profiler:  NewProfiler(&cfg.Analysis),
		drift:     NewDriftDetector(),
		cfg:       cfg,
	}
}

// Run analyzes every source table and writes the artifact and reports.
// Per-table failures skip the table and continue; only infrastructure-level
// failures (catalog unreachable, artifact unwritable) abort the run.
func (g *Generator) Run(ctx context.Context) (*Result, error) {
	timer := metrics.NewTimer(metrics.AnalysisDuration.Observe)
	defer timer.Stop()

	ctx = context.WithValue(ctx, logger.RunIDKey, time.Now().UTC().Format("20060102-150405"))
	log := logger.WithContext(ctx).With(zap.String("component", "generator"))

	tables, err := g.inspector.ListTables(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to discover source tables")
	}
	tables = g.filterExcluded(tables)

	schemas, err := g.inspector.Schemas(ctx, tables)
	if err != nil {
		return nil, err
	}

	// One catalog scan covers every downstream consumer of the statistics.
	introspected := make([]string, 0, len(schemas))
	for name := range schemas {
		introspected = append(introspected, name)
	}
	sort.Strings(introspected)
	stats := g.stats.CollectBatch(ctx, introspected)

	result := &Result{Skipped: make(map[string]string)}
	for _, name := range tables {
		if _, ok := schemas[name]; !ok {
			result.Skipped[name] = "schema introspection failed"
			metrics.TablesAnalyzed.WithLabelValues("skipped").Inc()
		}
	}

	currentSchemas := make(map[string]map[string]contract.ColumnDef, len(schemas))
	artifactTables := make(map[string]contract.TableConfig, len(schemas))

	for _, name := range introspected {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeTimeout, "analysis canceled")
		}

		schema := schemas[name]
		profile := g.analyzeTable(ctx, schema, stats[name])

		if !profile.Strategy.Valid() {
			// A strategy outside the enum is a generation defect for this
			// table; skip it and keep the run alive.
			log.Error("invalid extraction strategy, skipping table",
				zap.String("table", name), zap.String("strategy", string(profile.Strategy)))
			result.Skipped[name] = "invalid extraction strategy: " + string(profile.Strategy)
			metrics.TablesAnalyzed.WithLabelValues("failed").Inc()
			continue
		}

		currentSchemas[name] = SchemaDef(schema)
		artifactTables[name] = toTableConfig(profile, currentSchemas[name])
		result.Profiles = append(result.Profiles, profile)
		metrics.TablesAnalyzed.WithLabelValues("ok").Inc()
	}

	// Compare against the previous artifact before overwriting it.
	result.Changes, result.HasBaseline = g.drift.Diff(currentSchemas, g.cfg.Analysis.ArtifactPath)

	hash := HashSchemas(currentSchemas)
	now := time.Now().UTC()
	result.Snapshot = Snapshot{Hash: hash, Timestamp: now, TableCount: len(artifactTables)}
	result.Artifact = &contract.Artifact{
		GeneratedAt: now,
		SchemaHash:  hash,
		TableCount:  len(artifactTables),
		Tables:      artifactTables,
	}

	if err := result.Artifact.Write(g.cfg.Analysis.ArtifactPath); err != nil {
		return nil, err
	}

	if err := g.writeReports(result); err != nil {
		// Reports are for humans; a failed report does not invalidate the
		// artifact that was already written.
		log.Warn("failed to write analysis reports", zap.Error(err))
	}

	log.Info("analysis complete",
		zap.Int("tables", len(artifactTables)),
		zap.Int("skipped", len(result.Skipped)),
		zap.String("schema_hash", hash),
		zap.Bool("baseline", result.HasBaseline))

	return result, nil
}

// analyzeTable assembles one table's profile from the component outputs.
func (g *Generator) analyzeTable(ctx context.Context, schema *source.TableSchema, size source.SizeInfo) Profile {
	candidates := g.discovery.FindIncrementalColumns(ctx, schema)
	primary := g.discovery.SelectPrimary(candidates)
	perf := g.profiler.Profile(schema, size)

	return Profile{
		Name:               schema.Name,
		EstimatedRows:      size.EstimatedRows,
		SizeMB:             size.SizeMB,
		ColumnCount:        len(schema.Columns),
		PrimaryKey:         schema.PrimaryKey,
		IncrementalColumns: candidates,
		PrimaryIncremental: primary,
		Strategy: DetermineStrategy(candidates, primary, perf.Category,
			g.cfg.Analysis.TrustedColumns),
		PerfProfile: perf,
	}
}

func (g *Generator) filterExcluded(tables []string) []string {
	if len(g.cfg.Analysis.ExcludeTables) == 0 {
		return tables
	}
	excluded := make(map[string]bool, len(g.cfg.Analysis.ExcludeTables))
	for _, t := range g.cfg.Analysis.ExcludeTables {
		excluded[t] = true
	}
	kept := tables[:0]
	for _, t := range tables {
		if !excluded[t] {
			kept = append(kept, t)
		}
	}
	return kept
}

// toTableConfig maps a profile onto its artifact entry.
func toTableConfig(p Profile, schemaDef map[string]contract.ColumnDef) contract.TableConfig {
	tc := contract.TableConfig{
		ExtractionStrategy:         string(p.Strategy),
		BatchSize:                  p.BatchSize,
		IncrementalColumns:         p.IncrementalColumns,
		EstimatedRows:              p.EstimatedRows,
		SizeMB:                     p.SizeMB,
		ColumnCount:                p.ColumnCount,
		PerformanceCategory:        string(p.Category),
		ProcessingPriority:         string(p.Priority),
		EstimatedProcessingMinutes: p.EstimatedMinutes,
		EstimatedMemoryMB:          p.EstimatedMemMB,
		Schema:                     schemaDef,
	}
	if p.IncrementalColumns == nil {
		tc.IncrementalColumns = []string{}
	}
	if p.PrimaryIncremental != "" {
		primary := p.PrimaryIncremental
		tc.PrimaryIncrementalColumn = &primary
	}
	return tc
}
