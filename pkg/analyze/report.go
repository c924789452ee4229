package analyze

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/goccy/go-json"

	"github.com/BenjaminRains/dbt-dental-clinic-sub005/pkg/errors"
)

// analysisReport is the detailed per-table report written for humans. It is
// write-only output: nothing in the load path reads it.
type analysisReport struct {
	Snapshot Snapshot            `json:"snapshot"`
	Tables   []tableReport       `json:"tables"`
	Skipped  map[string]string   `json:"skipped,omitempty"`
}

type tableReport struct {
	Name               string   `json:"name"`
	EstimatedRows      int64    `json:"estimated_rows"`
	SizeMB             float64  `json:"size_mb"`
	ColumnCount        int      `json:"column_count"`
	PrimaryKey         []string `json:"primary_key,omitempty"`
	IncrementalColumns []string `json:"incremental_columns"`
	PrimaryIncremental string   `json:"primary_incremental_column,omitempty"`
	Strategy           string   `json:"extraction_strategy"`
	Category           string   `json:"performance_category"`
	BatchSize          int      `json:"recommended_batch_size"`
	Priority           string   `json:"processing_priority"`
	EstimatedMinutes   float64  `json:"estimated_processing_minutes"`
	EstimatedMemoryMB  float64  `json:"estimated_memory_mb"`
}

// performanceSummary aggregates the run for a quick operational read.
type performanceSummary struct {
	TableCount            int            `json:"table_count"`
	TotalEstimatedRows    int64          `json:"total_estimated_rows"`
	TotalSizeMB           float64        `json:"total_size_mb"`
	TotalEstimatedMinutes float64        `json:"total_estimated_minutes"`
	BatchSizeHistogram    map[string]int `json:"batch_size_histogram"`
	PriorityDistribution  map[string]int `json:"priority_distribution"`
	StrategyDistribution  map[string]int `json:"strategy_distribution"`
}

// writeReports emits the analysis report, the performance summary and, when a
// baseline exists, the schema changelog.
func (g *Generator) writeReports(result *Result) error {
	dir := g.cfg.Analysis.ReportDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to create report directory")
	}

	if err := writeJSON(filepath.Join(dir, "analysis_report.json"), buildAnalysisReport(result)); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(dir, "performance_summary.json"), buildSummary(result.Profiles)); err != nil {
		return err
	}

	if result.HasBaseline {
		changelog := FormatChangelog(result.Changes, result.Snapshot)
		path := filepath.Join(dir, "schema_changelog.md")
		if err := os.WriteFile(path, []byte(changelog), 0o644); err != nil {
			return errors.Wrap(err, errors.ErrorTypeData, "failed to write schema changelog")
		}
	}
	return nil
}

func buildAnalysisReport(result *Result) analysisReport {
	report := analysisReport{Snapshot: result.Snapshot, Skipped: result.Skipped}
	for _, p := range result.Profiles {
		cols := p.IncrementalColumns
		if cols == nil {
			cols = []string{}
		}
		report.Tables = append(report.Tables, tableReport{
			Name:               p.Name,
			EstimatedRows:      p.EstimatedRows,
			SizeMB:             p.SizeMB,
			ColumnCount:        p.ColumnCount,
			PrimaryKey:         p.PrimaryKey,
			IncrementalColumns: cols,
			PrimaryIncremental: p.PrimaryIncremental,
			Strategy:           string(p.Strategy),
			Category:           string(p.Category),
			BatchSize:          p.BatchSize,
			Priority:           string(p.Priority),
			EstimatedMinutes:   p.EstimatedMinutes,
			EstimatedMemoryMB:  p.EstimatedMemMB,
		})
	}
	sort.Slice(report.Tables, func(i, j int) bool { return report.Tables[i].Name < report.Tables[j].Name })
	return report
}

func buildSummary(profiles []Profile) performanceSummary {
	summary := performanceSummary{
		TableCount:           len(profiles),
		BatchSizeHistogram:   make(map[string]int),
		PriorityDistribution: make(map[string]int),
		StrategyDistribution: make(map[string]int),
	}
	for _, p := range profiles {
		summary.TotalEstimatedRows += p.EstimatedRows
		summary.TotalSizeMB += p.SizeMB
		summary.TotalEstimatedMinutes += p.EstimatedMinutes
		summary.BatchSizeHistogram[fmt.Sprintf("%d", p.BatchSize)]++
		summary.PriorityDistribution[string(p.Priority)]++
		summary.StrategyDistribution[string(p.Strategy)]++
	}
	return summary
}

// FormatChangelog renders a ChangeRecord as a human-readable markdown
// changelog, breaking changes first.
func FormatChangelog(r *ChangeRecord, snap Snapshot) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Schema changelog\n\n")
	fmt.Fprintf(&sb, "Generated: %s  \nSchema hash: `%s`  \nTables: %d\n\n",
		snap.Timestamp.Format("2006-01-02 15:04:05 UTC"), snap.Hash, snap.TableCount)

	if r.Empty() {
		sb.WriteString("No structural changes since the previous run.\n")
		return sb.String()
	}

	if r.Breaking() {
		sb.WriteString("## Breaking changes\n\n")
		for _, t := range r.RemovedTables {
			fmt.Fprintf(&sb, "- **Removed table** `%s`\n", t)
		}
		for _, table := range sortedKeys(r.RemovedColumns) {
			for _, c := range r.RemovedColumns[table] {
				fmt.Fprintf(&sb, "- **Removed column** `%s.%s`\n", table, c)
			}
		}
		for _, table := range sortedKeysMod(r.ModifiedColumns) {
			for _, m := range r.ModifiedColumns[table] {
				fmt.Fprintf(&sb, "- **Type change** `%s.%s`: %s -> %s\n",
					table, m.Column, m.OldType, m.NewType)
			}
		}
		sb.WriteString("\n")
	}

	if len(r.AddedTables) > 0 || len(r.AddedColumns) > 0 {
		sb.WriteString("## Non-breaking changes\n\n")
		for _, t := range r.AddedTables {
			fmt.Fprintf(&sb, "- Added table `%s`\n", t)
		}
		for _, table := range sortedKeys(r.AddedColumns) {
			for _, c := range r.AddedColumns[table] {
				fmt.Fprintf(&sb, "- Added column `%s.%s`\n", table, c)
			}
		}
	}

	return sb.String()
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to serialize report")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to write report")
	}
	return nil
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedKeysMod(m map[string][]ColumnModification) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
