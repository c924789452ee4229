package analyze

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BenjaminRains/dbt-dental-clinic-sub005/pkg/contract"
	"github.com/BenjaminRains/dbt-dental-clinic-sub005/pkg/logger"
	"github.com/BenjaminRains/dbt-dental-clinic-sub005/pkg/metrics"
	"github.com/BenjaminRains/dbt-dental-clinic-sub005/pkg/source"
)

// Snapshot identifies one observed schema structure.
type Snapshot struct {
	Hash       string    `json:"hash"`
	Timestamp  time.Time `json:"timestamp"`
	TableCount int       `json:"table_count"`
}

// ColumnModification records a type change for one column.
type ColumnModification struct {
	Column  string `json:"column"`
	OldType string `json:"old_type"`
	NewType string `json:"new_type"`
}

// ChangeRecord is the structural diff between two schema snapshots.
// Removals and type changes are breaking; additions are non-breaking.
type ChangeRecord struct {
	AddedTables     []string                        `json:"added_tables"`
	RemovedTables   []string                        `json:"removed_tables"`
	AddedColumns    map[string][]string             `json:"added_columns"`
	RemovedColumns  map[string][]string             `json:"removed_columns"`
	ModifiedColumns map[string][]ColumnModification `json:"modified_columns"`
}

// Empty reports whether no drift was detected.
func (r *ChangeRecord) Empty() bool {
	return len(r.AddedTables) == 0 && len(r.RemovedTables) == 0 &&
		len(r.AddedColumns) == 0 && len(r.RemovedColumns) == 0 &&
		len(r.ModifiedColumns) == 0
}

// Breaking reports whether the record contains any breaking change: a removed
// table, a removed column, or a column type change.
func (r *ChangeRecord) Breaking() bool {
	return len(r.RemovedTables) > 0 || len(r.RemovedColumns) > 0 ||
		len(r.ModifiedColumns) > 0
}

// SchemaDef converts an introspected table schema to the column definitions
// recorded in the artifact.
func SchemaDef(schema *source.TableSchema) map[string]contract.ColumnDef {
	def := make(map[string]contract.ColumnDef, len(schema.Columns))
	for _, c := range schema.Columns {
		def[c.Name] = contract.ColumnDef{Type: c.DataType, Nullable: c.Nullable}
	}
	return def
}

// HashSchemas computes a deterministic digest over the structural definition
// of the schema. The representation is canonical and order-independent:
// reordering tables or columns never changes the hash, while adding, removing
// or retyping a column always does.
func HashSchemas(schemas map[string]map[string]contract.ColumnDef) string {
	lines := make([]string, 0, len(schemas)*8)
	for table, cols := range schemas {
		for name, def := range cols {
			lines = append(lines, fmt.Sprintf("%s.%s:%s:%t", table, name, def.Type, def.Nullable))
		}
	}
	sort.Strings(lines)

	h := sha256.New()
	h.Write([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(h.Sum(nil))
}

// DriftDetector compares the current schema against the previous run's
// artifact. The source-side application adds and retires columns over time;
// the detector is what lets the pipeline track that evolution instead of
// silently diverging.
type DriftDetector struct {
	logger *zap.Logger
}

// NewDriftDetector creates a DriftDetector.
func NewDriftDetector() *DriftDetector {
	return &DriftDetector{logger: logger.With(zap.String("component", "drift"))}
}

// Diff loads the previous artifact and produces the change record. A missing
// or unreadable previous artifact is not an error: it means no baseline, and
// the returned bool is false.
func (d *DriftDetector) Diff(current map[string]map[string]contract.ColumnDef, previousPath string) (*ChangeRecord, bool) {
	previous, err := contract.Read(previousPath)
	if err != nil {
		d.logger.Info("no usable schema baseline, skipping drift detection",
			zap.String("path", previousPath), zap.Error(err))
		return newChangeRecord(), false
	}

	prevSchemas := make(map[string]map[string]contract.ColumnDef, len(previous.Tables))
	for name, tc := range previous.Tables {
		if tc.Schema != nil {
			prevSchemas[name] = tc.Schema
		}
	}

	record := diffSchemas(prevSchemas, current)
	d.record(record)
	return record, true
}

func newChangeRecord() *ChangeRecord {
	return &ChangeRecord{
		AddedColumns:    make(map[string][]string),
		RemovedColumns:  make(map[string][]string),
		ModifiedColumns: make(map[string][]ColumnModification),
	}
}

// diffSchemas computes added/removed tables and added/removed/modified columns
// for tables present in both snapshots.
func diffSchemas(previous, current map[string]map[string]contract.ColumnDef) *ChangeRecord {
	record := newChangeRecord()

	for table := range current {
		if _, ok := previous[table]; !ok {
			record.AddedTables = append(record.AddedTables, table)
		}
	}
	for table := range previous {
		if _, ok := current[table]; !ok {
			record.RemovedTables = append(record.RemovedTables, table)
		}
	}
	sort.Strings(record.AddedTables)
	sort.Strings(record.RemovedTables)

	for table, currCols := range current {
		prevCols, ok := previous[table]
		if !ok {
			continue
		}

		var added, removed []string
		var modified []ColumnModification

		for name, def := range currCols {
			prevDef, exists := prevCols[name]
			if !exists {
				added = append(added, name)
				continue
			}
			if prevDef.Type != def.Type {
				modified = append(modified, ColumnModification{
					Column:  name,
					OldType: prevDef.Type,
					NewType: def.Type,
				})
			}
		}
		for name := range prevCols {
			if _, exists := currCols[name]; !exists {
				removed = append(removed, name)
			}
		}

		sort.Strings(added)
		sort.Strings(removed)
		sort.Slice(modified, func(i, j int) bool { return modified[i].Column < modified[j].Column })

		if len(added) > 0 {
			record.AddedColumns[table] = added
		}
		if len(removed) > 0 {
			record.RemovedColumns[table] = removed
		}
		if len(modified) > 0 {
			record.ModifiedColumns[table] = modified
		}
	}

	return record
}

// record feeds drift counters.
func (d *DriftDetector) record(r *ChangeRecord) {
	metrics.SchemaChanges.WithLabelValues("added_table").Add(float64(len(r.AddedTables)))
	metrics.SchemaChanges.WithLabelValues("removed_table").Add(float64(len(r.RemovedTables)))
	for _, cols := range r.AddedColumns {
		metrics.SchemaChanges.WithLabelValues("added_column").Add(float64(len(cols)))
	}
	for _, cols := range r.RemovedColumns {
		metrics.SchemaChanges.WithLabelValues("removed_column").Add(float64(len(cols)))
	}
	for _, mods := range r.ModifiedColumns {
		metrics.SchemaChanges.WithLabelValues("modified_column").Add(float64(len(mods)))
	}
}
