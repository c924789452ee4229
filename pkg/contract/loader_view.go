package contract

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/BenjaminRains/dbt-dental-clinic-sub005/pkg/errors"
)

// TableContract is the load engine's view of one table: exactly the four
// contractual fields, extracted by key lookup. Advisory fields never reach
// the loader, so the generator can reshape them without breaking loads.
type TableContract struct {
	Table                    string
	ExtractionStrategy       Strategy
	BatchSize                int
	IncrementalColumns       []string
	PrimaryIncrementalColumn string // empty means no primary incremental column
}

// Validate checks the contractual invariants for one table.
func (t *TableContract) Validate() error {
	if !t.ExtractionStrategy.Valid() {
		return errors.Newf(errors.ErrorTypeConfig,
			"table %s: invalid extraction_strategy %q", t.Table, t.ExtractionStrategy)
	}
	if t.BatchSize <= 0 {
		return errors.Newf(errors.ErrorTypeConfig,
			"table %s: batch_size must be positive, got %d", t.Table, t.BatchSize)
	}
	if t.ExtractionStrategy != StrategyFullTable && len(t.IncrementalColumns) == 0 {
		return errors.Newf(errors.ErrorTypeConfig,
			"table %s: %s strategy requires incremental_columns", t.Table, t.ExtractionStrategy)
	}
	if t.PrimaryIncrementalColumn != "" {
		member := false
		for _, c := range t.IncrementalColumns {
			if c == t.PrimaryIncrementalColumn {
				member = true
				break
			}
		}
		if !member {
			return errors.Newf(errors.ErrorTypeConfig,
				"table %s: primary_incremental_column %q is not in incremental_columns",
				t.Table, t.PrimaryIncrementalColumn)
		}
	}
	return nil
}

// LoadContracts reads the artifact and extracts only the contractual fields
// per table. Parsing is by key lookup into a generic document rather than the
// Artifact struct, so renamed or removed advisory fields cannot break the
// loader. A table with a missing or malformed contractual field is returned
// in defects and excluded from the result; other tables are unaffected.
func LoadContracts(path string) (map[string]TableContract, map[string]error, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, errors.Wrap(err, errors.ErrorTypeNotFound, "artifact not found; run analyze first")
		}
		return nil, nil, errors.Wrap(err, errors.ErrorTypeData, "failed to read artifact")
	}

	var doc struct {
		Tables map[string]map[string]interface{} `yaml:"tables"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrorTypeData, "failed to parse artifact")
	}
	if doc.Tables == nil {
		return nil, nil, errors.New(errors.ErrorTypeConfig, "artifact has no tables section")
	}

	contracts := make(map[string]TableContract, len(doc.Tables))
	defects := make(map[string]error)

	for name, fields := range doc.Tables {
		tc, err := extractContract(name, fields)
		if err != nil {
			defects[name] = err
			continue
		}
		if err := tc.Validate(); err != nil {
			defects[name] = err
			continue
		}
		contracts[name] = tc
	}
	return contracts, defects, nil
}

// extractContract pulls the four contractual fields out of one table entry.
func extractContract(table string, fields map[string]interface{}) (TableContract, error) {
	tc := TableContract{Table: table}

	strategy, ok := fields["extraction_strategy"].(string)
	if !ok {
		return tc, errors.Newf(errors.ErrorTypeConfig,
			"table %s: missing contractual field extraction_strategy", table)
	}
	tc.ExtractionStrategy = Strategy(strategy)

	batch, ok := toInt(fields["batch_size"])
	if !ok {
		return tc, errors.Newf(errors.ErrorTypeConfig,
			"table %s: missing contractual field batch_size", table)
	}
	tc.BatchSize = batch

	cols, ok := fields["incremental_columns"]
	if !ok {
		return tc, errors.Newf(errors.ErrorTypeConfig,
			"table %s: missing contractual field incremental_columns", table)
	}
	if cols != nil {
		list, ok := cols.([]interface{})
		if !ok {
			return tc, errors.Newf(errors.ErrorTypeConfig,
				"table %s: incremental_columns is not a list", table)
		}
		for _, c := range list {
			s, ok := c.(string)
			if !ok {
				return tc, errors.Newf(errors.ErrorTypeConfig,
					"table %s: incremental_columns contains a non-string entry", table)
			}
			tc.IncrementalColumns = append(tc.IncrementalColumns, s)
		}
	}

	primary, ok := fields["primary_incremental_column"]
	if !ok {
		return tc, errors.Newf(errors.ErrorTypeConfig,
			"table %s: missing contractual field primary_incremental_column", table)
	}
	if primary != nil {
		s, ok := primary.(string)
		if !ok {
			return tc, errors.Newf(errors.ErrorTypeConfig,
				"table %s: primary_incremental_column is not a string", table)
		}
		tc.PrimaryIncrementalColumn = s
	}

	return tc, nil
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}
