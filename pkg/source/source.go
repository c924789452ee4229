// Package source reads from the operational MySQL database: catalog
// introspection, consolidated table statistics and chunked row extraction with
// predicate pushdown on tracked columns.
package source

import (
	"database/sql"

	"github.com/go-sql-driver/mysql"

	"github.com/BenjaminRains/dbt-dental-clinic-sub005/pkg/config"
	"github.com/BenjaminRains/dbt-dental-clinic-sub005/pkg/errors"
)

// Column describes one column of a source table.
type Column struct {
	Name     string
	DataType string // information_schema data_type, e.g. "datetime", "decimal"
	Nullable bool
	Position int
	Key      string // PRI, UNI, MUL or empty
	Extra    string // e.g. auto_increment
}

// TableSchema is the structural definition of one source table.
type TableSchema struct {
	Name       string
	Columns    []Column
	PrimaryKey []string
}

// AutoIncrementPK reports whether the primary key is a single auto-increment
// column.
func (t *TableSchema) AutoIncrementPK() bool {
	if len(t.PrimaryKey) != 1 {
		return false
	}
	for _, c := range t.Columns {
		if c.Name == t.PrimaryKey[0] {
			return c.Extra == "auto_increment"
		}
	}
	return false
}

// Column returns the named column, or nil.
func (t *TableSchema) Column(name string) *Column {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i]
		}
	}
	return nil
}

// SizeInfo carries the consolidated catalog statistics for one table.
type SizeInfo struct {
	EstimatedRows int64
	SizeMB        float64
	DataBytes     int64
	IndexBytes    int64
}

// TemporalStats summarizes the data quality of a timestamp-typed column.
type TemporalStats struct {
	TotalRows int64
	NonNull   int64
	Max       sql.NullTime
}

// NullDensity returns the fraction of NULL values in the column.
func (s TemporalStats) NullDensity() float64 {
	if s.TotalRows == 0 {
		return 0
	}
	return float64(s.TotalRows-s.NonNull) / float64(s.TotalRows)
}

// Connect opens the source database pool. The DSN is normalized to scan
// temporal columns as time.Time, which watermark comparisons require.
func Connect(cfg config.SourceConfig) (*sql.DB, error) {
	dsnCfg, err := mysql.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid source DSN")
	}
	dsnCfg.ParseTime = true

	db, err := sql.Open("mysql", dsnCfg.FormatDSN())
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid source DSN")
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnLifetime)
	return db, nil
}

// temporalTypes are the MySQL types eligible as incremental columns.
var temporalTypes = map[string]bool{
	"timestamp": true,
	"datetime":  true,
	"date":      true,
}

// IsTemporal reports whether the column can track incremental changes.
func (c *Column) IsTemporal() bool {
	return temporalTypes[c.DataType]
}
