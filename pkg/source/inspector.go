package source

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BenjaminRains/dbt-dental-clinic-sub005/pkg/errors"
	"github.com/BenjaminRains/dbt-dental-clinic-sub005/pkg/logger"
)

// Inspector introspects the source catalog. A handle is passed in explicitly;
// the inspector holds no connection of its own.
type Inspector struct {
	db       *sql.DB
	database string
	timeout  time.Duration
	logger   *zap.Logger
}

// NewInspector creates an Inspector over an open source pool.
func NewInspector(db *sql.DB, database string, timeout time.Duration) *Inspector {
	return &Inspector{
		db:       db,
		database: database,
		timeout:  timeout,
		logger:   logger.With(zap.String("component", "inspector")),
	}
}

// ListTables returns the base table names of the source database, sorted by
// the catalog's default ordering.
func (i *Inspector) ListTables(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	rows, err := i.db.QueryContext(ctx, `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = ? AND table_type = 'BASE TABLE'
		ORDER BY table_name`, i.database)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to list tables")
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to scan table name")
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "error iterating table names")
	}
	return tables, nil
}

// TableSchema returns column definitions and the primary key of one table.
func (i *Inspector) TableSchema(ctx context.Context, table string) (*TableSchema, error) {
	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	rows, err := i.db.QueryContext(ctx, `
		SELECT column_name, data_type, is_nullable, ordinal_position, column_key, extra
		FROM information_schema.columns
		WHERE table_schema = ? AND table_name = ?
		ORDER BY ordinal_position`, i.database, table)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to query table schema")
	}
	defer rows.Close()

	schema := &TableSchema{Name: table}
	for rows.Next() {
		var col Column
		var nullable string
		if err := rows.Scan(&col.Name, &col.DataType, &nullable, &col.Position, &col.Key, &col.Extra); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to scan column row")
		}
		col.Nullable = nullable == "YES"
		if col.Key == "PRI" {
			schema.PrimaryKey = append(schema.PrimaryKey, col.Name)
		}
		schema.Columns = append(schema.Columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "error iterating column rows")
	}

	if len(schema.Columns) == 0 {
		return nil, errors.Newf(errors.ErrorTypeNotFound, "table %s not found or has no columns", table)
	}
	return schema, nil
}

// TemporalColumnStats runs the data-quality probe for one candidate
// incremental column: total rows, non-NULL rows and the maximum value, in a
// single scan.
func (i *Inspector) TemporalColumnStats(ctx context.Context, table, column string) (TemporalStats, error) {
	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	query := fmt.Sprintf(
		"SELECT COUNT(*), COUNT(%s), MAX(%s) FROM %s",
		quoteIdent(column), quoteIdent(column), quoteIdent(table))

	var stats TemporalStats
	err := i.db.QueryRowContext(ctx, query).Scan(&stats.TotalRows, &stats.NonNull, &stats.Max)
	if err != nil {
		return TemporalStats{}, errors.Wrap(err, errors.ErrorTypeQuery, "column quality probe failed")
	}
	return stats, nil
}

// Schemas introspects every listed table, skipping tables that disappear or
// deny access mid-run. Skipped tables are logged and omitted from the result.
func (i *Inspector) Schemas(ctx context.Context, tables []string) (map[string]*TableSchema, error) {
	schemas := make(map[string]*TableSchema, len(tables))
	for _, table := range tables {
		schema, err := i.TableSchema(ctx, table)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			i.logger.Warn("skipping table: schema introspection failed",
				zap.String("table", table), zap.Error(err))
			continue
		}
		schemas[table] = schema
	}
	return schemas, nil
}

// quoteIdent backtick-quotes a MySQL identifier.
func quoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}
