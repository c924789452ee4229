package load

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/BenjaminRains/dbt-dental-clinic-sub005/pkg/config"
	"github.com/BenjaminRains/dbt-dental-clinic-sub005/pkg/errors"
	"github.com/BenjaminRains/dbt-dental-clinic-sub005/pkg/logger"
	"github.com/BenjaminRains/dbt-dental-clinic-sub005/pkg/metrics"
	"github.com/BenjaminRains/dbt-dental-clinic-sub005/pkg/source"
)

// pgMaxParams is the wire-protocol bind parameter ceiling; multi-row inserts
// are split to stay under it.
const pgMaxParams = 65535

// ConnectTarget opens the target pool with the configured limits.
func ConnectTarget(ctx context.Context, cfg config.TargetConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid target DSN")
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)
	if poolCfg.MaxConns <= 0 {
		poolCfg.MaxConns = 10
	}
	poolCfg.MinConns = int32(cfg.MinConns)
	if poolCfg.MinConns > poolCfg.MaxConns {
		poolCfg.MinConns = poolCfg.MaxConns / 2
	}
	poolCfg.MaxConnLifetime = cfg.ConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to create target pool")
	}
	return pool, nil
}

// Writer executes write statements against the target. The write strategy is
// chosen per batch, independent of the extraction strategy: multi-row INSERT
// for small batches, COPY for large full-refresh batches. COPY cannot resolve
// conflicts, so upsert batches always take the INSERT .. ON CONFLICT path.
type Writer struct {
	pool          *pgxpool.Pool
	schema        string
	copyThreshold int
	logger        *zap.Logger
}

// NewWriter creates a Writer over the target pool.
func NewWriter(pool *pgxpool.Pool, schema string, copyThreshold int) *Writer {
	return &Writer{
		pool:          pool,
		schema:        schema,
		copyThreshold: copyThreshold,
		logger:        logger.With(zap.String("component", "writer")),
	}
}

func (w *Writer) qualified(table string) string {
	return pgIdent(w.schema) + "." + pgIdent(table)
}

// EnsureTable creates the target table from the source schema when missing.
func (w *Writer) EnsureTable(ctx context.Context, schema *source.TableSchema) error {
	var cols []string
	for _, c := range schema.Columns {
		col := pgIdent(c.Name) + " " + mysqlToPgType(c.DataType)
		if !c.Nullable {
			col += " NOT NULL"
		}
		cols = append(cols, col)
	}
	if len(schema.PrimaryKey) > 0 {
		pk := make([]string, len(schema.PrimaryKey))
		for i, c := range schema.PrimaryKey {
			pk[i] = pgIdent(c)
		}
		cols = append(cols, "PRIMARY KEY ("+strings.Join(pk, ", ")+")")
	}

	ddl := fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s; CREATE TABLE IF NOT EXISTS %s (%s)",
		pgIdent(w.schema), w.qualified(schema.Name), strings.Join(cols, ", "))
	if _, err := w.pool.Exec(ctx, ddl); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to ensure target table")
	}
	return nil
}

// Truncate empties the target table ahead of a full refresh.
func (w *Writer) Truncate(ctx context.Context, table string) error {
	if _, err := w.pool.Exec(ctx, "TRUNCATE TABLE "+w.qualified(table)); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to truncate target table")
	}
	w.logger.Info("truncated target table for full refresh", zap.String("table", table))
	return nil
}

// WriteBatch writes one batch. With useUpsert the statement carries an
// ON CONFLICT clause keyed by the primary key, making re-selected rows
// idempotent; without it, batches at or above the copy threshold go through
// the COPY protocol.
func (w *Writer) WriteBatch(ctx context.Context, table string, columns []string, rows [][]interface{}, useUpsert bool, pk []string) error {
	if len(rows) == 0 {
		return nil
	}

	if !useUpsert && len(rows) >= w.copyThreshold {
		if err := w.copyRows(ctx, table, columns, rows); err != nil {
			return err
		}
		metrics.BatchesWritten.WithLabelValues(table, "copy").Inc()
		return nil
	}

	maxRows := pgMaxParams / len(columns)
	if maxRows < 1 {
		maxRows = 1
	}
	for start := 0; start < len(rows); start += maxRows {
		end := start + maxRows
		if end > len(rows) {
			end = len(rows)
		}
		if err := w.insertRows(ctx, table, columns, rows[start:end], useUpsert, pk); err != nil {
			return err
		}
	}
	metrics.BatchesWritten.WithLabelValues(table, "insert").Inc()
	return nil
}

// copyRows loads rows through the COPY protocol.
func (w *Writer) copyRows(ctx context.Context, table string, columns []string, rows [][]interface{}) error {
	ident := pgx.Identifier{w.schema, table}
	_, err := w.pool.CopyFrom(ctx, ident, columns, pgx.CopyFromRows(rows))
	if err != nil {
		return w.classifyWriteError(err, table)
	}
	return nil
}

// insertRows executes one multi-row INSERT, optionally with conflict
// resolution.
func (w *Writer) insertRows(ctx context.Context, table string, columns []string, rows [][]interface{}, useUpsert bool, pk []string) error {
	var sb strings.Builder
	sb.WriteString("INSERT INTO ")
	sb.WriteString(w.qualified(table))
	sb.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(pgIdent(c))
	}
	sb.WriteString(") VALUES ")

	args := make([]interface{}, 0, len(rows)*len(columns))
	param := 1
	for i, row := range rows {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(")
		for j := range columns {
			if j > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", param)
			param++
			args = append(args, row[j])
		}
		sb.WriteString(")")
	}

	if useUpsert {
		sb.WriteString(" ON CONFLICT (")
		for i, c := range pk {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(pgIdent(c))
		}
		sb.WriteString(") ")

		updatable := nonKeyColumns(columns, pk)
		if len(updatable) == 0 {
			sb.WriteString("DO NOTHING")
		} else {
			sb.WriteString("DO UPDATE SET ")
			for i, c := range updatable {
				if i > 0 {
					sb.WriteString(", ")
				}
				sb.WriteString(pgIdent(c))
				sb.WriteString(" = EXCLUDED.")
				sb.WriteString(pgIdent(c))
			}
		}
	}

	if _, err := w.pool.Exec(ctx, sb.String(), args...); err != nil {
		return w.classifyWriteError(err, table)
	}
	return nil
}

// classifyWriteError maps target errors onto the engine's taxonomy. A
// uniqueness violation should be impossible under the upsert invariant; when
// one surfaces anyway the artifact is stale and the table's load must fail
// without retry.
func (w *Writer) classifyWriteError(err error, table string) error {
	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) && pgErr.Code == "23505" {
		return errors.Wrap(err, errors.ErrorTypeConflict,
			"uniqueness violation on "+table+": configuration artifact is stale, regenerate with analyze")
	}
	return errors.Wrap(err, errors.ErrorTypeConnection, "write to "+table+" failed")
}

func nonKeyColumns(columns, pk []string) []string {
	keys := make(map[string]bool, len(pk))
	for _, k := range pk {
		keys[k] = true
	}
	var out []string
	for _, c := range columns {
		if !keys[c] {
			out = append(out, c)
		}
	}
	return out
}

// mysqlToPgType maps source column types onto target types.
func mysqlToPgType(mysqlType string) string {
	switch strings.ToLower(mysqlType) {
	case "tinyint", "smallint":
		return "smallint"
	case "mediumint", "int", "integer":
		return "integer"
	case "bigint":
		return "bigint"
	case "decimal", "numeric":
		return "numeric"
	case "float":
		return "real"
	case "double":
		return "double precision"
	case "bit":
		return "smallint"
	case "date":
		return "date"
	case "datetime", "timestamp":
		return "timestamp"
	case "time":
		return "time"
	case "year":
		return "smallint"
	case "char", "varchar", "tinytext", "text", "mediumtext", "longtext", "enum", "set":
		return "text"
	case "binary", "varbinary", "tinyblob", "blob", "mediumblob", "longblob":
		return "bytea"
	case "json":
		return "jsonb"
	default:
		return "text"
	}
}
