package load

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/BenjaminRains/dbt-dental-clinic-sub005/pkg/errors"
)

// WatermarkStore persists per-(table, column) high-water marks in a state
// table on the target. Marks advance only after the corresponding writes are
// confirmed; anything less risks silently skipping rows on partial failure.
type WatermarkStore struct {
	pool   *pgxpool.Pool
	schema string
	table  string
}

// Mark is one persisted high-water mark.
type Mark struct {
	Table     string
	Column    string
	Value     time.Time
	UpdatedAt time.Time
}

// NewWatermarkStore creates a store over the target pool.
func NewWatermarkStore(pool *pgxpool.Pool, schema, table string) *WatermarkStore {
	return &WatermarkStore{pool: pool, schema: schema, table: table}
}

func (s *WatermarkStore) qualified() string {
	return pgIdent(s.schema) + "." + pgIdent(s.table)
}

// Ensure creates the state table when missing.
func (s *WatermarkStore) Ensure(ctx context.Context) error {
	ddl := fmt.Sprintf(`
		CREATE SCHEMA IF NOT EXISTS %s;
		CREATE TABLE IF NOT EXISTS %s (
			table_name  text NOT NULL,
			column_name text NOT NULL,
			watermark   timestamp NOT NULL,
			updated_at  timestamptz NOT NULL DEFAULT now(),
			PRIMARY KEY (table_name, column_name)
		)`, pgIdent(s.schema), s.qualified())
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to ensure replication state table")
	}
	return nil
}

// Get returns the stored marks for the given columns of a table. Columns with
// no prior load are absent from the result.
func (s *WatermarkStore) Get(ctx context.Context, table string, columns []string) (map[string]time.Time, error) {
	marks := make(map[string]time.Time, len(columns))
	if len(columns) == 0 {
		return marks, nil
	}

	query := fmt.Sprintf(
		"SELECT column_name, watermark FROM %s WHERE table_name = $1 AND column_name = ANY($2)",
		s.qualified())
	rows, err := s.pool.Query(ctx, query, table, columns)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to read watermarks")
	}
	defer rows.Close()

	for rows.Next() {
		var col string
		var mark time.Time
		if err := rows.Scan(&col, &mark); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to scan watermark row")
		}
		marks[col] = mark
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "error iterating watermark rows")
	}
	return marks, nil
}

// Advance raises the marks for a table. A mark never moves backwards: the
// stored value is the greatest of the existing and proposed watermarks, so a
// reordered chunk commit cannot regress the cursor.
func (s *WatermarkStore) Advance(ctx context.Context, table string, maxima map[string]time.Time) error {
	if len(maxima) == 0 {
		return nil
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (table_name, column_name, watermark, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (table_name, column_name)
		DO UPDATE SET watermark = GREATEST(%s.watermark, EXCLUDED.watermark), updated_at = now()`,
		s.qualified(), pgIdent(s.table))

	for col, value := range maxima {
		if _, err := s.pool.Exec(ctx, query, table, col, value); err != nil {
			return errors.Wrap(err, errors.ErrorTypeConnection, "failed to advance watermark")
		}
	}
	return nil
}

// List returns every stored mark, ordered by table then column. Used by the
// status command.
func (s *WatermarkStore) List(ctx context.Context) ([]Mark, error) {
	query := fmt.Sprintf(
		"SELECT table_name, column_name, watermark, updated_at FROM %s ORDER BY table_name, column_name",
		s.qualified())
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to list watermarks")
	}
	defer rows.Close()

	var marks []Mark
	for rows.Next() {
		var m Mark
		if err := rows.Scan(&m.Table, &m.Column, &m.Value, &m.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to scan watermark row")
		}
		marks = append(marks, m)
	}
	return marks, rows.Err()
}

// pgIdent double-quotes a PostgreSQL identifier.
func pgIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
