package source

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BenjaminRains/dbt-dental-clinic-sub005/pkg/errors"
	"github.com/BenjaminRains/dbt-dental-clinic-sub005/pkg/logger"
)

// Watermark pairs a tracked column with its last loaded value. A zero Value
// means no prior load and selects all rows.
type Watermark struct {
	Column string
	Value  time.Time
}

// Batch is one chunk of extracted rows, bounded by the configured batch size.
// Batches are numbered in read order so the caller can apply its
// contiguous-prefix rule when advancing watermarks.
type Batch struct {
	Index   int
	Columns []string
	Rows    [][]interface{}
}

// MaxTime returns the maximum non-NULL time value in the named column of the
// batch, and whether one was found.
func (b *Batch) MaxTime(column string) (time.Time, bool) {
	idx := -1
	for i, c := range b.Columns {
		if c == column {
			idx = i
			break
		}
	}
	if idx < 0 {
		return time.Time{}, false
	}

	var max time.Time
	found := false
	for _, row := range b.Rows {
		t, ok := row[idx].(time.Time)
		if !ok {
			continue
		}
		if !found || t.After(max) {
			max = t
			found = true
		}
	}
	return max, found
}

// Reader streams rows out of the source in batches.
type Reader struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewReader creates a Reader over an open source pool.
func NewReader(db *sql.DB) *Reader {
	return &Reader{
		db:     db,
		logger: logger.With(zap.String("component", "reader")),
	}
}

// Read extracts rows from the table in batches of batchSize and sends them on
// out. When marks is non-empty the read is incremental: a row is selected if
// ANY tracked column advanced past its watermark (OR-combined predicates).
// orderBy, when non-empty, fixes the read order so chunk numbering is stable.
// The channel is closed when the read finishes, whether or not it succeeded.
func (r *Reader) Read(ctx context.Context, table string, columns []string, marks []Watermark, batchSize int, orderBy string, out chan<- Batch) error {
	defer close(out)

	query, args := buildReadQuery(table, columns, marks, orderBy)
	r.logger.Debug("starting extraction",
		zap.String("table", table),
		zap.Int("batch_size", batchSize),
		zap.Int("tracked_columns", len(marks)))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeQuery, "extraction query failed")
	}
	defer rows.Close()

	index := 0
	batch := make([][]interface{}, 0, batchSize)

	for rows.Next() {
		values := make([]interface{}, len(columns))
		ptrs := make([]interface{}, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return errors.Wrap(err, errors.ErrorTypeData, "failed to scan row")
		}
		for i, v := range values {
			// The driver hands text columns back as []byte.
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		batch = append(batch, values)

		if len(batch) >= batchSize {
			if err := send(ctx, out, Batch{Index: index, Columns: columns, Rows: batch}); err != nil {
				return err
			}
			index++
			batch = make([][]interface{}, 0, batchSize)
		}
	}
	if err := rows.Err(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "error streaming rows")
	}

	if len(batch) > 0 {
		if err := send(ctx, out, Batch{Index: index, Columns: columns, Rows: batch}); err != nil {
			return err
		}
	}
	return nil
}

func send(ctx context.Context, out chan<- Batch, b Batch) error {
	select {
	case out <- b:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), errors.ErrorTypeTimeout, "extraction canceled")
	}
}

// buildReadQuery assembles the extraction SQL. Tracked-column predicates are
// OR-combined: a row already loaded through one column may be re-selected when
// another column advances, which is why the write path must upsert. Any
// tracked column still without a watermark widens the read to the full table.
func buildReadQuery(table string, columns []string, marks []Watermark, orderBy string) (string, []interface{}) {
	var sb strings.Builder
	sb.WriteString("SELECT ")
	for i, c := range columns {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(quoteIdent(c))
	}
	sb.WriteString(" FROM ")
	sb.WriteString(quoteIdent(table))

	var args []interface{}
	var preds []string
	for _, m := range marks {
		if m.Value.IsZero() {
			// A column with no stored watermark selects every row. Under OR
			// semantics that makes the whole predicate vacuous, so the read
			// must be unrestricted; filtering on the marked columns alone
			// would skip rows visible only through the unmarked one.
			preds = nil
			args = nil
			break
		}
		preds = append(preds, quoteIdent(m.Column)+" > ?")
		args = append(args, m.Value)
	}
	if len(preds) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(preds, " OR "))
	}

	if orderBy != "" {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(quoteIdent(orderBy))
	}

	return sb.String(), args
}
