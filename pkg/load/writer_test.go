package load

import (
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/BenjaminRains/dbt-dental-clinic-sub005/pkg/errors"
)

func TestClassifyWriteError(t *testing.T) {
	w := &Writer{schema: "raw"}

	t.Run("uniqueness violation is a non-retryable conflict", func(t *testing.T) {
		err := w.classifyWriteError(&pgconn.PgError{Code: "23505"}, "patient")
		assert.True(t, errors.IsType(err, errors.ErrorTypeConflict))
		assert.False(t, errors.IsRetryable(err))
		assert.Contains(t, err.Error(), "stale")
	})

	t.Run("other target errors are retryable connection errors", func(t *testing.T) {
		err := w.classifyWriteError(&pgconn.PgError{Code: "57P01"}, "patient")
		assert.True(t, errors.IsType(err, errors.ErrorTypeConnection))
		assert.True(t, errors.IsRetryable(err))
	})
}

func TestNonKeyColumns(t *testing.T) {
	cols := []string{"PatNum", "LName", "DateTStamp"}
	assert.Equal(t, []string{"LName", "DateTStamp"}, nonKeyColumns(cols, []string{"PatNum"}))
	assert.Empty(t, nonKeyColumns([]string{"a", "b"}, []string{"a", "b"}))
	assert.Equal(t, cols, nonKeyColumns(cols, nil))
}

func TestMysqlToPgType(t *testing.T) {
	tests := map[string]string{
		"tinyint":   "smallint",
		"int":       "integer",
		"bigint":    "bigint",
		"decimal":   "numeric",
		"double":    "double precision",
		"datetime":  "timestamp",
		"timestamp": "timestamp",
		"date":      "date",
		"varchar":   "text",
		"longtext":  "text",
		"blob":      "bytea",
		"json":      "jsonb",
		"geometry":  "text", // unmapped types degrade to text
	}
	for mysqlType, want := range tests {
		assert.Equal(t, want, mysqlToPgType(mysqlType), "type %s", mysqlType)
	}
}

func TestPgIdentQuoting(t *testing.T) {
	assert.Equal(t, `"patient"`, pgIdent("patient"))
	assert.Equal(t, `"odd""name"`, pgIdent(`odd"name`))
}
