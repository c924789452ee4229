package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// swapObserved installs an observer-backed global logger for the duration of
// a test and restores the previous one afterwards.
func swapObserved(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	prev := globalLogger
	globalLogger = zap.New(core)
	t.Cleanup(func() { globalLogger = prev })
	return logs
}

func TestWithContext(t *testing.T) {
	t.Run("run ID and table from context become log fields", func(t *testing.T) {
		logs := swapObserved(t)

		ctx := context.WithValue(context.Background(), RunIDKey, "20260828-093000")
		ctx = context.WithValue(ctx, TableKey, "patient")
		WithContext(ctx).Info("batch committed")

		entries := logs.All()
		require.Len(t, entries, 1)
		fields := entries[0].ContextMap()
		assert.Equal(t, "20260828-093000", fields["run_id"])
		assert.Equal(t, "patient", fields["table"])
	})

	t.Run("context without values adds no fields", func(t *testing.T) {
		logs := swapObserved(t)

		WithContext(context.Background()).Info("starting")

		entries := logs.All()
		require.Len(t, entries, 1)
		fields := entries[0].ContextMap()
		assert.NotContains(t, fields, "run_id")
		assert.NotContains(t, fields, "table")
	})

	t.Run("run ID alone does not imply a table", func(t *testing.T) {
		logs := swapObserved(t)

		ctx := context.WithValue(context.Background(), RunIDKey, "20260828-093000")
		WithContext(ctx).Warn("artifact missing")

		entries := logs.All()
		require.Len(t, entries, 1)
		fields := entries[0].ContextMap()
		assert.Equal(t, "20260828-093000", fields["run_id"])
		assert.NotContains(t, fields, "table")
	})
}

func TestInitRejectsBadLevel(t *testing.T) {
	_, err := newLogger(Config{Level: "chatty", Encoding: "json"})
	assert.Error(t, err)
}
