package retry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BenjaminRains/dbt-dental-clinic-sub005/pkg/errors"
)

func fastPolicy(attempts int) Policy {
	return Policy{
		Attempts:   attempts,
		Delay:      time.Millisecond,
		Multiplier: 2.0,
		MaxDelay:   10 * time.Millisecond,
	}
}

func TestDo(t *testing.T) {
	t.Run("succeeds on first attempt", func(t *testing.T) {
		calls := 0
		err := Do(context.Background(), fastPolicy(3), "op", func(ctx context.Context) error {
			calls++
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("retries transient failures until they clear", func(t *testing.T) {
		calls := 0
		err := Do(context.Background(), fastPolicy(5), "op", func(ctx context.Context) error {
			calls++
			if calls < 3 {
				return errors.New(errors.ErrorTypeConnection, "connection reset")
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("non-retryable errors surface immediately", func(t *testing.T) {
		calls := 0
		conflict := errors.New(errors.ErrorTypeConflict, "uniqueness violation")
		err := Do(context.Background(), fastPolicy(5), "op", func(ctx context.Context) error {
			calls++
			return conflict
		})
		require.Error(t, err)
		assert.Equal(t, 1, calls)
		assert.True(t, errors.IsType(err, errors.ErrorTypeConflict))
	})

	t.Run("exhausted attempts return the last error with its type intact", func(t *testing.T) {
		calls := 0
		err := Do(context.Background(), fastPolicy(3), "op", func(ctx context.Context) error {
			calls++
			return errors.New(errors.ErrorTypeTimeout, "deadline exceeded")
		})
		require.Error(t, err)
		assert.Equal(t, 3, calls)
		assert.True(t, errors.IsType(err, errors.ErrorTypeTimeout))
	})

	t.Run("canceled context stops the loop", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		err := Do(ctx, fastPolicy(10), "op", func(ctx context.Context) error {
			calls++
			cancel()
			return errors.New(errors.ErrorTypeConnection, "connection reset")
		})
		require.Error(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("zero attempts still runs once", func(t *testing.T) {
		calls := 0
		err := Do(context.Background(), Policy{}, "op", func(ctx context.Context) error {
			calls++
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 1, calls)
	})
}
