package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapPreservesChain(t *testing.T) {
	root := errors.New("connection refused")
	wrapped := Wrap(root, ErrorTypeConnection, "failed to reach target")

	assert.True(t, errors.Is(wrapped, root))
	assert.Contains(t, wrapped.Error(), "connection refused")
	assert.Contains(t, wrapped.Error(), "failed to reach target")
}

func TestWrapNilReturnsNil(t *testing.T) {
	var err *Error = Wrap(nil, ErrorTypeInternal, "nothing")
	assert.Nil(t, err)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(New(ErrorTypeTimeout, "deadline")))
	assert.True(t, IsRetryable(New(ErrorTypeConnection, "reset")))
	assert.False(t, IsRetryable(New(ErrorTypeConflict, "duplicate key")))
	assert.False(t, IsRetryable(New(ErrorTypeConfig, "bad value")))
	assert.False(t, IsRetryable(errors.New("plain error")))

	// Retryability survives further wrapping.
	err := fmt.Errorf("loading patient: %w", New(ErrorTypeConnection, "reset"))
	assert.True(t, IsRetryable(err))
}

func TestIsType(t *testing.T) {
	err := Wrap(New(ErrorTypeQuery, "syntax"), ErrorTypeData, "extract failed")
	assert.True(t, IsType(err, ErrorTypeData))
	assert.False(t, IsType(errors.New("plain"), ErrorTypeData))
}

func TestWithDetail(t *testing.T) {
	err := New(ErrorTypeData, "bad row").WithDetail("table", "patient").WithDetail("row", 42)
	require.NotNil(t, err.Details)
	assert.Equal(t, "patient", err.Details["table"])
	assert.Equal(t, 42, err.Details["row"])
}

func TestStackIsCaptured(t *testing.T) {
	err := New(ErrorTypeInternal, "boom")
	assert.NotEmpty(t, err.Stack)
}
