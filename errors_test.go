package greenrt

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResultIsError(t *testing.T) {
	require.False(t, Result(0).IsError())
	require.False(t, Result(128).IsError())
	require.True(t, Result(-1).IsError())
	require.True(t, Result(-22).IsError())
}

// TestOpErrorCodeFidelity is the testable property from spec.md §8/§10.12: a
// failed operation's *OpError carries the original negative Result code
// unchanged, regardless of how many layers convert it to an error.
func TestOpErrorCodeFidelity(t *testing.T) {
	err := newOpError("ReadFile", -22)
	require.Error(t, err)

	var opErr *OpError
	require.True(t, errors.As(err, &opErr))
	require.Equal(t, Result(-22), opErr.Code)
	require.Equal(t, "ReadFile", opErr.Op)
}

func TestNewOpErrorSuccessIsNil(t *testing.T) {
	require.NoError(t, newOpError("ReadFile", 0))
	require.NoError(t, newOpError("ReadFile", 128))
}

func TestOpErrorUnwrap(t *testing.T) {
	err := newOpError("WriteTCP", -32)
	var opErr *OpError
	require.True(t, errors.As(err, &opErr))
	require.Error(t, opErr.Unwrap())
}
