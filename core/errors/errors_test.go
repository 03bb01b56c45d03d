package errors

import (
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	require.Equal(t, KindNone, KindOf(nil))
	require.Equal(t, KindInternal, KindOf(io.EOF))
	for _, k := range kinds {
		wrapped := fmt.Errorf("call Vault::take: %w", fmt.Errorf("%w: detail", k.err))
		require.Equal(t, k.kind, KindOf(wrapped), k.err.Error())
	}
}

func TestInvariantIsInternal(t *testing.T) {
	err := Invariant("handle %d bound twice", 3)
	require.True(t, IsInvariant(err))
	require.True(t, IsInvariant(fmt.Errorf("instruction 0: %w", err)))
	require.Equal(t, KindInternal, KindOf(err))

	wrapped := WrapInvariant(fmt.Errorf("%w: short payload", ErrDecode), "decode vault")
	require.True(t, IsInvariant(wrapped))
	require.Equal(t, KindInternal, KindOf(wrapped))

	require.NoError(t, WrapInvariant(nil, "noop"))
	require.False(t, IsInvariant(ErrConflict))
}

func TestIsContractBug(t *testing.T) {
	require.True(t, IsContractBug(fmt.Errorf("%w: bucket 2 left in Leaky::spin", ErrDanglingResource)))
	require.False(t, IsContractBug(ErrInsufficientResource))
	require.False(t, IsContractBug(nil))
}
