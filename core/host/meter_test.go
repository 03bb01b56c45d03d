package host

import (
	"testing"

	"github.com/stretchr/testify/require"

	engerrors "resengine/core/errors"
)

func TestMeterIsStickyOnExhaustion(t *testing.T) {
	m := NewMeter(100)
	require.NoError(t, m.Consume(60))
	require.Equal(t, uint64(40), m.Remaining())

	require.ErrorIs(t, m.Consume(41), engerrors.ErrOutOfResources)
	require.Equal(t, uint64(100), m.Used())
	require.ErrorIs(t, m.Consume(1), engerrors.ErrOutOfResources)
	require.NoError(t, m.Consume(0))
}

func TestBytesCostSaturates(t *testing.T) {
	require.Equal(t, uint64(10), bytesCost(10, 2, 0))
	require.Equal(t, uint64(16), bytesCost(10, 2, 3))
	require.Equal(t, ^uint64(0), bytesCost(10, ^uint64(0)/2, 3))
}

func TestMeterExhaustSpendsTheRest(t *testing.T) {
	m := NewMeter(100)
	require.NoError(t, m.Consume(30))
	m.Exhaust()
	require.Equal(t, uint64(100), m.Used())
	require.Zero(t, m.Remaining())
	require.ErrorIs(t, m.Consume(1), engerrors.ErrOutOfResources)
}
