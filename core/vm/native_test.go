package vm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"resengine/core/abi"
	"resengine/core/codec"
	engerrors "resengine/core/errors"
)

type recordingHost struct {
	ops   []abi.Op
	reply func(op abi.Op, args []byte) ([]byte, error)
}

func (h *recordingHost) Call(op abi.Op, args []byte) ([]byte, error) {
	h.ops = append(h.ops, op)
	if h.reply != nil {
		return h.reply(op, args)
	}
	return codec.Default.Encode(&abi.Empty{})
}

func encodeInput(t *testing.T, args []byte, handles ...uint32) []byte {
	t.Helper()
	b, err := codec.Default.Encode(&abi.Input{Args: args, Handles: handles})
	require.NoError(t, err)
	return b
}

func TestNativeRuntimeRoundTrip(t *testing.T) {
	rt := NewNativeRuntime(nil)
	rt.Register("demo", "Counter", "bump", func(g *Guest, in abi.Input) (abi.Output, error) {
		if err := g.Log("info", "bumping"); err != nil {
			return abi.Output{}, err
		}
		return abi.Output{Output: append([]byte("got:"), in.Args...), Handles: in.Handles}, nil
	})
	require.True(t, rt.Has([]byte("demo")))
	require.False(t, rt.Has([]byte("other")))

	host := &recordingHost{}
	raw, err := rt.Invoke(context.Background(), []byte("demo"), ExportName("Counter", "bump"), encodeInput(t, []byte("x"), 7), 0, host)
	require.NoError(t, err)

	var out abi.Output
	require.NoError(t, codec.Default.Decode(raw, &out))
	require.Equal(t, []byte("got:x"), out.Output)
	require.Equal(t, []uint32{7}, out.Handles)
	require.Equal(t, []abi.Op{abi.OpLog}, host.ops)
}

func TestNativeRuntimeTraps(t *testing.T) {
	rt := NewNativeRuntime(codec.Default)
	rt.Register("demo", "Bad", "panics", func(*Guest, abi.Input) (abi.Output, error) {
		panic("boom")
	})
	rt.Register("demo", "Bad", "aborts", func(*Guest, abi.Input) (abi.Output, error) {
		return abi.Output{}, errors.New("contract aborted")
	})
	ctx := context.Background()
	input := encodeInput(t, nil)

	_, err := rt.Invoke(ctx, []byte("demo"), "Bad::panics", input, 0, &recordingHost{})
	var trap *Trap
	require.ErrorAs(t, err, &trap)
	require.Equal(t, "Bad::panics", trap.Function)
	require.Equal(t, engerrors.KindTrap, engerrors.KindOf(err))

	_, err = rt.Invoke(ctx, []byte("demo"), "Bad::aborts", input, 0, &recordingHost{})
	require.ErrorIs(t, err, engerrors.ErrTrap)

	_, err = rt.Invoke(ctx, []byte("demo"), "Bad::missing", input, 0, &recordingHost{})
	require.ErrorIs(t, err, engerrors.ErrTrap)
	require.ErrorIs(t, err, engerrors.ErrNotFound)

	_, err = rt.Invoke(ctx, []byte("demo"), "Bad::panics", []byte{0xff}, 0, &recordingHost{})
	require.ErrorIs(t, err, engerrors.ErrDecode)
}

func TestGuestDecodesHostResults(t *testing.T) {
	host := &recordingHost{reply: func(op abi.Op, args []byte) ([]byte, error) {
		switch op {
		case abi.OpMint:
			var req abi.MintArgs
			if err := codec.Default.Decode(args, &req); err != nil {
				return nil, err
			}
			return codec.Default.Encode(&abi.HandleResult{Handle: 3})
		case abi.OpBurn:
			return nil, engerrors.ErrBurnNotAllowed
		}
		return codec.Default.Encode(&abi.Empty{})
	}}
	g := NewGuest(context.Background(), host, nil)

	h, err := g.Mint([21]byte{3}, decimalOf(t, "5"), nil)
	require.NoError(t, err)
	require.Equal(t, uint32(3), h)
	require.ErrorIs(t, g.Burn(h), engerrors.ErrBurnNotAllowed)
	require.Equal(t, []abi.Op{abi.OpMint, abi.OpBurn}, host.ops)
}

func TestRuntimesValidateCode(t *testing.T) {
	ctx := context.Background()
	native := NewNativeRuntime(nil)
	native.Register("demo", "A", "f", func(*Guest, abi.Input) (abi.Output, error) { return abi.Output{}, nil })
	require.NoError(t, native.Validate(ctx, []byte("demo")))
	require.ErrorIs(t, native.Validate(ctx, []byte("nope")), engerrors.ErrNotFound)

	wasm := newWasm(t)
	require.NoError(t, wasm.Validate(ctx, echoModule()))
	require.ErrorIs(t, wasm.Validate(ctx, []byte("junk")), engerrors.ErrInvalidArgument)
}
