package host

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"resengine/core/abi"
	"resengine/core/auth"
	"resengine/core/codec"
	engerrors "resengine/core/errors"
	"resengine/core/frame"
	"resengine/core/resource"
	"resengine/core/substate"
	"resengine/core/types"
	"resengine/core/vm"
)

// Limits bounds what one transaction may do.
type Limits struct {
	MaxCallDepth    int `toml:"MaxCallDepth" yaml:"maxCallDepth"`
	MaxSubstateSize int `toml:"MaxSubstateSize" yaml:"maxSubstateSize"`
	MaxEvents       int `toml:"MaxEvents" yaml:"maxEvents"`
	MaxKeyLength    int `toml:"MaxKeyLength" yaml:"maxKeyLength"`
}

func DefaultLimits() Limits {
	return Limits{
		MaxCallDepth:    8,
		MaxSubstateSize: 64 * 1024,
		MaxEvents:       256,
		MaxKeyLength:    128,
	}
}

// Config carries the collaborators shared by every bridge of an executor.
type Config struct {
	Runtimes map[string]vm.Runtime
	Codec    codec.Codec
	Limits   Limits
	Costs    CostTable
	Logger   *slog.Logger
	// OnHostCall observes every dispatched host operation.
	OnHostCall func(op abi.Op)
}

// Bridge mediates between guest code and engine state for one transaction.
// Every frame reaches it through its own trampoline; only the innermost
// frame may call. The first error raised by any operation poisons the bridge
// so guest code cannot swallow a transaction-fatal failure.
type Bridge struct {
	ctx    context.Context
	cfg    Config
	tx     *substate.Transaction
	view   *resource.View
	ledger *resource.Ledger
	stack  *frame.Stack
	meter  *Meter
	txHash common.Hash

	nextEntity uint32
	created    []types.EntityID
	events     []types.Event
	logs       []types.LogEntry
	fault      error
	root       *frame.Frame
}

// New prepares a bridge over tx. Definitions resolve through registry and
// then through substates written by earlier transactions.
func New(ctx context.Context, cfg Config, tx *substate.Transaction, registry *resource.Registry, txHash common.Hash, costLimit uint64) *Bridge {
	if cfg.Codec == nil {
		cfg.Codec = codec.Default
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	view := registry.View(tx)
	ledger := resource.NewLedger(view)
	return &Bridge{
		ctx:    ctx,
		cfg:    cfg,
		tx:     tx,
		view:   view,
		ledger: ledger,
		stack:  frame.NewStack(cfg.Limits.MaxCallDepth, ledger, tx),
		meter:  NewMeter(costLimit),
		txHash: txHash,
	}
}

func (b *Bridge) Stack() *frame.Stack       { return b.stack }
func (b *Bridge) Ledger() *resource.Ledger  { return b.ledger }
func (b *Bridge) Meter() *Meter             { return b.meter }
func (b *Bridge) Events() []types.Event     { return b.events }
func (b *Bridge) Logs() []types.LogEntry    { return b.logs }
func (b *Bridge) Created() []types.EntityID { return b.created }

// Fault is the first error raised through the bridge, if any.
func (b *Bridge) Fault() error { return b.fault }

// Begin opens the root frame with the transaction's auth zone.
func (b *Bridge) Begin(zone *auth.Zone) error {
	root, err := b.stack.PushRoot(zone)
	if err != nil {
		return err
	}
	b.root = root
	return nil
}

// Finish closes the root frame, checks conservation and persists supply
// changes. Anything left on the worktop is a DanglingResource.
func (b *Bridge) Finish() error {
	if b.fault != nil {
		return b.fault
	}
	if b.root == nil {
		return engerrors.Invariant("finish without a root frame")
	}
	if _, err := b.stack.Pop(b.root, nil); err != nil {
		return b.fail(err)
	}
	if err := b.ledger.Audit(); err != nil {
		return b.fail(err)
	}
	if err := b.view.ApplySupply(b.root.ID, b.ledger); err != nil {
		return b.fail(err)
	}
	if held := b.tx.HeldLocks(); held != 0 {
		return b.fail(engerrors.Invariant("%d substate locks outlived their frames", held))
	}
	return nil
}

// Abort unwinds every open frame.
func (b *Bridge) Abort() { b.stack.Abort() }

func (b *Bridge) fail(err error) error {
	if b.fault == nil {
		b.fault = err
	}
	return err
}

func (b *Bridge) charge(units uint64) error {
	if err := b.meter.Consume(units); err != nil {
		return b.fail(err)
	}
	return nil
}

// allocate derives the next entity id of the transaction.
func (b *Bridge) allocate(kind types.EntityKind) (types.EntityID, error) {
	if err := b.charge(b.cfg.Costs.EntityCreate); err != nil {
		return types.EntityID{}, err
	}
	id := types.DeriveEntityID(kind, b.txHash.Bytes(), b.nextEntity)
	b.nextEntity++
	b.created = append(b.created, id)
	return id, nil
}

// trampoline is the vm.Host given to the guest running in one frame.
type trampoline struct {
	b *Bridge
	f *frame.Frame
}

func (t *trampoline) Call(op abi.Op, args []byte) ([]byte, error) {
	return t.b.call(t.f, op, args)
}

func (b *Bridge) call(f *frame.Frame, op abi.Op, args []byte) ([]byte, error) {
	if b.fault != nil {
		return nil, b.fault
	}
	if f != b.stack.Current() || f.State() != frame.StateActive {
		return nil, b.fail(fmt.Errorf("%w: %s called %s while not the active frame", engerrors.ErrInvalidArgument, f.Actor, op))
	}
	if err := b.charge(bytesCost(b.cfg.Costs.HostCall, b.cfg.Costs.PerByte, len(args))); err != nil {
		return nil, err
	}
	if b.cfg.OnHostCall != nil {
		b.cfg.OnHostCall(op)
	}
	out, err := b.dispatch(f, op, args)
	if err != nil {
		return nil, b.fail(err)
	}
	if err := b.charge(bytesCost(0, b.cfg.Costs.PerByte, len(out))); err != nil {
		return nil, err
	}
	return out, nil
}

func (b *Bridge) encode(v interface{}) ([]byte, error) { return b.cfg.Codec.Encode(v) }

func (b *Bridge) decode(data []byte, v interface{}) error { return b.cfg.Codec.Decode(data, v) }
