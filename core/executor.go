package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"resengine/core/abi"
	"resengine/core/auth"
	"resengine/core/codec"
	engerrors "resengine/core/errors"
	"resengine/core/events"
	"resengine/core/host"
	"resengine/core/resource"
	"resengine/core/substate"
	"resengine/core/types"
	"resengine/core/vm"
	"resengine/observability"
	"resengine/observability/logging"
	telemetry "resengine/observability/otel"
	"resengine/storage/trie"
)

const (
	modeExecute = "execute"
	modePreview = "preview"
)

// ExecutorConfig carries the knobs shared by every transaction.
type ExecutorConfig struct {
	Limits host.Limits
	Costs  host.CostTable
	// DefaultCostLimit applies to transactions that leave CostLimit at zero.
	DefaultCostLimit uint64
	Codec            codec.Codec
	Logger           *slog.Logger
	Emitter          events.Emitter
	Tracer           trace.Tracer
}

// DefaultExecutorConfig returns the limits and costs used when nothing is
// configured.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		Limits:           host.DefaultLimits(),
		Costs:            host.DefaultCosts(),
		DefaultCostLimit: 10_000_000,
	}
}

// Executor runs transactions against a substate store. Transactions are
// serialized; each one commits entirely or leaves the store untouched.
type Executor struct {
	mu       sync.Mutex
	store    *substate.Store
	registry *resource.Registry
	runtimes map[string]vm.Runtime
	cfg      ExecutorConfig
}

// NewExecutor builds an executor over store. A nil registry starts with the
// built-in signature badge only.
func NewExecutor(store *substate.Store, registry *resource.Registry, cfg ExecutorConfig) *Executor {
	if registry == nil {
		registry = resource.NewRegistry()
	}
	if cfg.Codec == nil {
		cfg.Codec = codec.Default
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Emitter == nil {
		cfg.Emitter = events.NoopEmitter{}
	}
	if cfg.Tracer == nil {
		cfg.Tracer = telemetry.Tracer()
	}
	return &Executor{
		store:    store,
		registry: registry,
		runtimes: make(map[string]vm.Runtime),
		cfg:      cfg,
	}
}

// RegisterRuntime makes packages of the given runtime kind executable.
func (e *Executor) RegisterRuntime(kind string, rt vm.Runtime) error {
	if kind == "" || rt == nil {
		return fmt.Errorf("executor: runtime kind and implementation required")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.runtimes[kind]; exists {
		return fmt.Errorf("executor: runtime %q already registered", kind)
	}
	e.runtimes[kind] = rt
	return nil
}

// Registry exposes the genesis resource definitions.
func (e *Executor) Registry() *resource.Registry { return e.registry }

// Execute runs tx and commits its writes when every instruction succeeds.
// A failure at any call depth discards all writes and is described by the
// receipt's error.
func (e *Executor) Execute(ctx context.Context, tx *types.Transaction) *types.Receipt {
	return e.run(ctx, tx, modeExecute)
}

// Preview runs tx exactly like Execute and reports the receipt it would
// produce, but never commits.
func (e *Executor) Preview(ctx context.Context, tx *types.Transaction) *types.Receipt {
	return e.run(ctx, tx, modePreview)
}

// execution collects what one run observed for logging and metrics.
type execution struct {
	id        string
	mode      string
	peakDepth int
	err       error
}

func (e *Executor) run(ctx context.Context, tx *types.Transaction, mode string) *types.Receipt {
	e.mu.Lock()
	defer e.mu.Unlock()

	exec := &execution{id: uuid.NewString(), mode: mode}
	ctx, span := e.cfg.Tracer.Start(ctx, "executor."+mode, trace.WithAttributes(
		attribute.String("execution.id", exec.id),
	))
	defer span.End()

	receipt := e.execute(ctx, tx, exec)

	span.SetAttributes(
		attribute.String("tx.hash", receipt.TxHash.Hex()),
		attribute.String("tx.outcome", string(receipt.Outcome)),
		attribute.Int64("tx.cost", int64(receipt.CostConsumed)),
	)
	if receipt.Error != nil {
		span.RecordError(exec.err)
		span.SetStatus(codes.Error, receipt.Error.Kind)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	e.report(receipt, exec)
	return receipt
}

func (e *Executor) execute(ctx context.Context, tx *types.Transaction, exec *execution) *types.Receipt {
	if tx == nil {
		return e.failed(exec, common.Hash{}, 0, nil, fmt.Errorf("%w: nil transaction", engerrors.ErrInvalidArgument))
	}
	hash, err := tx.Hash()
	if err != nil {
		return e.failed(exec, common.Hash{}, 0, nil, fmt.Errorf("%w: transaction hash: %v", engerrors.ErrDecode, err))
	}
	signers, err := tx.Signers()
	if err != nil {
		return e.failed(exec, hash, 0, nil, fmt.Errorf("%w: %v", engerrors.ErrAuthorizationDenied, err))
	}

	costLimit := tx.CostLimit
	if costLimit == 0 {
		costLimit = e.cfg.DefaultCostLimit
	}

	stx := e.store.OpenTransaction()
	bridge := host.New(ctx, host.Config{
		Runtimes: e.runtimes,
		Codec:    e.cfg.Codec,
		Limits:   e.cfg.Limits,
		Costs:    e.cfg.Costs,
		Logger:   e.cfg.Logger.With("execution_id", exec.id),
		OnHostCall: func(op abi.Op) {
			observability.Engine().RecordHostCall(op.String())
		},
	}, stx, e.registry, hash, costLimit)

	abort := func(err error) *types.Receipt {
		path := bridge.Stack().Path()
		exec.peakDepth = bridge.Stack().PeakDepth()
		bridge.Abort()
		stx.Discard()
		return e.failed(exec, hash, bridge.Meter().Used(), path, err)
	}

	if err := bridge.Begin(auth.SignerZone(signers)); err != nil {
		return abort(err)
	}
	outputs := make([][]byte, 0, len(tx.Instructions))
	for i, ins := range tx.Instructions {
		out, err := bridge.Apply(ins)
		if err != nil {
			return abort(fmt.Errorf("instruction %d (%s): %w", i, ins.Op, err))
		}
		outputs = append(outputs, out)
	}
	if err := bridge.Finish(); err != nil {
		return abort(err)
	}
	exec.peakDepth = bridge.Stack().PeakDepth()

	var diff []types.DiffEntry
	if exec.mode == modePreview {
		diff = stx.Diff()
		stx.Discard()
	} else {
		start := time.Now()
		diff, err = stx.Commit()
		if err != nil {
			stx.Discard()
			return e.failed(exec, hash, bridge.Meter().Used(), nil, err)
		}
		observability.Engine().ObserveCommit(time.Since(start))
	}

	root, err := diffRoot(diff)
	if err != nil {
		// The writes are already durable; the receipt still reports them.
		e.cfg.Logger.Error("diff root computation failed", "tx", hash.Hex(), "error", err)
	}
	return &types.Receipt{
		TxHash:       hash,
		Outcome:      types.OutcomeSuccess,
		StateDiff:    diff,
		DiffRoot:     root,
		Events:       bridge.Events(),
		Logs:         bridge.Logs(),
		Outputs:      outputs,
		NewEntities:  bridge.Created(),
		CostConsumed: bridge.Meter().Used(),
	}
}

func (e *Executor) failed(exec *execution, hash common.Hash, cost uint64, path []string, err error) *types.Receipt {
	exec.err = err
	return &types.Receipt{
		TxHash:       hash,
		Outcome:      types.OutcomeFailure,
		CostConsumed: cost,
		Error: &types.ReceiptError{
			Kind:        string(engerrors.KindOf(err)),
			FramePath:   path,
			Message:     err.Error(),
			ContractBug: engerrors.IsContractBug(err),
		},
	}
}

func (e *Executor) report(receipt *types.Receipt, exec *execution) {
	kind := ""
	if receipt.Error != nil {
		kind = receipt.Error.Kind
	}
	observability.Engine().RecordTransaction(exec.mode, string(receipt.Outcome), kind,
		receipt.CostConsumed, exec.peakDepth, len(receipt.StateDiff))

	attrs := []any{
		"execution_id", exec.id,
		"tx", receipt.TxHash.Hex(),
		"mode", exec.mode,
		"outcome", string(receipt.Outcome),
		"cost", receipt.CostConsumed,
		"diff", len(receipt.StateDiff),
		"events", len(receipt.Events),
	}
	switch {
	case receipt.Error == nil:
		e.cfg.Logger.Info("transaction executed", attrs...)
	case engerrors.IsInvariant(exec.err):
		attrs = append(attrs, "kind", kind, "frames", receipt.Error.FramePath, "error", exec.err)
		e.cfg.Logger.Error("engine invariant violated", attrs...)
	default:
		attrs = append(attrs, "kind", kind, "frames", receipt.Error.FramePath, "reason", receipt.Error.Message)
		e.cfg.Logger.Info("transaction executed", attrs...)
	}
	if receipt.Succeeded() {
		for _, entry := range receipt.StateDiff {
			e.cfg.Logger.Debug("substate written",
				"entity", entry.Entity.String(),
				"key", entry.Key,
				"version", entry.NewVersion,
				logging.RedactBytes("payload", entry.Payload))
		}
	}

	if exec.mode != modeExecute {
		return
	}
	e.cfg.Emitter.Emit(events.TransactionExecuted{
		TxHash:       receipt.TxHash,
		Outcome:      receipt.Outcome,
		ErrorKind:    kind,
		CostConsumed: receipt.CostConsumed,
		DiffEntries:  len(receipt.StateDiff),
		Events:       len(receipt.Events),
	})
	if !receipt.Succeeded() {
		return
	}
	for _, ev := range receipt.Events {
		observability.Events().RecordEvent(ev.Type)
	}
	for _, id := range receipt.NewEntities {
		observability.Events().RecordEntity(id.Kind().String())
		e.cfg.Emitter.Emit(events.EntityCreated{TxHash: receipt.TxHash, Entity: id})
	}
}

// diffRoot commits the state diff to a Merkle-Patricia root. Each leaf is
// keyed by entity id followed by the substate name and holds the rlp-encoded
// entry.
func diffRoot(diff []types.DiffEntry) (common.Hash, error) {
	leaves := make([]trie.Leaf, len(diff))
	for i := range diff {
		value, err := rlp.EncodeToBytes(&diff[i])
		if err != nil {
			return common.Hash{}, err
		}
		key := make([]byte, 0, types.EntityIDLength+len(diff[i].Key))
		key = append(key, diff[i].Entity[:]...)
		key = append(key, diff[i].Key...)
		leaves[i] = trie.Leaf{Key: key, Value: value}
	}
	return trie.Root(leaves)
}
