package core

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"resengine/core/auth"
	"resengine/core/codec"
	"resengine/core/decimal"
	engerrors "resengine/core/errors"
	"resengine/core/events"
	"resengine/core/resource"
	"resengine/core/substate"
	"resengine/core/types"
	"resengine/core/vm"
	"resengine/crypto"
	"resengine/native/demo"
	"resengine/storage"
)

type harness struct {
	db       *storage.MemDB
	store    *substate.Store
	exec     *Executor
	recorder *events.Recorder
	nonce    uint64
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := storage.NewMemDB()
	store := substate.NewStore(db)
	recorder := &events.Recorder{}
	cfg := DefaultExecutorConfig()
	cfg.Emitter = recorder
	cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	exec := NewExecutor(store, nil, cfg)

	rt := vm.NewNativeRuntime(codec.Default)
	demo.Register(rt)
	require.NoError(t, exec.RegisterRuntime(vm.KindNative, rt))
	return &harness{db: db, store: store, exec: exec, recorder: recorder}
}

func (h *harness) tx(ins ...types.Instruction) *types.Transaction {
	h.nonce++
	return &types.Transaction{Nonce: h.nonce, Instructions: ins}
}

func (h *harness) execute(ins ...types.Instruction) *types.Receipt {
	return h.exec.Execute(context.Background(), h.tx(ins...))
}

func (h *harness) mustExecute(t *testing.T, ins ...types.Instruction) *types.Receipt {
	t.Helper()
	receipt := h.execute(ins...)
	require.True(t, receipt.Succeeded(), "receipt error: %+v", receipt.Error)
	return receipt
}

func (h *harness) vault(t *testing.T, id types.EntityID) *resource.Vault {
	t.Helper()
	stx := h.store.OpenTransaction()
	defer stx.Discard()
	v, err := resource.LoadVault(stx, id)
	require.NoError(t, err)
	return v
}

func entityOutput(t *testing.T, receipt *types.Receipt, i int) types.EntityID {
	t.Helper()
	var id types.EntityID
	require.Len(t, receipt.Outputs[i], types.EntityIDLength)
	copy(id[:], receipt.Outputs[i])
	return id
}

func componentOutput(t *testing.T, receipt *types.Receipt, i int) types.EntityID {
	t.Helper()
	var id types.EntityID
	require.NoError(t, codec.Default.Decode(receipt.Outputs[i], &id))
	return id
}

func encodeArgs(t *testing.T, v interface{}) []byte {
	t.Helper()
	b, err := codec.Default.Encode(v)
	require.NoError(t, err)
	return b
}

func mintableToken() types.ResourceSpec {
	return types.ResourceSpec{
		Kind:         types.ResourceFungible,
		Divisibility: 18,
		Mintable:     true,
		MintRule:     auth.AllowAll(),
		Burnable:     true,
	}
}

// allocated predicts the n-th entity tx will create.
func allocated(t *testing.T, tx *types.Transaction, kind types.EntityKind, n uint32) types.EntityID {
	t.Helper()
	hash, err := tx.Hash()
	require.NoError(t, err)
	return types.DeriveEntityID(kind, hash.Bytes(), n)
}

func TestMintWithdrawAcrossTransactions(t *testing.T) {
	h := newHarness(t)
	setup := h.mustExecute(t,
		types.Instruction{Op: types.InstructionNewResource, Definition: mintableToken()},
	)
	res := entityOutput(t, setup, 0)

	// Ids derive from the transaction hash, so a transaction cannot name the
	// vaults it creates; deposit_all fills a fresh one instead.
	first := h.tx(
		types.Instruction{Op: types.InstructionMint, Resource: res, Amount: decimal.MustParse("100")},
		types.Instruction{Op: types.InstructionDepositAll, Rule: auth.AllowAll()},
		types.Instruction{Op: types.InstructionCreateVault, Resource: res, Rule: auth.AllowAll()},
	)
	v1 := allocated(t, first, types.EntityVault, 0)
	v2 := allocated(t, first, types.EntityVault, 1)

	receipt := h.exec.Execute(context.Background(), first)
	require.True(t, receipt.Succeeded(), "receipt error: %+v", receipt.Error)
	require.Equal(t, []types.EntityID{v1, v2}, receipt.NewEntities)
	require.Equal(t, v2, entityOutput(t, receipt, 2))
	require.Equal(t, "100", h.vault(t, v1).Amount.String())

	second := h.mustExecute(t,
		types.Instruction{Op: types.InstructionWithdraw, Entity: v1, Amount: decimal.MustParse("40")},
		types.Instruction{Op: types.InstructionDeposit, Entity: v2, Resource: res},
	)
	require.Equal(t, "60", h.vault(t, v1).Amount.String())
	require.Equal(t, "40", h.vault(t, v2).Amount.String())
	require.Len(t, second.StateDiff, 2)
	for _, entry := range second.StateDiff {
		require.Equal(t, uint64(1), entry.OldVersion)
		require.Equal(t, uint64(2), entry.NewVersion)
	}
	require.NotEqual(t, receipt.DiffRoot, second.DiffRoot)
}

func TestFailedTransactionLeavesStoreUntouched(t *testing.T) {
	h := newHarness(t)
	setup := h.mustExecute(t, types.Instruction{Op: types.InstructionNewResource, Definition: mintableToken()})
	res := entityOutput(t, setup, 0)
	before := h.db.Snapshot()

	receipt := h.execute(
		types.Instruction{Op: types.InstructionCreateVault, Resource: res, Rule: auth.AllowAll()},
		types.Instruction{Op: types.InstructionMint, Resource: res, Amount: decimal.MustParse("3")},
	)
	require.Equal(t, types.OutcomeFailure, receipt.Outcome)
	require.Equal(t, string(engerrors.KindDanglingResource), receipt.Error.Kind)
	require.True(t, receipt.Error.ContractBug)
	require.Equal(t, []string{"transaction"}, receipt.Error.FramePath)
	require.Empty(t, receipt.StateDiff)
	require.Empty(t, receipt.Events)
	require.Empty(t, receipt.Outputs)
	require.Empty(t, receipt.NewEntities)
	require.NotZero(t, receipt.CostConsumed)

	require.Equal(t, before, h.db.Snapshot())
}

func TestReentrancyDeniedKeepsCallerState(t *testing.T) {
	h := newHarness(t)
	published := h.mustExecute(t, types.Instruction{Op: types.InstructionPublishPackage, Package: demo.Package()})
	pkg := entityOutput(t, published, 0)

	newPing := types.Instruction{Op: types.InstructionCallFunction, Entity: pkg, Blueprint: "Ping", Function: "new"}
	created := h.mustExecute(t, newPing, newPing)
	a := componentOutput(t, created, 0)
	b := componentOutput(t, created, 1)

	stateKey := substate.NewKey(a, substate.KeyState)
	before, err := h.store.Get(stateKey)
	require.NoError(t, err)
	snapshot := h.db.Snapshot()

	receipt := h.execute(types.Instruction{
		Op: types.InstructionCallMethod, Entity: a, Function: "ping",
		Args: encodeArgs(t, &demo.PingArgs{Target: b, Method: "ping"}),
	})
	require.Equal(t, types.OutcomeFailure, receipt.Outcome)
	require.Equal(t, string(engerrors.KindReentrancyDenied), receipt.Error.Kind)
	require.False(t, receipt.Error.ContractBug)
	require.Equal(t, []string{"transaction", "Ping::ping@" + a.String(), "Ping::pong@" + b.String()}, receipt.Error.FramePath)

	after, err := h.store.Get(stateKey)
	require.NoError(t, err)
	require.Equal(t, before, after)
	require.Equal(t, snapshot, h.db.Snapshot())
}

func TestCounterPersistsAcrossTransactions(t *testing.T) {
	h := newHarness(t)
	published := h.mustExecute(t, types.Instruction{Op: types.InstructionPublishPackage, Package: demo.Package()})
	pkg := entityOutput(t, published, 0)
	created := h.mustExecute(t, types.Instruction{Op: types.InstructionCallFunction, Entity: pkg, Blueprint: "Counter", Function: "new"})
	counter := componentOutput(t, created, 0)
	require.Equal(t, types.EntityComponent, counter.Kind())

	increment := types.Instruction{Op: types.InstructionCallMethod, Entity: counter, Function: "increment"}
	h.mustExecute(t, increment)
	receipt := h.mustExecute(t, increment)

	var count uint64
	require.NoError(t, codec.Default.Decode(receipt.Outputs[0], &count))
	require.Equal(t, uint64(2), count)
	require.Len(t, receipt.Events, 1)
	require.Equal(t, "counter.incremented", receipt.Events[0].Type)
	require.Equal(t, counter, receipt.Events[0].Entity)
	require.Len(t, receipt.StateDiff, 1)
	require.Equal(t, substate.KeyState, receipt.StateDiff[0].Key)
	require.Equal(t, uint64(2), receipt.StateDiff[0].OldVersion)

	var executed, entities int
	for _, ev := range h.recorder.Events() {
		switch ev.(type) {
		case events.TransactionExecuted:
			executed++
		case events.EntityCreated:
			entities++
		}
	}
	require.Equal(t, 4, executed)
	require.Equal(t, 2, entities)
}

func TestOutOfResourcesFailsTransaction(t *testing.T) {
	h := newHarness(t)
	published := h.mustExecute(t, types.Instruction{Op: types.InstructionPublishPackage, Package: demo.Package()})
	pkg := entityOutput(t, published, 0)

	tx := h.tx(types.Instruction{Op: types.InstructionCallFunction, Entity: pkg, Blueprint: "Leaky", Function: "spin"})
	tx.CostLimit = 100_000
	receipt := h.exec.Execute(context.Background(), tx)
	require.Equal(t, string(engerrors.KindOutOfResources), receipt.Error.Kind)
	require.Equal(t, uint64(100_000), receipt.CostConsumed)
	require.Equal(t, []string{"transaction", "Leaky::spin"}, receipt.Error.FramePath)
}

func TestPreviewDiscardsWrites(t *testing.T) {
	h := newHarness(t)
	published := h.mustExecute(t, types.Instruction{Op: types.InstructionPublishPackage, Package: demo.Package()})
	pkg := entityOutput(t, published, 0)
	before := h.db.Snapshot()
	emitted := len(h.recorder.Events())

	tx := h.tx(types.Instruction{Op: types.InstructionCallFunction, Entity: pkg, Blueprint: "Counter", Function: "new"})
	preview := h.exec.Preview(context.Background(), tx)
	require.True(t, preview.Succeeded())
	require.NotEmpty(t, preview.StateDiff)
	require.Equal(t, before, h.db.Snapshot())
	require.Len(t, h.recorder.Events(), emitted)

	executed := h.exec.Execute(context.Background(), tx)
	require.True(t, executed.Succeeded())
	require.Equal(t, preview.DiffRoot, executed.DiffRoot)
	require.Equal(t, preview.NewEntities, executed.NewEntities)
	require.NotEqual(t, before, h.db.Snapshot())
}

func TestSignaturesProveBadges(t *testing.T) {
	h := newHarness(t)
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	signer := key.PubKey().SignerID()

	setup := h.mustExecute(t, types.Instruction{Op: types.InstructionNewResource, Definition: mintableToken()})
	res := entityOutput(t, setup, 0)
	fund := h.tx(
		types.Instruction{Op: types.InstructionMint, Resource: res, Amount: decimal.MustParse("5")},
		types.Instruction{Op: types.InstructionDepositAll, Rule: auth.RequireSigner(signer)},
	)
	vault := allocated(t, fund, types.EntityVault, 0)
	require.True(t, h.exec.Execute(context.Background(), fund).Succeeded())

	move := []types.Instruction{
		{Op: types.InstructionWithdraw, Entity: vault, Amount: decimal.MustParse("2")},
		{Op: types.InstructionBurn, Resource: res, Amount: decimal.MustParse("2")},
	}
	unsigned := h.execute(move...)
	require.Equal(t, string(engerrors.KindAuthorizationDenied), unsigned.Error.Kind)

	signed := h.tx(move...)
	require.NoError(t, signed.Sign(key))
	receipt := h.exec.Execute(context.Background(), signed)
	require.True(t, receipt.Succeeded(), "receipt error: %+v", receipt.Error)
	require.Equal(t, "3", h.vault(t, vault).Amount.String())
}

func TestInvalidSignatureIsDenied(t *testing.T) {
	h := newHarness(t)
	tx := h.tx()
	tx.Signatures = [][]byte{{1, 2, 3}}
	receipt := h.exec.Execute(context.Background(), tx)
	require.Equal(t, string(engerrors.KindAuthorizationDenied), receipt.Error.Kind)
	require.Empty(t, receipt.Error.FramePath)
	require.Zero(t, receipt.CostConsumed)
}

func TestRegisterRuntimeRejectsDuplicates(t *testing.T) {
	h := newHarness(t)
	require.Error(t, h.exec.RegisterRuntime(vm.KindNative, vm.NewNativeRuntime(codec.Default)))
	require.Error(t, h.exec.RegisterRuntime("", nil))
}

func TestUnknownRuntimeFailsPublish(t *testing.T) {
	h := newHarness(t)
	spec := demo.Package()
	spec.Runtime = vm.KindWasm
	receipt := h.execute(types.Instruction{Op: types.InstructionPublishPackage, Package: spec})
	require.Equal(t, types.OutcomeFailure, receipt.Outcome)
	require.Equal(t, string(engerrors.KindNotFound), receipt.Error.Kind)
}

func TestProofsReachCallees(t *testing.T) {
	h := newHarness(t)
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)

	published := h.mustExecute(t,
		types.Instruction{Op: types.InstructionPublishPackage, Package: demo.Package()},
		types.Instruction{Op: types.InstructionNewResource, Definition: mintableToken()},
	)
	pkg := entityOutput(t, published, 0)
	res := entityOutput(t, published, 1)
	opened := h.mustExecute(t,
		types.Instruction{Op: types.InstructionMint, Resource: res, Amount: decimal.MustParse("100")},
		types.Instruction{Op: types.InstructionCallFunction, Entity: pkg, Blueprint: "Treasury", Function: "new", Buckets: []types.EntityID{res}},
	)
	treasury := componentOutput(t, opened, 1)
	amount := encodeArgs(t, decimal.MustParse("10"))
	signedExec := func(ins ...types.Instruction) *types.Receipt {
		tx := h.tx(ins...)
		require.NoError(t, tx.Sign(key))
		return h.exec.Execute(context.Background(), tx)
	}

	free := types.Instruction{Op: types.InstructionCallMethod, Entity: treasury, Function: "free", Args: amount}
	sweep := types.Instruction{Op: types.InstructionDepositAll, Rule: auth.AllowAll()}

	// Signing is not enough: the proof has to be passed along.
	withheld := signedExec(free, sweep)
	require.Equal(t, string(engerrors.KindAuthorizationDenied), withheld.Error.Kind)
	require.Equal(t, []string{"transaction"}, withheld.Error.FramePath)

	free.Proofs = []types.EntityID{types.SignatureBadge}
	unsigned := h.execute(free, sweep)
	require.Equal(t, string(engerrors.KindAuthorizationDenied), unsigned.Error.Kind)

	paid := signedExec(free, sweep)
	require.True(t, paid.Succeeded(), "receipt error: %+v", paid.Error)
	var created []types.EntityID
	require.NoError(t, codec.Default.Decode(paid.Outputs[1], &created))
	require.Len(t, created, 1)
	require.Equal(t, created, paid.NewEntities)
	wallet := created[0]
	require.Equal(t, "10", h.vault(t, wallet).Amount.String())

	// A nested frame can only forward proofs it was given.
	relay := func(prove bool) types.Instruction {
		return types.Instruction{
			Op: types.InstructionCallFunction, Entity: pkg, Blueprint: "Relay", Function: "withdraw",
			Args:   encodeArgs(t, &demo.RelayArgs{Treasury: treasury, Amount: decimal.MustParse("5"), Prove: prove}),
			Proofs: []types.EntityID{types.SignatureBadge},
		}
	}
	into := types.Instruction{Op: types.InstructionDepositAll, Vaults: []types.EntityID{wallet}}

	dropped := signedExec(relay(false), into)
	require.Equal(t, string(engerrors.KindAuthorizationDenied), dropped.Error.Kind)
	require.Equal(t, []string{"transaction", "Relay::withdraw"}, dropped.Error.FramePath)

	forwarded := signedExec(relay(true), into)
	require.True(t, forwarded.Succeeded(), "receipt error: %+v", forwarded.Error)
	require.Empty(t, forwarded.NewEntities)
	require.Equal(t, "15", h.vault(t, wallet).Amount.String())

	var balance decimal.Decimal
	checked := h.mustExecute(t, types.Instruction{Op: types.InstructionCallMethod, Entity: treasury, Function: "balance"})
	require.NoError(t, codec.Default.Decode(checked.Outputs[0], &balance))
	require.Equal(t, "85", balance.String())
}

func TestDepositAllSweepsWorktop(t *testing.T) {
	h := newHarness(t)
	setup := h.mustExecute(t,
		types.Instruction{Op: types.InstructionNewResource, Definition: mintableToken()},
		types.Instruction{Op: types.InstructionNewResource, Definition: mintableToken()},
	)
	a := entityOutput(t, setup, 0)
	b := entityOutput(t, setup, 1)

	opened := h.mustExecute(t, types.Instruction{Op: types.InstructionCreateVault, Resource: a, Rule: auth.AllowAll()})
	vaultA := entityOutput(t, opened, 0)

	funded := h.tx(
		types.Instruction{Op: types.InstructionMint, Resource: a, Amount: decimal.MustParse("4")},
		types.Instruction{Op: types.InstructionMint, Resource: a, Amount: decimal.MustParse("6")},
		types.Instruction{Op: types.InstructionMint, Resource: b, Amount: decimal.MustParse("7")},
		types.Instruction{Op: types.InstructionDepositAll, Vaults: []types.EntityID{vaultA}, Rule: auth.AllowAll()},
	)
	vaultB := allocated(t, funded, types.EntityVault, 0)
	receipt := h.exec.Execute(context.Background(), funded)
	require.True(t, receipt.Succeeded(), "receipt error: %+v", receipt.Error)

	var created []types.EntityID
	require.NoError(t, codec.Default.Decode(receipt.Outputs[3], &created))
	require.Equal(t, []types.EntityID{vaultB}, created)
	require.Equal(t, created, receipt.NewEntities)
	require.Equal(t, "10", h.vault(t, vaultA).Amount.String())
	require.Equal(t, "7", h.vault(t, vaultB).Amount.String())

	empty := h.mustExecute(t, types.Instruction{Op: types.InstructionDepositAll})
	require.NoError(t, codec.Default.Decode(empty.Outputs[0], &created))
	require.Empty(t, created)
	require.Empty(t, empty.NewEntities)

	// Two listed vaults for the same resource are ambiguous.
	twice := h.execute(
		types.Instruction{Op: types.InstructionMint, Resource: a, Amount: decimal.MustParse("1")},
		types.Instruction{Op: types.InstructionDepositAll, Vaults: []types.EntityID{vaultA, vaultA}},
	)
	require.Equal(t, string(engerrors.KindInvalidArgument), twice.Error.Kind)
}

func TestCallDepthExceededReportsFullPath(t *testing.T) {
	h := newHarness(t)
	published := h.mustExecute(t, types.Instruction{Op: types.InstructionPublishPackage, Package: demo.Package()})
	pkg := entityOutput(t, published, 0)

	receipt := h.execute(types.Instruction{Op: types.InstructionCallFunction, Entity: pkg, Blueprint: "Leaky", Function: "dive"})
	require.Equal(t, types.OutcomeFailure, receipt.Outcome)
	require.Equal(t, string(engerrors.KindCallDepthExceeded), receipt.Error.Kind)
	require.False(t, receipt.Error.ContractBug)

	depth := DefaultExecutorConfig().Limits.MaxCallDepth
	require.Len(t, receipt.Error.FramePath, depth+1)
	require.Equal(t, "transaction", receipt.Error.FramePath[0])
	for _, actor := range receipt.Error.FramePath[1:] {
		require.Equal(t, "Leaky::dive", actor)
	}
	require.Empty(t, receipt.StateDiff)
}

func TestLockConflictReportsPath(t *testing.T) {
	h := newHarness(t)
	published := h.mustExecute(t, types.Instruction{Op: types.InstructionPublishPackage, Package: demo.Package()})
	pkg := entityOutput(t, published, 0)

	newPing := types.Instruction{Op: types.InstructionCallFunction, Entity: pkg, Blueprint: "ReentrantPing", Function: "new"}
	created := h.mustExecute(t, newPing, newPing)
	a := componentOutput(t, created, 0)
	b := componentOutput(t, created, 1)
	snapshot := h.db.Snapshot()

	// a re-enters itself through b while its first frame still holds the
	// write lock on its state.
	receipt := h.execute(types.Instruction{
		Op: types.InstructionCallMethod, Entity: a, Function: "ping",
		Args: encodeArgs(t, &demo.PingArgs{Target: b, Method: "ping"}),
	})
	require.Equal(t, types.OutcomeFailure, receipt.Outcome)
	require.Equal(t, string(engerrors.KindConflict), receipt.Error.Kind)
	require.Equal(t, []string{
		"transaction",
		"ReentrantPing::ping@" + a.String(),
		"ReentrantPing::pong@" + b.String(),
		"ReentrantPing::ping@" + a.String(),
	}, receipt.Error.FramePath)
	require.Equal(t, snapshot, h.db.Snapshot())
}
