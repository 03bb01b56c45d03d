package host

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"resengine/core/abi"
	"resengine/core/auth"
	"resengine/core/codec"
	"resengine/core/decimal"
	engerrors "resengine/core/errors"
	"resengine/core/resource"
	"resengine/core/substate"
	"resengine/core/types"
	"resengine/core/vm"
	"resengine/native/demo"
	"resengine/storage"
)

const hostileCode = "hostile"

var captured *vm.Guest

type fixture struct {
	tx     *substate.Transaction
	bridge *Bridge
}

func registerHostile(rt *vm.NativeRuntime) {
	// peek locks whatever substate its arguments name.
	rt.Register(hostileCode, "H", "peek", func(g *vm.Guest, in abi.Input) (abi.Output, error) {
		var req abi.LockSubstateArgs
		if err := g.Decode(in.Args, &req); err != nil {
			return abi.Output{}, err
		}
		_, err := g.Lock(req.Entity, req.Key, req.Write)
		return abi.Output{}, err
	})
	// consume splits its bucket, merges the halves back and burns the rest,
	// leaving no handle behind.
	rt.Register(hostileCode, "H", "consume", func(g *vm.Guest, in abi.Input) (abi.Output, error) {
		h := in.Handles[0]
		half, err := g.Split(h, decimal.MustParse("1"), nil)
		if err != nil {
			return abi.Output{}, err
		}
		if err := g.Merge(h, half); err != nil {
			return abi.Output{}, err
		}
		return abi.Output{}, g.Burn(h)
	})
	rt.Register(hostileCode, "H", "capture", func(g *vm.Guest, in abi.Input) (abi.Output, error) {
		captured = g
		return abi.Output{}, nil
	})
}

func hostilePackage() types.PackageSpec {
	return types.PackageSpec{
		Runtime:    vm.KindNative,
		Code:       []byte(hostileCode),
		Blueprints: []types.BlueprintSchema{{Name: "H", Functions: []string{"peek", "capture", "consume"}}},
	}
}

func newFixture(t *testing.T, costLimit uint64, signers ...[20]byte) *fixture {
	t.Helper()
	rt := vm.NewNativeRuntime(codec.Default)
	demo.Register(rt)
	registerHostile(rt)
	cfg := Config{
		Runtimes: map[string]vm.Runtime{vm.KindNative: rt},
		Limits:   DefaultLimits(),
		Costs:    DefaultCosts(),
	}
	tx := substate.NewStore(storage.NewMemDB()).OpenTransaction()
	b := New(context.Background(), cfg, tx, resource.NewRegistry(), common.HexToHash("0x01"), costLimit)
	require.NoError(t, b.Begin(auth.SignerZone(signers)))
	return &fixture{tx: tx, bridge: b}
}

func (fx *fixture) apply(t *testing.T, ins types.Instruction) []byte {
	t.Helper()
	out, err := fx.bridge.Apply(ins)
	require.NoError(t, err)
	return out
}

func (fx *fixture) entity(t *testing.T, ins types.Instruction) types.EntityID {
	t.Helper()
	var id types.EntityID
	copy(id[:], fx.apply(t, ins))
	return id
}

func (fx *fixture) component(t *testing.T, ins types.Instruction) types.EntityID {
	t.Helper()
	var id types.EntityID
	require.NoError(t, codec.Default.Decode(fx.apply(t, ins), &id))
	return id
}

func (fx *fixture) vault(t *testing.T, id types.EntityID) *resource.Vault {
	t.Helper()
	v, err := resource.LoadVault(fx.tx, id)
	require.NoError(t, err)
	return v
}

func fungible(supply string, mintable, burnable bool) types.ResourceSpec {
	return types.ResourceSpec{
		Kind:          types.ResourceFungible,
		Divisibility:  18,
		Mintable:      mintable,
		MintRule:      auth.AllowAll(),
		Burnable:      burnable,
		InitialSupply: decimal.MustParse(supply),
	}
}

func encode(t *testing.T, v interface{}) []byte {
	t.Helper()
	b, err := codec.Default.Encode(v)
	require.NoError(t, err)
	return b
}

func TestMintDepositWithdrawScenario(t *testing.T) {
	fx := newFixture(t, 10_000_000)
	res := fx.entity(t, types.Instruction{Op: types.InstructionNewResource, Definition: fungible("0", true, true)})
	v1 := fx.entity(t, types.Instruction{Op: types.InstructionCreateVault, Resource: res, Rule: auth.AllowAll()})
	v2 := fx.entity(t, types.Instruction{Op: types.InstructionCreateVault, Resource: res, Rule: auth.AllowAll()})

	fx.apply(t, types.Instruction{Op: types.InstructionMint, Resource: res, Amount: decimal.MustParse("100")})
	fx.apply(t, types.Instruction{Op: types.InstructionDeposit, Entity: v1, Resource: res})
	fx.apply(t, types.Instruction{Op: types.InstructionWithdraw, Entity: v1, Amount: decimal.MustParse("40")})
	fx.apply(t, types.Instruction{Op: types.InstructionAssertWorktop, Resource: res, Amount: decimal.MustParse("40")})
	fx.apply(t, types.Instruction{Op: types.InstructionDeposit, Entity: v2, Resource: res})
	require.NoError(t, fx.bridge.Finish())

	require.Equal(t, "60", fx.vault(t, v1).Amount.String())
	require.Equal(t, "40", fx.vault(t, v2).Amount.String())
	supply := fx.bridge.Ledger().Supply(res)
	require.Equal(t, "100", supply.Minted.String())
	require.True(t, supply.Live.IsZero())
	def, err := fx.bridge.view.Definition(res)
	require.NoError(t, err)
	require.Equal(t, "100", def.TotalSupply.String())
	require.Len(t, fx.bridge.Created(), 3)
	require.Zero(t, fx.tx.HeldLocks())
}

func TestWithdrawRuleUsesSignerZone(t *testing.T) {
	signer := [20]byte{7}
	setup := func(fx *fixture) types.EntityID {
		res := fx.entity(t, types.Instruction{Op: types.InstructionNewResource, Definition: fungible("10", false, false)})
		vault := fx.entity(t, types.Instruction{Op: types.InstructionCreateVault, Resource: res, Rule: auth.RequireSigner(signer)})
		fx.apply(t, types.Instruction{Op: types.InstructionDeposit, Entity: vault, Resource: res})
		return vault
	}

	denied := newFixture(t, 10_000_000)
	vault := setup(denied)
	_, err := denied.bridge.Apply(types.Instruction{Op: types.InstructionWithdraw, Entity: vault, Amount: decimal.MustParse("1")})
	require.ErrorIs(t, err, engerrors.ErrAuthorizationDenied)

	allowed := newFixture(t, 10_000_000, signer)
	vault = setup(allowed)
	allowed.apply(t, types.Instruction{Op: types.InstructionWithdraw, Entity: vault, Amount: decimal.MustParse("1")})
	allowed.apply(t, types.Instruction{Op: types.InstructionDeposit, Entity: vault, Resource: allowed.vault(t, vault).Resource})
	require.NoError(t, allowed.bridge.Finish())
}

func TestFaucetComponent(t *testing.T) {
	fx := newFixture(t, 10_000_000)
	pkg := fx.entity(t, types.Instruction{Op: types.InstructionPublishPackage, Package: demo.Package()})
	res := fx.entity(t, types.Instruction{Op: types.InstructionNewResource, Definition: fungible("100", false, false)})
	faucet := fx.component(t, types.Instruction{
		Op: types.InstructionCallFunction, Entity: pkg, Blueprint: "Faucet", Function: "new", Buckets: []types.EntityID{res},
	})
	require.Equal(t, types.EntityComponent, faucet.Kind())

	fx.apply(t, types.Instruction{
		Op: types.InstructionCallMethod, Entity: faucet, Function: "free", Args: encode(t, decimal.MustParse("25")),
	})
	fx.apply(t, types.Instruction{Op: types.InstructionAssertWorktop, Resource: res, Amount: decimal.MustParse("25")})
	fx.apply(t, types.Instruction{Op: types.InstructionCallMethod, Entity: faucet, Function: "refill", Buckets: []types.EntityID{res}})

	var balance decimal.Decimal
	require.NoError(t, codec.Default.Decode(fx.apply(t, types.Instruction{Op: types.InstructionCallMethod, Entity: faucet, Function: "balance"}), &balance))
	require.Equal(t, "100", balance.String())
	require.NoError(t, fx.bridge.Finish())

	require.Len(t, fx.bridge.Logs(), 1)
	require.Equal(t, pkg, fx.bridge.Logs()[0].Entity)
	require.Equal(t, 1, fx.bridge.Stack().PeakDepth())
}

func TestComponentVaultIsPrivate(t *testing.T) {
	fx := newFixture(t, 10_000_000)
	pkg := fx.entity(t, types.Instruction{Op: types.InstructionPublishPackage, Package: demo.Package()})
	res := fx.entity(t, types.Instruction{Op: types.InstructionNewResource, Definition: fungible("5", false, false)})
	fx.component(t, types.Instruction{
		Op: types.InstructionCallFunction, Entity: pkg, Blueprint: "Faucet", Function: "new", Buckets: []types.EntityID{res},
	})
	var vault types.EntityID
	for _, id := range fx.bridge.Created() {
		if id.Kind() == types.EntityVault {
			vault = id
		}
	}
	require.False(t, vault.IsZero())
	_, err := fx.bridge.Apply(types.Instruction{Op: types.InstructionWithdraw, Entity: vault, Amount: decimal.MustParse("1")})
	require.ErrorIs(t, err, engerrors.ErrAuthorizationDenied)
}

func TestReentrancyDeniedReportsPath(t *testing.T) {
	fx := newFixture(t, 10_000_000)
	pkg := fx.entity(t, types.Instruction{Op: types.InstructionPublishPackage, Package: demo.Package()})
	newPing := types.Instruction{Op: types.InstructionCallFunction, Entity: pkg, Blueprint: "Ping", Function: "new"}
	a := fx.component(t, newPing)
	b := fx.component(t, newPing)

	_, err := fx.bridge.Apply(types.Instruction{
		Op: types.InstructionCallMethod, Entity: a, Function: "ping",
		Args: encode(t, &demo.PingArgs{Target: b, Method: "ping"}),
	})
	require.ErrorIs(t, err, engerrors.ErrReentrancyDenied)
	require.Equal(t, []string{"transaction", "Ping::ping@" + a.String(), "Ping::pong@" + b.String()}, fx.bridge.Stack().Path())
	require.ErrorIs(t, fx.bridge.Fault(), engerrors.ErrReentrancyDenied)

	fx.bridge.Abort()
	require.Zero(t, fx.tx.HeldLocks())
	require.Zero(t, fx.bridge.Stack().Depth())
}

func TestReentrantBlueprintAcceptsCallback(t *testing.T) {
	fx := newFixture(t, 10_000_000)
	pkg := fx.entity(t, types.Instruction{Op: types.InstructionPublishPackage, Package: demo.Package()})
	newPing := types.Instruction{Op: types.InstructionCallFunction, Entity: pkg, Blueprint: "ReentrantPing", Function: "new"}
	a := fx.component(t, newPing)
	b := fx.component(t, newPing)

	fx.apply(t, types.Instruction{
		Op: types.InstructionCallMethod, Entity: a, Function: "ping",
		Args: encode(t, &demo.PingArgs{Target: b, Method: "touch"}),
	})
	require.Len(t, fx.bridge.Events(), 1)
	require.Equal(t, "ping.touched", fx.bridge.Events()[0].Type)
	require.Equal(t, a, fx.bridge.Events()[0].Entity)

	// Reentry is allowed, but the held write lock still conflicts.
	_, err := fx.bridge.Apply(types.Instruction{
		Op: types.InstructionCallMethod, Entity: a, Function: "ping",
		Args: encode(t, &demo.PingArgs{Target: b, Method: "ping"}),
	})
	require.ErrorIs(t, err, engerrors.ErrConflict)
}

func TestGuestFailures(t *testing.T) {
	cases := []struct {
		name     string
		function string
		limit    uint64
		burnable bool
		want     error
	}{
		{"dangling", "leak", 10_000_000, true, engerrors.ErrDanglingResource},
		{"swallowed fault", "swallow", 10_000_000, false, engerrors.ErrBurnNotAllowed},
		{"budget", "spin", 100_000, true, engerrors.ErrOutOfResources},
		{"panic", "crash", 10_000_000, true, engerrors.ErrTrap},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fx := newFixture(t, tc.limit)
			pkg := fx.entity(t, types.Instruction{Op: types.InstructionPublishPackage, Package: demo.Package()})
			res := fx.entity(t, types.Instruction{Op: types.InstructionNewResource, Definition: fungible("10", false, tc.burnable)})
			_, err := fx.bridge.Apply(types.Instruction{
				Op: types.InstructionCallFunction, Entity: pkg, Blueprint: "Leaky", Function: tc.function,
				Buckets: []types.EntityID{res},
			})
			require.ErrorIs(t, err, tc.want)
			require.ErrorIs(t, fx.bridge.Fault(), tc.want)

			_, err = fx.bridge.Apply(types.Instruction{Op: types.InstructionAssertWorktop, Resource: res})
			require.ErrorIs(t, err, tc.want, "a poisoned bridge keeps failing")
		})
	}
}

func TestOutOfResourcesClampsMeter(t *testing.T) {
	fx := newFixture(t, 100_000)
	pkg := fx.entity(t, types.Instruction{Op: types.InstructionPublishPackage, Package: demo.Package()})
	_, err := fx.bridge.Apply(types.Instruction{Op: types.InstructionCallFunction, Entity: pkg, Blueprint: "Leaky", Function: "spin"})
	require.ErrorIs(t, err, engerrors.ErrOutOfResources)
	require.Equal(t, uint64(100_000), fx.bridge.Meter().Used())
}

func TestSubstateAccessIsScoped(t *testing.T) {
	fx := newFixture(t, 10_000_000)
	demoPkg := fx.entity(t, types.Instruction{Op: types.InstructionPublishPackage, Package: demo.Package()})
	counter := fx.component(t, types.Instruction{Op: types.InstructionCallFunction, Entity: demoPkg, Blueprint: "Counter", Function: "new"})
	hostile := fx.entity(t, types.Instruction{Op: types.InstructionPublishPackage, Package: hostilePackage()})

	_, err := fx.bridge.Apply(types.Instruction{
		Op: types.InstructionCallFunction, Entity: hostile, Blueprint: "H", Function: "peek",
		Args: encode(t, &abi.LockSubstateArgs{Entity: counter, Key: "state", Write: true}),
	})
	require.ErrorIs(t, err, engerrors.ErrAuthorizationDenied)
}

func TestSystemSubstatesAreNotLockable(t *testing.T) {
	fx := newFixture(t, 10_000_000)
	hostile := fx.entity(t, types.Instruction{Op: types.InstructionPublishPackage, Package: hostilePackage()})
	_, err := fx.bridge.Apply(types.Instruction{
		Op: types.InstructionCallFunction, Entity: hostile, Blueprint: "H", Function: "peek",
		Args: encode(t, &abi.LockSubstateArgs{Entity: hostile, Key: substate.KeyPackage}),
	})
	require.ErrorIs(t, err, engerrors.ErrAuthorizationDenied)
}

func TestReturnedFrameCannotCallHost(t *testing.T) {
	fx := newFixture(t, 10_000_000)
	hostile := fx.entity(t, types.Instruction{Op: types.InstructionPublishPackage, Package: hostilePackage()})
	fx.apply(t, types.Instruction{Op: types.InstructionCallFunction, Entity: hostile, Blueprint: "H", Function: "capture"})
	require.NotNil(t, captured)
	require.ErrorIs(t, captured.Log("info", "from beyond"), engerrors.ErrInvalidArgument)
}

func TestWorktopLeftoversDangle(t *testing.T) {
	fx := newFixture(t, 10_000_000)
	res := fx.entity(t, types.Instruction{Op: types.InstructionNewResource, Definition: fungible("0", true, true)})
	fx.apply(t, types.Instruction{Op: types.InstructionMint, Resource: res, Amount: decimal.MustParse("3")})
	_, err := fx.bridge.Apply(types.Instruction{Op: types.InstructionAssertWorktop, Resource: res, Amount: decimal.MustParse("4")})
	require.ErrorIs(t, err, engerrors.ErrInsufficientResource)

	fx = newFixture(t, 10_000_000)
	res = fx.entity(t, types.Instruction{Op: types.InstructionNewResource, Definition: fungible("0", true, true)})
	fx.apply(t, types.Instruction{Op: types.InstructionMint, Resource: res, Amount: decimal.MustParse("3")})
	err = fx.bridge.Finish()
	require.ErrorIs(t, err, engerrors.ErrDanglingResource)
	require.True(t, engerrors.IsContractBug(err))
}

func TestBurnFromWorktop(t *testing.T) {
	fx := newFixture(t, 10_000_000)
	res := fx.entity(t, types.Instruction{Op: types.InstructionNewResource, Definition: fungible("0", true, true)})
	fx.apply(t, types.Instruction{Op: types.InstructionMint, Resource: res, Amount: decimal.MustParse("3")})
	fx.apply(t, types.Instruction{Op: types.InstructionMint, Resource: res, Amount: decimal.MustParse("2")})
	fx.apply(t, types.Instruction{Op: types.InstructionBurn, Resource: res, Amount: decimal.MustParse("5")})
	require.NoError(t, fx.bridge.Finish())

	def, err := fx.bridge.view.Definition(res)
	require.NoError(t, err)
	require.True(t, def.TotalSupply.IsZero())
}

func TestConsumedHandlesAreReleased(t *testing.T) {
	fx := newFixture(t, 10_000_000)
	hostile := fx.entity(t, types.Instruction{Op: types.InstructionPublishPackage, Package: hostilePackage()})
	res := fx.entity(t, types.Instruction{Op: types.InstructionNewResource, Definition: fungible("0", true, true)})
	fx.apply(t, types.Instruction{Op: types.InstructionMint, Resource: res, Amount: decimal.MustParse("3")})
	fx.apply(t, types.Instruction{
		Op: types.InstructionCallFunction, Entity: hostile, Blueprint: "H", Function: "consume",
		Buckets: []types.EntityID{res},
	})
	require.True(t, fx.bridge.Ledger().Supply(res).Live.IsZero())

	// Two worktop buckets are gathered into one before the deposit.
	vault := fx.entity(t, types.Instruction{Op: types.InstructionCreateVault, Resource: res, Rule: auth.AllowAll()})
	fx.apply(t, types.Instruction{Op: types.InstructionMint, Resource: res, Amount: decimal.MustParse("2")})
	fx.apply(t, types.Instruction{Op: types.InstructionMint, Resource: res, Amount: decimal.MustParse("5")})
	fx.apply(t, types.Instruction{Op: types.InstructionDeposit, Entity: vault, Resource: res})
	require.Empty(t, fx.bridge.Stack().Current().Handles())
	require.NoError(t, fx.bridge.Finish())
	require.Equal(t, "7", fx.vault(t, vault).Amount.String())
}
