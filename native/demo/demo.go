// Package demo holds the native blueprints shipped with the engine. They are
// used by the command-line runner and exercise every host operation.
package demo

import (
	"fmt"

	"resengine/core/abi"
	"resengine/core/auth"
	"resengine/core/decimal"
	"resengine/core/types"
	"resengine/core/vm"
)

// Code is the package code name the blueprints are registered under.
const Code = "demo"

// Package returns the PackageSpec that publishes the demo blueprints.
// Treasury is a Faucet whose payouts require a signer's proof.
func Package() types.PackageSpec {
	pingMethods := []string{"ping", "pong", "touch", "hits"}
	faucetMethods := []string{"free", "refill", "balance"}
	return types.PackageSpec{
		Runtime: vm.KindNative,
		Code:    []byte(Code),
		Blueprints: []types.BlueprintSchema{
			{Name: "Counter", Functions: []string{"new"}, Methods: []string{"increment", "get"}},
			{Name: "Faucet", Functions: []string{"new"}, Methods: faucetMethods},
			{
				Name: "Treasury", Functions: []string{"new"}, Methods: faucetMethods,
				Rules: []types.MethodRule{{Name: "free", Rule: auth.Require(types.SignatureBadge)}},
			},
			{Name: "Relay", Functions: []string{"withdraw"}},
			{Name: "Ping", Functions: []string{"new"}, Methods: pingMethods},
			{Name: "ReentrantPing", Functions: []string{"new"}, Methods: pingMethods, Reentrant: true},
			{Name: "Leaky", Functions: []string{"leak", "swallow", "spin", "crash", "dive"}},
		},
	}
}

// Register binds every demo blueprint into rt.
func Register(rt *vm.NativeRuntime) {
	rt.Register(Code, "Counter", "new", counterNew)
	rt.Register(Code, "Counter", "increment", counterIncrement)
	rt.Register(Code, "Counter", "get", counterGet)

	for _, bp := range []string{"Faucet", "Treasury"} {
		rt.Register(Code, bp, "new", faucetNew)
		rt.Register(Code, bp, "free", faucetFree)
		rt.Register(Code, bp, "refill", faucetRefill)
		rt.Register(Code, bp, "balance", faucetBalance)
	}
	rt.Register(Code, "Relay", "withdraw", relayWithdraw)

	for _, bp := range []string{"Ping", "ReentrantPing"} {
		rt.Register(Code, bp, "new", pingNew)
		rt.Register(Code, bp, "ping", pingPing)
		rt.Register(Code, bp, "pong", pingPong)
		rt.Register(Code, bp, "touch", pingTouch)
		rt.Register(Code, bp, "hits", pingHits)
	}

	rt.Register(Code, "Leaky", "leak", leakyLeak)
	rt.Register(Code, "Leaky", "swallow", leakySwallow)
	rt.Register(Code, "Leaky", "spin", leakySpin)
	rt.Register(Code, "Leaky", "crash", leakyCrash)
	rt.Register(Code, "Leaky", "dive", leakyDive)
}

func encodeOutput(g *vm.Guest, v interface{}, handles ...uint32) (abi.Output, error) {
	out, err := g.Encode(v)
	if err != nil {
		return abi.Output{}, err
	}
	return abi.Output{Output: out, Handles: handles}, nil
}

// readState decodes a component's state under a read lock.
func readState(g *vm.Guest, component types.EntityID, v interface{}) error {
	lock, err := g.Lock(component, "state", false)
	if err != nil {
		return err
	}
	sub, err := g.Read(lock)
	if err != nil {
		return err
	}
	if !sub.Found {
		return fmt.Errorf("demo: %s has no state", component)
	}
	if err := g.Decode(sub.Payload, v); err != nil {
		return err
	}
	return g.Unlock(lock)
}

// CounterState is the state of a Counter component.
type CounterState struct {
	Count uint64
}

func counterNew(g *vm.Guest, _ abi.Input) (abi.Output, error) {
	id, err := g.Instantiate("Counter", &CounterState{})
	if err != nil {
		return abi.Output{}, err
	}
	return encodeOutput(g, &id)
}

func counterIncrement(g *vm.Guest, _ abi.Input) (abi.Output, error) {
	actor, err := g.Actor()
	if err != nil {
		return abi.Output{}, err
	}
	var st CounterState
	lock, err := g.LoadState(actor.Component, &st)
	if err != nil {
		return abi.Output{}, err
	}
	st.Count++
	if err := g.SaveState(lock, &st); err != nil {
		return abi.Output{}, err
	}
	payload, err := g.Encode(st.Count)
	if err != nil {
		return abi.Output{}, err
	}
	if err := g.EmitEvent("counter.incremented", payload); err != nil {
		return abi.Output{}, err
	}
	return encodeOutput(g, st.Count)
}

func counterGet(g *vm.Guest, _ abi.Input) (abi.Output, error) {
	actor, err := g.Actor()
	if err != nil {
		return abi.Output{}, err
	}
	var st CounterState
	if err := readState(g, actor.Component, &st); err != nil {
		return abi.Output{}, err
	}
	return encodeOutput(g, st.Count)
}

// FaucetState is the state of a Faucet component.
type FaucetState struct {
	Vault types.EntityID
}

// faucetNew takes one container and keeps it in a vault of the new faucet.
func faucetNew(g *vm.Guest, in abi.Input) (abi.Output, error) {
	if len(in.Handles) != 1 {
		return abi.Output{}, fmt.Errorf("demo: faucet needs exactly one container, got %d", len(in.Handles))
	}
	actor, err := g.Actor()
	if err != nil {
		return abi.Output{}, err
	}
	id, err := g.Instantiate(actor.Blueprint, &FaucetState{})
	if err != nil {
		return abi.Output{}, err
	}
	info, err := g.ContainerInfo(in.Handles[0])
	if err != nil {
		return abi.Output{}, err
	}
	vault, err := g.CreateVault(info.Resource, id)
	if err != nil {
		return abi.Output{}, err
	}
	if err := g.Deposit(vault, in.Handles[0]); err != nil {
		return abi.Output{}, err
	}
	var st FaucetState
	lock, err := g.LoadState(id, &st)
	if err != nil {
		return abi.Output{}, err
	}
	st.Vault = vault
	if err := g.SaveState(lock, &st); err != nil {
		return abi.Output{}, err
	}
	if err := g.Log("info", "faucet opened"); err != nil {
		return abi.Output{}, err
	}
	return encodeOutput(g, &id)
}

func faucetVault(g *vm.Guest) (types.EntityID, error) {
	actor, err := g.Actor()
	if err != nil {
		return types.EntityID{}, err
	}
	var st FaucetState
	if err := readState(g, actor.Component, &st); err != nil {
		return types.EntityID{}, err
	}
	return st.Vault, nil
}

// faucetFree hands out the requested amount.
func faucetFree(g *vm.Guest, in abi.Input) (abi.Output, error) {
	var amount decimal.Decimal
	if err := g.Decode(in.Args, &amount); err != nil {
		return abi.Output{}, err
	}
	vault, err := faucetVault(g)
	if err != nil {
		return abi.Output{}, err
	}
	h, err := g.Withdraw(vault, amount, nil)
	if err != nil {
		return abi.Output{}, err
	}
	return abi.Output{Handles: []uint32{h}}, nil
}

func faucetRefill(g *vm.Guest, in abi.Input) (abi.Output, error) {
	vault, err := faucetVault(g)
	if err != nil {
		return abi.Output{}, err
	}
	for _, h := range in.Handles {
		if err := g.Deposit(vault, h); err != nil {
			return abi.Output{}, err
		}
	}
	return abi.Output{}, nil
}

func faucetBalance(g *vm.Guest, _ abi.Input) (abi.Output, error) {
	vault, err := faucetVault(g)
	if err != nil {
		return abi.Output{}, err
	}
	info, err := g.VaultInfo(vault)
	if err != nil {
		return abi.Output{}, err
	}
	return encodeOutput(g, &info.Amount)
}

// RelayArgs asks Relay::withdraw to take Amount out of Treasury, forwarding
// the signer proof when Prove is set.
type RelayArgs struct {
	Treasury types.EntityID
	Amount   decimal.Decimal
	Prove    bool
}

func relayWithdraw(g *vm.Guest, in abi.Input) (abi.Output, error) {
	var args RelayArgs
	if err := g.Decode(in.Args, &args); err != nil {
		return abi.Output{}, err
	}
	amount, err := g.Encode(&args.Amount)
	if err != nil {
		return abi.Output{}, err
	}
	var proofs []types.EntityID
	if args.Prove {
		proofs = []types.EntityID{types.SignatureBadge}
	}
	res, err := g.CallMethodWithProofs(args.Treasury, "free", amount, proofs)
	if err != nil {
		return abi.Output{}, err
	}
	return abi.Output{Handles: res.Handles}, nil
}
