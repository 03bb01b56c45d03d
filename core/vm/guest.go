package vm

import (
	"context"

	"resengine/core/abi"
	"resengine/core/codec"
	"resengine/core/decimal"
	"resengine/core/types"
)

// Guest is the typed view of the host trampoline given to native code. Each
// method encodes its arguments, calls the host and decodes the result.
type Guest struct {
	ctx   context.Context
	host  Host
	codec codec.Codec
}

// NewGuest wraps host for code that drives the trampoline directly.
func NewGuest(ctx context.Context, host Host, c codec.Codec) *Guest {
	if c == nil {
		c = codec.Default
	}
	return &Guest{ctx: ctx, host: host, codec: c}
}

func (g *Guest) Context() context.Context { return g.ctx }

// Encode and Decode use the runtime's codec for guest-defined payloads.
func (g *Guest) Encode(v interface{}) ([]byte, error) { return g.codec.Encode(v) }

func (g *Guest) Decode(b []byte, v interface{}) error { return g.codec.Decode(b, v) }

func (g *Guest) call(op abi.Op, args, result interface{}) error {
	in, err := g.codec.Encode(args)
	if err != nil {
		return err
	}
	out, err := g.host.Call(op, in)
	if err != nil {
		return err
	}
	if result == nil {
		return nil
	}
	return g.codec.Decode(out, result)
}

func (g *Guest) Actor() (abi.ActorInfo, error) {
	var info abi.ActorInfo
	err := g.call(abi.OpGetActor, &abi.Empty{}, &info)
	return info, err
}

// Lock locks key of entity; write selects an exclusive lock.
func (g *Guest) Lock(entity types.EntityID, key string, write bool) (uint64, error) {
	var res abi.LockResult
	err := g.call(abi.OpLockSubstate, &abi.LockSubstateArgs{Entity: entity, Key: key, Write: write}, &res)
	return res.Lock, err
}

func (g *Guest) Read(lock uint64) (abi.SubstateValue, error) {
	var v abi.SubstateValue
	err := g.call(abi.OpReadSubstate, &abi.LockArgs{Lock: lock}, &v)
	return v, err
}

func (g *Guest) Write(lock uint64, payload []byte) error {
	return g.call(abi.OpWriteSubstate, &abi.WriteSubstateArgs{Lock: lock, Payload: payload}, nil)
}

func (g *Guest) Unlock(lock uint64) error {
	return g.call(abi.OpUnlockSubstate, &abi.LockArgs{Lock: lock}, nil)
}

// LoadState write-locks the component's state, decodes it into v and returns
// the lock for a later SaveState.
func (g *Guest) LoadState(component types.EntityID, v interface{}) (uint64, error) {
	lock, err := g.Lock(component, "state", true)
	if err != nil {
		return 0, err
	}
	sub, err := g.Read(lock)
	if err != nil {
		return 0, err
	}
	if sub.Found {
		if err := g.codec.Decode(sub.Payload, v); err != nil {
			return 0, err
		}
	}
	return lock, nil
}

// SaveState encodes v, writes it under lock and releases the lock.
func (g *Guest) SaveState(lock uint64, v interface{}) error {
	payload, err := g.codec.Encode(v)
	if err != nil {
		return err
	}
	if err := g.Write(lock, payload); err != nil {
		return err
	}
	return g.Unlock(lock)
}

// Instantiate creates a component of blueprint in the caller's package with
// state as its encoded initial state.
func (g *Guest) Instantiate(blueprint string, state interface{}) (types.EntityID, error) {
	payload, err := g.codec.Encode(state)
	if err != nil {
		return types.EntityID{}, err
	}
	var res abi.EntityResult
	err = g.call(abi.OpInstantiateComponent, &abi.InstantiateComponentArgs{Blueprint: blueprint, State: payload}, &res)
	return res.Entity, err
}

func (g *Guest) CreateVault(resource, owner types.EntityID) (types.EntityID, error) {
	var res abi.EntityResult
	err := g.call(abi.OpCreateVault, &abi.CreateVaultArgs{Resource: resource, Owner: owner}, &res)
	return res.Entity, err
}

func (g *Guest) Mint(resource types.EntityID, amount decimal.Decimal, ids []types.NonFungibleID) (uint32, error) {
	var res abi.HandleResult
	err := g.call(abi.OpMint, &abi.MintArgs{Resource: resource, Amount: amount, IDs: ids}, &res)
	return res.Handle, err
}

func (g *Guest) Burn(handle uint32) error {
	return g.call(abi.OpBurn, &abi.HandleArgs{Handle: handle}, nil)
}

// Split returns the handle of a new container holding the requested part.
func (g *Guest) Split(handle uint32, amount decimal.Decimal, ids []types.NonFungibleID) (uint32, error) {
	var res abi.HandleResult
	err := g.call(abi.OpSplit, &abi.SplitArgs{Handle: handle, Amount: amount, IDs: ids}, &res)
	return res.Handle, err
}

func (g *Guest) Merge(into, from uint32) error {
	return g.call(abi.OpMerge, &abi.MergeArgs{Into: into, From: from}, nil)
}

func (g *Guest) ContainerInfo(handle uint32) (abi.ContainerInfo, error) {
	var info abi.ContainerInfo
	err := g.call(abi.OpContainerInfo, &abi.HandleArgs{Handle: handle}, &info)
	return info, err
}

func (g *Guest) Withdraw(vault types.EntityID, amount decimal.Decimal, ids []types.NonFungibleID) (uint32, error) {
	var res abi.HandleResult
	err := g.call(abi.OpWithdraw, &abi.WithdrawArgs{Vault: vault, Amount: amount, IDs: ids}, &res)
	return res.Handle, err
}

func (g *Guest) Deposit(vault types.EntityID, handle uint32) error {
	return g.call(abi.OpDeposit, &abi.DepositArgs{Vault: vault, Handle: handle}, nil)
}

func (g *Guest) VaultInfo(vault types.EntityID) (abi.VaultInfo, error) {
	var info abi.VaultInfo
	err := g.call(abi.OpVaultInfo, &abi.VaultArgs{Vault: vault}, &info)
	return info, err
}

// CreateProof pushes a proof of the container's contents onto the caller's
// auth zone. The container stays with the caller.
func (g *Guest) CreateProof(handle uint32) error {
	return g.call(abi.OpCreateProof, &abi.HandleArgs{Handle: handle}, nil)
}

// CallFunction invokes a blueprint function, moving the containers named by
// handles into the callee.
func (g *Guest) CallFunction(pkg types.EntityID, blueprint, function string, args []byte, handles ...uint32) (abi.CallResult, error) {
	return g.CallFunctionWithProofs(pkg, blueprint, function, args, nil, handles...)
}

// CallFunctionWithProofs is CallFunction that also passes the caller's
// proofs of the listed resources.
func (g *Guest) CallFunctionWithProofs(pkg types.EntityID, blueprint, function string, args []byte, proofs []types.EntityID, handles ...uint32) (abi.CallResult, error) {
	var res abi.CallResult
	err := g.call(abi.OpCallFunction, &abi.CallFunctionArgs{
		Package: pkg, Blueprint: blueprint, Function: function, Args: args, Handles: handles, Proofs: proofs,
	}, &res)
	return res, err
}

func (g *Guest) CallMethod(component types.EntityID, method string, args []byte, handles ...uint32) (abi.CallResult, error) {
	return g.CallMethodWithProofs(component, method, args, nil, handles...)
}

func (g *Guest) CallMethodWithProofs(component types.EntityID, method string, args []byte, proofs []types.EntityID, handles ...uint32) (abi.CallResult, error) {
	var res abi.CallResult
	err := g.call(abi.OpCallMethod, &abi.CallMethodArgs{
		Component: component, Method: method, Args: args, Handles: handles, Proofs: proofs,
	}, &res)
	return res, err
}

func (g *Guest) EmitEvent(typ string, payload []byte) error {
	return g.call(abi.OpEmitEvent, &abi.EmitEventArgs{Type: typ, Payload: payload}, nil)
}

func (g *Guest) Log(level, message string) error {
	return g.call(abi.OpLog, &abi.LogArgs{Level: level, Message: message}, nil)
}

func (g *Guest) ConsumeCost(units uint64) error {
	return g.call(abi.OpConsumeCost, &abi.ConsumeCostArgs{Units: units}, nil)
}
