package abi

import (
	"resengine/core/decimal"
	"resengine/core/types"
)

// Invocation envelopes. Handles name containers in the receiving frame.

type Input struct {
	Args    []byte
	Handles []uint32
}

type Output struct {
	Output  []byte
	Handles []uint32
}

// Empty is the result of operations that return nothing.
type Empty struct{}

type ActorInfo struct {
	Package   types.EntityID
	Component types.EntityID
	Blueprint string
	Function  string
}

type LockSubstateArgs struct {
	Entity types.EntityID
	Key    string
	Write  bool
}

type LockResult struct {
	Lock uint64
}

type LockArgs struct {
	Lock uint64
}

type SubstateValue struct {
	Found   bool
	Payload []byte
	Version uint64
}

type WriteSubstateArgs struct {
	Lock    uint64
	Payload []byte
}

type InstantiateComponentArgs struct {
	Blueprint string
	State     []byte
}

type EntityResult struct {
	Entity types.EntityID
}

type CreateVaultArgs struct {
	Resource types.EntityID
	Owner    types.EntityID
}

type MintArgs struct {
	Resource types.EntityID
	Amount   decimal.Decimal
	IDs      []types.NonFungibleID
}

type HandleArgs struct {
	Handle uint32
}

type HandleResult struct {
	Handle uint32
}

type SplitArgs struct {
	Handle uint32
	Amount decimal.Decimal
	IDs    []types.NonFungibleID
}

type MergeArgs struct {
	Into uint32
	From uint32
}

type ContainerInfo struct {
	Resource types.EntityID
	Kind     types.ResourceKind
	Amount   decimal.Decimal
	IDs      []types.NonFungibleID
}

type WithdrawArgs struct {
	Vault  types.EntityID
	Amount decimal.Decimal
	IDs    []types.NonFungibleID
}

type DepositArgs struct {
	Vault  types.EntityID
	Handle uint32
}

type VaultArgs struct {
	Vault types.EntityID
}

type VaultInfo struct {
	Resource types.EntityID
	Owner    types.EntityID
	Amount   decimal.Decimal
	IDs      []types.NonFungibleID
}

// CallFunctionArgs invokes a blueprint function. Proofs name the resources
// whose proofs in the caller's auth zone are passed to the callee.
type CallFunctionArgs struct {
	Package   types.EntityID
	Blueprint string
	Function  string
	Args      []byte
	Handles   []uint32
	Proofs    []types.EntityID `rlp:"optional"`
}

type CallMethodArgs struct {
	Component types.EntityID
	Method    string
	Args      []byte
	Handles   []uint32
	Proofs    []types.EntityID `rlp:"optional"`
}

// CallResult carries the callee's output; Handles name the returned
// containers in the caller's frame.
type CallResult struct {
	Output  []byte
	Handles []uint32
}

type EmitEventArgs struct {
	Type    string
	Payload []byte
}

type LogArgs struct {
	Level   string
	Message string
}

type ConsumeCostArgs struct {
	Units uint64
}
