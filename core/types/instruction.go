package types

import (
	"fmt"

	"resengine/core/decimal"
)

// InstructionOp selects what a transaction instruction does. Instructions run
// in the root frame and move resources through its containers, the worktop.
type InstructionOp uint8

const (
	InstructionPublishPackage InstructionOp = iota + 1
	InstructionNewResource
	InstructionCreateVault
	InstructionMint
	InstructionBurn
	InstructionWithdraw
	InstructionDeposit
	InstructionCallFunction
	InstructionCallMethod
	InstructionAssertWorktop
	InstructionDepositAll
)

var instructionNames = map[InstructionOp]string{
	InstructionPublishPackage: "publish_package",
	InstructionNewResource:    "new_resource",
	InstructionCreateVault:    "create_vault",
	InstructionMint:           "mint",
	InstructionBurn:           "burn",
	InstructionWithdraw:       "withdraw",
	InstructionDeposit:        "deposit",
	InstructionCallFunction:   "call_function",
	InstructionCallMethod:     "call_method",
	InstructionAssertWorktop:  "assert_worktop",
	InstructionDepositAll:     "deposit_all",
}

func (op InstructionOp) String() string {
	if name, ok := instructionNames[op]; ok {
		return name
	}
	return fmt.Sprintf("instruction(%d)", uint8(op))
}

func (op InstructionOp) MarshalText() ([]byte, error) { return []byte(op.String()), nil }

func (op *InstructionOp) UnmarshalText(text []byte) error {
	for candidate, name := range instructionNames {
		if name == string(text) {
			*op = candidate
			return nil
		}
	}
	return fmt.Errorf("instruction: unknown op %q", text)
}

// Instruction is one step of a transaction. Which fields are read depends on
// Op:
//
//	PublishPackage  Package
//	NewResource     Definition
//	CreateVault     Resource, Rule
//	Mint            Resource, Amount | IDs
//	Burn            Resource, Amount | IDs (taken from the worktop)
//	Withdraw        Entity (vault), Amount | IDs
//	Deposit         Entity (vault), Resource (everything on the worktop)
//	CallFunction    Entity (package), Blueprint, Function, Args, Buckets, Proofs
//	CallMethod      Entity (component), Function, Args, Buckets, Proofs
//	AssertWorktop   Resource, Amount | IDs
//	DepositAll      Vaults, Rule (for resources without a listed vault)
//
// Proofs name the resources whose proofs in the transaction's auth zone are
// handed to the callee.
type Instruction struct {
	Op         InstructionOp   `json:"op"`
	Entity     EntityID        `json:"entity"`
	Resource   EntityID        `json:"resource"`
	Amount     decimal.Decimal `json:"amount"`
	IDs        []NonFungibleID `json:"ids,omitempty"`
	Blueprint  string          `json:"blueprint,omitempty"`
	Function   string          `json:"function,omitempty"`
	Args       []byte          `json:"args,omitempty"`
	Buckets    []EntityID      `json:"buckets,omitempty"`
	Rule       AccessRule      `json:"rule"`
	Package    PackageSpec     `json:"package"`
	Definition ResourceSpec    `json:"definition"`
	Proofs     []EntityID      `json:"proofs,omitempty" rlp:"optional"`
	Vaults     []EntityID      `json:"vaults,omitempty" rlp:"optional"`
}

// Validate checks the fields Op depends on; it does not consult state.
func (ins Instruction) Validate() error {
	switch ins.Op {
	case InstructionPublishPackage:
		return ins.Package.Validate()
	case InstructionNewResource:
		return ins.Definition.Validate()
	case InstructionCreateVault:
		if err := requireKind(ins.Resource, EntityResource, "resource"); err != nil {
			return err
		}
		return ins.Rule.Validate()
	case InstructionMint, InstructionBurn, InstructionAssertWorktop:
		return requireKind(ins.Resource, EntityResource, "resource")
	case InstructionWithdraw:
		return requireKind(ins.Entity, EntityVault, "vault")
	case InstructionDeposit:
		if err := requireKind(ins.Entity, EntityVault, "vault"); err != nil {
			return err
		}
		return requireKind(ins.Resource, EntityResource, "resource")
	case InstructionCallFunction:
		if err := requireKind(ins.Entity, EntityPackage, "package"); err != nil {
			return err
		}
		if ins.Blueprint == "" || ins.Function == "" {
			return fmt.Errorf("call_function requires blueprint and function")
		}
		return ins.validateCall()
	case InstructionCallMethod:
		if err := requireKind(ins.Entity, EntityComponent, "component"); err != nil {
			return err
		}
		if ins.Function == "" {
			return fmt.Errorf("call_method requires a method name")
		}
		return ins.validateCall()
	case InstructionDepositAll:
		for _, v := range ins.Vaults {
			if err := requireKind(v, EntityVault, "vault"); err != nil {
				return err
			}
		}
		return ins.Rule.Validate()
	default:
		return fmt.Errorf("unknown instruction %d", ins.Op)
	}
}

func (ins Instruction) validateCall() error {
	for _, res := range ins.Buckets {
		if err := requireKind(res, EntityResource, "bucket"); err != nil {
			return err
		}
	}
	for _, res := range ins.Proofs {
		if err := requireKind(res, EntityResource, "proof"); err != nil {
			return err
		}
	}
	return nil
}

func requireKind(id EntityID, kind EntityKind, field string) error {
	if id.Kind() != kind {
		return fmt.Errorf("%s must be a %s id, got %s", field, kind, id)
	}
	return nil
}
