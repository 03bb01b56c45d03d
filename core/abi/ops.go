package abi

import "fmt"

// Op is the numeric id of a host operation. Guests pass it to the host
// trampoline together with rlp-encoded arguments.
type Op uint32

const (
	OpGetActor Op = iota + 1
	OpLockSubstate
	OpReadSubstate
	OpWriteSubstate
	OpUnlockSubstate
	OpInstantiateComponent
	OpCreateVault
	OpMint
	OpBurn
	OpSplit
	OpMerge
	OpContainerInfo
	OpWithdraw
	OpDeposit
	OpVaultInfo
	OpCreateProof
	OpCallFunction
	OpCallMethod
	OpEmitEvent
	OpLog
	OpConsumeCost
)

var opNames = map[Op]string{
	OpGetActor:             "get_actor",
	OpLockSubstate:         "lock_substate",
	OpReadSubstate:         "read_substate",
	OpWriteSubstate:        "write_substate",
	OpUnlockSubstate:       "unlock_substate",
	OpInstantiateComponent: "instantiate_component",
	OpCreateVault:          "create_vault",
	OpMint:                 "mint",
	OpBurn:                 "burn",
	OpSplit:                "split",
	OpMerge:                "merge",
	OpContainerInfo:        "container_info",
	OpWithdraw:             "withdraw",
	OpDeposit:              "deposit",
	OpVaultInfo:            "vault_info",
	OpCreateProof:          "create_proof",
	OpCallFunction:         "call_function",
	OpCallMethod:           "call_method",
	OpEmitEvent:            "emit_event",
	OpLog:                  "log",
	OpConsumeCost:          "consume_cost",
}

func (op Op) String() string {
	if name, ok := opNames[op]; ok {
		return name
	}
	return fmt.Sprintf("op(%d)", uint32(op))
}

// Ops lists every defined operation in id order.
func Ops() []Op {
	out := make([]Op, 0, len(opNames))
	for op := OpGetActor; op <= OpConsumeCost; op++ {
		out = append(out, op)
	}
	return out
}

// OpByName looks an operation up by its snake_case name.
func OpByName(name string) (Op, bool) {
	for op, n := range opNames {
		if n == name {
			return op, true
		}
	}
	return 0, false
}
