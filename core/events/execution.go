package events

import (
	"github.com/ethereum/go-ethereum/common"

	"resengine/core/types"
)

const (
	TypeTransactionExecuted = "engine.transaction.executed"
	TypeEntityCreated       = "engine.entity.created"
)

// TransactionExecuted is emitted once per committed or failed transaction.
// Previews do not emit it.
type TransactionExecuted struct {
	TxHash       common.Hash
	Outcome      types.Outcome
	ErrorKind    string
	CostConsumed uint64
	DiffEntries  int
	Events       int
}

func (TransactionExecuted) EventType() string { return TypeTransactionExecuted }

// EntityCreated is emitted for each entity allocated by a committed transaction.
type EntityCreated struct {
	TxHash common.Hash
	Entity types.EntityID
}

func (EntityCreated) EventType() string { return TypeEntityCreated }
