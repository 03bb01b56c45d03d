package types

import "github.com/ethereum/go-ethereum/common"

// Outcome is the terminal status of a transaction.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// DiffEntry records one committed substate write. OldVersion is zero when the
// substate did not exist before the transaction.
type DiffEntry struct {
	Entity     EntityID     `json:"entity"`
	Key        string       `json:"key"`
	Type       SubstateType `json:"type"`
	OldVersion uint64       `json:"oldVersion"`
	NewVersion uint64       `json:"newVersion"`
	Payload    []byte       `json:"payload"`
}

// ReceiptError describes why a transaction failed.
type ReceiptError struct {
	Kind string `json:"kind"`
	// FramePath lists the open frames from the root to the failing frame.
	FramePath []string `json:"framePath"`
	Message   string   `json:"message"`
	// ContractBug marks engine-detected programming errors in the invoked code.
	ContractBug bool `json:"contractBug,omitempty"`
}

// Receipt is produced for every executed transaction. On failure the diff,
// events, logs and outputs are always empty.
type Receipt struct {
	TxHash       common.Hash   `json:"txHash"`
	Outcome      Outcome       `json:"outcome"`
	StateDiff    []DiffEntry   `json:"stateDiff"`
	DiffRoot     common.Hash   `json:"diffRoot"`
	Events       []Event       `json:"events"`
	Logs         []LogEntry    `json:"logs"`
	Outputs      [][]byte      `json:"outputs"`
	NewEntities  []EntityID    `json:"newEntities"`
	CostConsumed uint64        `json:"costConsumed"`
	Error        *ReceiptError `json:"error,omitempty"`
}

func (r *Receipt) Succeeded() bool { return r != nil && r.Outcome == OutcomeSuccess }
