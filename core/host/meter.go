package host

import (
	"fmt"

	engerrors "resengine/core/errors"
)

// CostTable prices engine work in abstract cost units.
type CostTable struct {
	Instruction   uint64 `toml:"Instruction" yaml:"instruction"`
	HostCall      uint64 `toml:"HostCall" yaml:"hostCall"`
	PerByte       uint64 `toml:"PerByte" yaml:"perByte"`
	Invoke        uint64 `toml:"Invoke" yaml:"invoke"`
	SubstateWrite uint64 `toml:"SubstateWrite" yaml:"substateWrite"`
	PerWriteByte  uint64 `toml:"PerWriteByte" yaml:"perWriteByte"`
	EntityCreate  uint64 `toml:"EntityCreate" yaml:"entityCreate"`
	Event         uint64 `toml:"Event" yaml:"event"`
}

// DefaultCosts is the cost table used when none is configured.
func DefaultCosts() CostTable {
	return CostTable{
		Instruction:   100,
		HostCall:      10,
		PerByte:       1,
		Invoke:        500,
		SubstateWrite: 200,
		PerWriteByte:  2,
		EntityCreate:  1000,
		Event:         50,
	}
}

// Meter counts consumed cost against a limit. Exhaustion is sticky: once the
// limit is hit every further charge fails.
type Meter struct {
	limit uint64
	used  uint64
}

func NewMeter(limit uint64) *Meter { return &Meter{limit: limit} }

// Consume charges units, failing with OutOfResources when the limit would be
// exceeded. The consumed total is then clamped to the limit.
func (m *Meter) Consume(units uint64) error {
	if units > m.limit-m.used {
		m.used = m.limit
		return fmt.Errorf("%w: cost limit %d exhausted", engerrors.ErrOutOfResources, m.limit)
	}
	m.used += units
	return nil
}

// Exhaust marks the whole limit as consumed, for work stopped because it
// outran its budget.
func (m *Meter) Exhaust() { m.used = m.limit }

func (m *Meter) Used() uint64 { return m.used }

func (m *Meter) Limit() uint64 { return m.limit }

func (m *Meter) Remaining() uint64 { return m.limit - m.used }

// bytesCost is base plus perByte for each of n bytes, saturating.
func bytesCost(base, perByte uint64, n int) uint64 {
	if n <= 0 || perByte == 0 {
		return base
	}
	ceiling := ^uint64(0)
	if perByte > (ceiling-base)/uint64(n) {
		return ceiling
	}
	return base + perByte*uint64(n)
}
