package resource

import (
	"fmt"

	"resengine/core/decimal"
	engerrors "resengine/core/errors"
	"resengine/core/types"
)

// Vault is the persisted holder of a resource between transactions. A vault
// owned by a component is only reachable from that component's frames; a
// standalone vault (zero Owner) guards withdrawals with WithdrawRule and
// accepts deposits from anyone.
type Vault struct {
	ID           types.EntityID `rlp:"-"`
	Resource     types.EntityID
	Kind         types.ResourceKind
	Divisibility uint8
	Owner        types.EntityID
	WithdrawRule types.AccessRule
	Amount       decimal.Decimal
	IDs          []types.NonFungibleID
}

// NewVault returns an empty vault for def.
func NewVault(id types.EntityID, def *Definition, owner types.EntityID, rule types.AccessRule) *Vault {
	return &Vault{
		ID:           id,
		Resource:     def.ID,
		Kind:         def.Kind,
		Divisibility: def.Divisibility,
		Owner:        owner,
		WithdrawRule: rule,
	}
}

func (v *Vault) IsStandalone() bool { return v.Owner.IsZero() }

func (v *Vault) holding() *holding {
	return &holding{kind: v.Kind, divisibility: v.Divisibility, amount: v.Amount, ids: v.IDs}
}

func (v *Vault) set(h *holding) {
	v.Amount = h.amount
	v.IDs = h.ids
}

func (v *Vault) String() string {
	return fmt.Sprintf("vault %s (%s %s)", v.ID, v.Resource, v.Amount)
}

func (v *Vault) accepts(c *Container) error {
	if c.Resource != v.Resource {
		return fmt.Errorf("%w: vault %s holds %s, container holds %s", engerrors.ErrResourceKindMismatch, v.ID, v.Resource, c.Resource)
	}
	return nil
}
