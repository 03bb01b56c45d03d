package resource

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"

	engerrors "resengine/core/errors"
	"resengine/core/substate"
	"resengine/core/types"
)

// DefinitionSource resolves resource definitions for the ledger.
type DefinitionSource interface {
	Definition(id types.EntityID) (*Definition, error)
	NonFungibleExists(resource types.EntityID, id types.NonFungibleID) (bool, error)
}

// View resolves definitions through a store transaction, falling back to the
// registry for genesis resources.
type View struct {
	registry *Registry
	tx       *substate.Transaction
}

func (r *Registry) View(tx *substate.Transaction) *View {
	return &View{registry: r, tx: tx}
}

func (v *View) Definition(id types.EntityID) (*Definition, error) {
	sub, err := v.tx.Read(substate.NewKey(id, substate.KeyResource))
	switch {
	case err == nil:
		var def Definition
		if err := rlp.DecodeBytes(sub.Payload, &def); err != nil {
			return nil, engerrors.WrapInvariant(err, "decode resource definition")
		}
		return &def, nil
	case errors.Is(err, engerrors.ErrNotFound):
		if def, ok := v.registry.Lookup(id); ok {
			return def, nil
		}
		return nil, fmt.Errorf("%w: resource %s", engerrors.ErrNotFound, id)
	default:
		return nil, err
	}
}

func (v *View) NonFungibleExists(resource types.EntityID, id types.NonFungibleID) (bool, error) {
	return v.tx.Exists(substate.NewKey(resource, substate.NonFungibleKey(id)))
}

// Save writes def as owner.
func (v *View) Save(owner types.FrameID, def *Definition) error {
	payload, err := rlp.EncodeToBytes(def)
	if err != nil {
		return engerrors.WrapInvariant(err, "encode resource definition")
	}
	return v.tx.Put(owner, substate.NewKey(def.ID, substate.KeyResource), types.SubstateResource, payload)
}

// ApplySupply persists the supply change and minted ids the ledger recorded
// for each resource it touched.
func (v *View) ApplySupply(owner types.FrameID, l *Ledger) error {
	for _, id := range l.Resources() {
		s := l.Supply(id)
		ids := l.MintedIDs(id)
		if s.Minted.IsZero() && s.Burned.IsZero() && len(ids) == 0 {
			continue
		}
		def, err := v.Definition(id)
		if err != nil {
			return err
		}
		total, err := def.TotalSupply.Add(s.Minted)
		if err != nil {
			return engerrors.WrapInvariant(err, "total supply")
		}
		if total, err = total.Sub(s.Burned); err != nil {
			return engerrors.WrapInvariant(err, "total supply")
		}
		def.TotalSupply = total
		if err := v.Save(owner, def); err != nil {
			return err
		}
		for _, nf := range ids {
			key := substate.NewKey(id, substate.NonFungibleKey(nf))
			if err := v.tx.Put(owner, key, types.SubstateNonFungible, []byte{1}); err != nil {
				return err
			}
		}
	}
	return nil
}

// LoadVault reads the vault substate of id.
func LoadVault(tx *substate.Transaction, id types.EntityID) (*Vault, error) {
	sub, err := tx.Read(substate.NewKey(id, substate.KeyVault))
	if err != nil {
		if errors.Is(err, engerrors.ErrNotFound) {
			return nil, fmt.Errorf("%w: vault %s", engerrors.ErrNotFound, id)
		}
		return nil, err
	}
	var vault Vault
	if err := rlp.DecodeBytes(sub.Payload, &vault); err != nil {
		return nil, engerrors.WrapInvariant(err, "decode vault")
	}
	vault.ID = id
	return &vault, nil
}

// SaveVault writes vault as owner.
func SaveVault(tx *substate.Transaction, owner types.FrameID, vault *Vault) error {
	payload, err := rlp.EncodeToBytes(vault)
	if err != nil {
		return engerrors.WrapInvariant(err, "encode vault")
	}
	return tx.Put(owner, substate.NewKey(vault.ID, substate.KeyVault), types.SubstateVault, payload)
}
