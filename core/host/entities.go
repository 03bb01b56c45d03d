package host

import (
	"errors"
	"fmt"

	"lukechampine.com/blake3"

	engerrors "resengine/core/errors"
	"resengine/core/substate"
	"resengine/core/types"
)

// Package is the persisted form of a published package.
type Package struct {
	Runtime    string
	Code       []byte
	CodeHash   [32]byte
	Blueprints []types.BlueprintSchema
}

func newPackage(spec types.PackageSpec) *Package {
	return &Package{
		Runtime:    spec.Runtime,
		Code:       append([]byte(nil), spec.Code...),
		CodeHash:   blake3.Sum256(spec.Code),
		Blueprints: append([]types.BlueprintSchema(nil), spec.Blueprints...),
	}
}

func (p *Package) blueprint(name string) (types.BlueprintSchema, bool) {
	for _, bp := range p.Blueprints {
		if bp.Name == name {
			return bp, true
		}
	}
	return types.BlueprintSchema{}, false
}

// ComponentInfo records what a component was instantiated from.
type ComponentInfo struct {
	Package   types.EntityID
	Blueprint string
}

func (b *Bridge) loadPackage(id types.EntityID) (*Package, error) {
	var pkg Package
	if err := b.loadSystem(id, substate.KeyPackage, &pkg); err != nil {
		return nil, err
	}
	return &pkg, nil
}

func (b *Bridge) loadComponent(id types.EntityID) (*ComponentInfo, error) {
	var info ComponentInfo
	if err := b.loadSystem(id, substate.KeyComponentInfo, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// loadSystem decodes an engine-written substate. Those are always well
// formed, so a decode failure is an invariant violation.
func (b *Bridge) loadSystem(id types.EntityID, key string, v interface{}) error {
	sub, err := b.tx.Read(substate.NewKey(id, key))
	if err != nil {
		if errors.Is(err, engerrors.ErrNotFound) {
			return fmt.Errorf("%w: %s %s", engerrors.ErrNotFound, id.Kind(), id)
		}
		return err
	}
	if err := b.decode(sub.Payload, v); err != nil {
		return engerrors.WrapInvariant(err, "decode "+key)
	}
	return nil
}

func (b *Bridge) putSystem(owner types.FrameID, id types.EntityID, key string, typ types.SubstateType, v interface{}) error {
	payload, err := b.encode(v)
	if err != nil {
		return err
	}
	return b.tx.Put(owner, substate.NewKey(id, key), typ, payload)
}
