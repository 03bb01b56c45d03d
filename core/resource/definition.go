package resource

import (
	"fmt"
	"sort"
	"sync"

	"resengine/core/decimal"
	engerrors "resengine/core/errors"
	"resengine/core/types"
)

// Definition is the persisted description of a resource.
type Definition struct {
	ID           types.EntityID
	Kind         types.ResourceKind
	Divisibility uint8
	Metadata     []types.MetadataEntry
	Mintable     bool
	MintRule     types.AccessRule
	Burnable     bool
	TotalSupply  decimal.Decimal
}

// NewDefinition builds the definition created by spec. The initial supply is
// accounted when it is minted, not here.
func NewDefinition(id types.EntityID, spec types.ResourceSpec) *Definition {
	return &Definition{
		ID:           id,
		Kind:         spec.Kind,
		Divisibility: spec.Divisibility,
		Metadata:     append([]types.MetadataEntry(nil), spec.Metadata...),
		Mintable:     spec.Mintable,
		MintRule:     spec.MintRule,
		Burnable:     spec.Burnable,
	}
}

func (d *Definition) clone() *Definition {
	out := *d
	out.Metadata = append([]types.MetadataEntry(nil), d.Metadata...)
	return &out
}

// MetadataValue returns the value stored under key.
func (d *Definition) MetadataValue(key string) (string, bool) {
	for _, entry := range d.Metadata {
		if entry.Key == key {
			return entry.Value, true
		}
	}
	return "", false
}

// quantity normalizes a request against the definition: fungible requests
// use amount, non-fungible requests use ids (sorted, validated, unique).
func (d *Definition) quantity(amount decimal.Decimal, ids []types.NonFungibleID) (decimal.Decimal, []types.NonFungibleID, error) {
	switch d.Kind {
	case types.ResourceFungible:
		if len(ids) > 0 {
			return decimal.Zero(), nil, fmt.Errorf("%w: fungible resource %s addressed by ids", engerrors.ErrResourceKindMismatch, d.ID)
		}
		if !amount.RespectsDivisibility(d.Divisibility) {
			return decimal.Zero(), nil, fmt.Errorf("%w: amount %s exceeds divisibility %d of %s", engerrors.ErrInvalidArgument, amount, d.Divisibility, d.ID)
		}
		return amount, nil, nil
	case types.ResourceNonFungible:
		if !amount.IsZero() && len(ids) == 0 {
			return decimal.Zero(), nil, fmt.Errorf("%w: non-fungible resource %s addressed by amount", engerrors.ErrResourceKindMismatch, d.ID)
		}
		sorted, err := normalizeIDs(ids)
		if err != nil {
			return decimal.Zero(), nil, err
		}
		return decimal.FromUint64(uint64(len(sorted))), sorted, nil
	default:
		return decimal.Zero(), nil, engerrors.Invariant("resource %s has unknown kind %d", d.ID, d.Kind)
	}
}

func normalizeIDs(ids []types.NonFungibleID) ([]types.NonFungibleID, error) {
	out := types.SortIDs(append([]types.NonFungibleID(nil), ids...))
	for i, id := range out {
		if err := id.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", engerrors.ErrInvalidArgument, err)
		}
		if i > 0 && out[i-1] == id {
			return nil, fmt.Errorf("%w: %q repeated", engerrors.ErrDuplicateNonFungibleID, id)
		}
	}
	return out, nil
}

// Registry holds the genesis resource definitions of one engine instance.
// Definitions created by transactions live in substates instead.
type Registry struct {
	mu   sync.RWMutex
	defs map[types.EntityID]*Definition
}

// NewRegistry returns a registry holding the signature badge.
func NewRegistry() *Registry {
	r := &Registry{defs: make(map[types.EntityID]*Definition)}
	r.defs[types.SignatureBadge] = &Definition{
		ID:       types.SignatureBadge,
		Kind:     types.ResourceNonFungible,
		Metadata: []types.MetadataEntry{{Key: "name", Value: "Signature Badge"}},
	}
	return r
}

// Register adds a genesis definition.
func (r *Registry) Register(def *Definition) error {
	if def == nil || def.ID.Kind() != types.EntityResource {
		return fmt.Errorf("resource: definition must carry a resource id")
	}
	if def.Kind != types.ResourceFungible && def.Kind != types.ResourceNonFungible {
		return fmt.Errorf("resource: definition %s has unknown kind", def.ID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[def.ID]; exists {
		return fmt.Errorf("resource: %s already registered", def.ID)
	}
	r.defs[def.ID] = def.clone()
	return nil
}

func (r *Registry) Lookup(id types.EntityID) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[id]
	if !ok {
		return nil, false
	}
	return def.clone(), true
}

// IDs lists the registered resources in byte order.
func (r *Registry) IDs() []types.EntityID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.EntityID, 0, len(r.defs))
	for id := range r.defs {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Compare(out[j]) < 0 })
	return out
}
