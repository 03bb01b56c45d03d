package auth

import (
	"fmt"

	"resengine/core/decimal"
	engerrors "resengine/core/errors"
	"resengine/core/types"
)

// Context answers access-rule queries for one call frame.
type Context interface {
	Satisfies(rule types.AccessRule) bool
}

// Proof attests that the frame controls the given quantity of a resource.
// Proofs are snapshots; they do not lock or move the underlying value.
type Proof struct {
	Resource types.EntityID
	Amount   decimal.Decimal
	IDs      []types.NonFungibleID
}

func (p Proof) empty() bool { return p.Amount.IsZero() && len(p.IDs) == 0 }

func (p Proof) hasID(id types.NonFungibleID) bool {
	for _, candidate := range p.IDs {
		if candidate == id {
			return true
		}
	}
	return false
}

// Zone is the set of proofs available to one frame. Zones are never shared:
// a callee starts with the proofs its caller chose to pass and proofs do not
// flow back to callers.
type Zone struct {
	proofs []Proof
}

func NewZone(proofs ...Proof) *Zone {
	z := &Zone{}
	for _, p := range proofs {
		z.Push(p)
	}
	return z
}

// SignerZone proves one signature badge per signer.
func SignerZone(signers [][20]byte) *Zone {
	if len(signers) == 0 {
		return NewZone()
	}
	ids := make([]types.NonFungibleID, len(signers))
	for i, signer := range signers {
		ids[i] = types.SignerBadgeID(signer)
	}
	return NewZone(Proof{
		Resource: types.SignatureBadge,
		Amount:   decimal.FromUint64(uint64(len(ids))),
		IDs:      types.SortIDs(ids),
	})
}

// Push adds a proof. Empty proofs are ignored.
func (z *Zone) Push(p Proof) {
	if p.empty() {
		return
	}
	p.IDs = append([]types.NonFungibleID(nil), p.IDs...)
	z.proofs = append(z.proofs, p)
}

// Proofs returns a copy of the zone's proofs in insertion order.
func (z *Zone) Proofs() []Proof {
	return append([]Proof(nil), z.proofs...)
}

// Select builds the zone handed to a callee: every proof z holds for each
// listed resource. A listed resource without a proof is denied.
func (z *Zone) Select(resources []types.EntityID) (*Zone, error) {
	out := NewZone()
	for _, res := range resources {
		found := false
		if z != nil {
			for _, p := range z.proofs {
				if p.Resource == res {
					out.Push(p)
					found = true
				}
			}
		}
		if !found {
			return nil, fmt.Errorf("%w: no proof of %s to pass", engerrors.ErrAuthorizationDenied, res)
		}
	}
	return out, nil
}

func (z *Zone) Satisfies(rule types.AccessRule) bool {
	if z == nil {
		return rule.Kind == types.RuleAllowAll
	}
	return z.eval(rule, 0)
}

func (z *Zone) eval(rule types.AccessRule, depth int) bool {
	if depth > types.MaxRuleDepth {
		return false
	}
	switch rule.Kind {
	case types.RuleAllowAll:
		return true
	case types.RuleRequire:
		for _, p := range z.proofs {
			if p.Resource == rule.Resource {
				return true
			}
		}
		return false
	case types.RuleRequireNonFungible:
		for _, p := range z.proofs {
			if p.Resource == rule.Resource && p.hasID(rule.ID) {
				return true
			}
		}
		return false
	case types.RuleAllOf:
		for _, sub := range rule.Rules {
			if !z.eval(sub, depth+1) {
				return false
			}
		}
		return true
	case types.RuleAnyOf:
		for _, sub := range rule.Rules {
			if z.eval(sub, depth+1) {
				return true
			}
		}
		return false
	default:
		return false
	}
}
