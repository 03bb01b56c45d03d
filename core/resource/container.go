package resource

import (
	"fmt"
	"strconv"

	"resengine/core/decimal"
	engerrors "resengine/core/errors"
	"resengine/core/types"
)

// ContainerID addresses a container in the ledger arena. Ids are never reused
// within a transaction.
type ContainerID uint64

// Container is an in-flight quantity of one resource owned by exactly one
// frame. For non-fungible resources Amount is the number of ids.
type Container struct {
	ID           ContainerID
	Resource     types.EntityID
	Kind         types.ResourceKind
	Divisibility uint8
	Amount       decimal.Decimal
	IDs          []types.NonFungibleID
	Owner        types.FrameID
}

func (c *Container) IsEmpty() bool { return c.Amount.IsZero() }

func (c *Container) clone() Container {
	out := *c
	out.IDs = append([]types.NonFungibleID(nil), c.IDs...)
	return out
}

func (c *Container) String() string {
	if c.Kind == types.ResourceNonFungible {
		return fmt.Sprintf("container#%d(%s %v)", c.ID, c.Resource, c.IDs)
	}
	return fmt.Sprintf("container#%d(%s %s)", c.ID, c.Resource, c.Amount)
}

// holding is the quantity stored in a container or a vault.
type holding struct {
	kind         types.ResourceKind
	divisibility uint8
	amount       decimal.Decimal
	ids          []types.NonFungibleID
}

// take removes the requested quantity from h and returns it. Non-fungible
// quantities are requested either by ids or by a whole count, in which case
// the lowest ids are taken. h is untouched on error.
func (h *holding) take(amount decimal.Decimal, ids []types.NonFungibleID) (decimal.Decimal, []types.NonFungibleID, error) {
	switch h.kind {
	case types.ResourceFungible:
		if len(ids) > 0 {
			return decimal.Zero(), nil, fmt.Errorf("%w: fungible quantity requested by ids", engerrors.ErrResourceKindMismatch)
		}
		if !amount.RespectsDivisibility(h.divisibility) {
			return decimal.Zero(), nil, fmt.Errorf("%w: amount %s exceeds divisibility %d", engerrors.ErrInvalidArgument, amount, h.divisibility)
		}
		rest, err := h.amount.Sub(amount)
		if err != nil {
			return decimal.Zero(), nil, fmt.Errorf("%w: requested %s, holding %s", engerrors.ErrInsufficientResource, amount, h.amount)
		}
		h.amount = rest
		return amount, nil, nil
	case types.ResourceNonFungible:
		var want []types.NonFungibleID
		if len(ids) > 0 {
			sorted, err := normalizeIDs(ids)
			if err != nil {
				return decimal.Zero(), nil, err
			}
			want = sorted
		} else {
			n, err := wholeCount(amount)
			if err != nil {
				return decimal.Zero(), nil, err
			}
			if n > uint64(len(h.ids)) {
				return decimal.Zero(), nil, fmt.Errorf("%w: requested %d ids, holding %d", engerrors.ErrInsufficientResource, n, len(h.ids))
			}
			want = append([]types.NonFungibleID(nil), h.ids[:n]...)
		}
		rest, ok := subtractIDs(h.ids, want)
		if !ok {
			return decimal.Zero(), nil, fmt.Errorf("%w: requested ids %v not all held", engerrors.ErrInsufficientResource, want)
		}
		h.ids = rest
		h.amount = decimal.FromUint64(uint64(len(rest)))
		return decimal.FromUint64(uint64(len(want))), want, nil
	default:
		return decimal.Zero(), nil, engerrors.Invariant("holding has unknown kind %d", h.kind)
	}
}

// put adds a quantity of the same resource to h. h is untouched on error.
func (h *holding) put(amount decimal.Decimal, ids []types.NonFungibleID) error {
	if h.kind == types.ResourceNonFungible {
		merged, dup, ok := unionIDs(h.ids, ids)
		if !ok {
			return fmt.Errorf("%w: %q", engerrors.ErrDuplicateNonFungibleID, dup)
		}
		h.ids = merged
		h.amount = decimal.FromUint64(uint64(len(merged)))
		return nil
	}
	sum, err := h.amount.Add(amount)
	if err != nil {
		return engerrors.WrapInvariant(err, "fungible amount")
	}
	h.amount = sum
	return nil
}

func wholeCount(amount decimal.Decimal) (uint64, error) {
	if !amount.RespectsDivisibility(0) {
		return 0, fmt.Errorf("%w: non-fungible count %s is not whole", engerrors.ErrInvalidArgument, amount)
	}
	n, err := strconv.ParseUint(amount.String(), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: non-fungible count %s", engerrors.ErrInvalidArgument, amount)
	}
	return n, nil
}

// subtractIDs returns have minus want; both must be sorted. ok is false when
// want is not a subset of have.
func subtractIDs(have, want []types.NonFungibleID) ([]types.NonFungibleID, bool) {
	out := make([]types.NonFungibleID, 0, len(have))
	i := 0
	for _, id := range have {
		if i < len(want) && want[i] == id {
			i++
			continue
		}
		out = append(out, id)
	}
	return out, i == len(want)
}

// unionIDs merges two sorted sets, reporting the first id found in both.
func unionIDs(a, b []types.NonFungibleID) ([]types.NonFungibleID, types.NonFungibleID, bool) {
	out := make([]types.NonFungibleID, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			return nil, a[i], false
		case a[i] < b[j]:
			out = append(out, a[i])
			i++
		default:
			out = append(out, b[j])
			j++
		}
	}
	out = append(out, a[i:]...)
	return append(out, b[j:]...), "", true
}
