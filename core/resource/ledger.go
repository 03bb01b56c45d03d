package resource

import (
	"fmt"
	"sort"

	"resengine/core/auth"
	"resengine/core/decimal"
	engerrors "resengine/core/errors"
	"resengine/core/types"
)

// Supply is the per-resource accounting kept by the ledger. At every point
// Live + Deposited == Minted + Withdrawn - Burned.
type Supply struct {
	Minted    decimal.Decimal
	Burned    decimal.Decimal
	Withdrawn decimal.Decimal
	Deposited decimal.Decimal
	Live      decimal.Decimal
}

// Ledger tracks every in-flight container of one transaction. Containers live
// in an arena keyed by ContainerID; each carries the frame that owns it and
// every operation checks that owner.
type Ledger struct {
	defs   DefinitionSource
	next   ContainerID
	arena  map[ContainerID]*Container
	supply map[types.EntityID]*Supply
	minted map[types.EntityID]map[types.NonFungibleID]struct{}
}

func NewLedger(defs DefinitionSource) *Ledger {
	return &Ledger{
		defs:   defs,
		arena:  make(map[ContainerID]*Container),
		supply: make(map[types.EntityID]*Supply),
		minted: make(map[types.EntityID]map[types.NonFungibleID]struct{}),
	}
}

// Mint creates new value of resource. The zone must satisfy the resource's
// mint rule and the resource must have mutable supply.
func (l *Ledger) Mint(resource types.EntityID, amount decimal.Decimal, ids []types.NonFungibleID, zone auth.Context, owner types.FrameID) (ContainerID, error) {
	def, err := l.defs.Definition(resource)
	if err != nil {
		return 0, err
	}
	if !def.Mintable {
		return 0, fmt.Errorf("%w: %s has fixed supply", engerrors.ErrAuthorizationDenied, resource)
	}
	if zone == nil || !zone.Satisfies(def.MintRule) {
		return 0, fmt.Errorf("%w: mint rule %s of %s not satisfied", engerrors.ErrAuthorizationDenied, def.MintRule, resource)
	}
	return l.mint(def, amount, ids, owner)
}

// MintInitial creates the initial supply of a resource defined in this
// transaction; no mint rule applies.
func (l *Ledger) MintInitial(def *Definition, amount decimal.Decimal, ids []types.NonFungibleID, owner types.FrameID) (ContainerID, error) {
	return l.mint(def, amount, ids, owner)
}

func (l *Ledger) mint(def *Definition, amount decimal.Decimal, ids []types.NonFungibleID, owner types.FrameID) (ContainerID, error) {
	qty, sorted, err := def.quantity(amount, ids)
	if err != nil {
		return 0, err
	}
	if qty.IsZero() {
		return 0, fmt.Errorf("%w: mint of zero %s", engerrors.ErrInvalidArgument, def.ID)
	}
	for _, id := range sorted {
		if _, dup := l.minted[def.ID][id]; dup {
			return 0, fmt.Errorf("%w: %s#%s minted earlier in this transaction", engerrors.ErrDuplicateNonFungibleID, def.ID, id)
		}
		exists, err := l.defs.NonFungibleExists(def.ID, id)
		if err != nil {
			return 0, err
		}
		if exists {
			return 0, fmt.Errorf("%w: %s#%s already exists", engerrors.ErrDuplicateNonFungibleID, def.ID, id)
		}
	}
	s := l.account(def.ID)
	minted, err := s.Minted.Add(qty)
	if err != nil {
		return 0, engerrors.WrapInvariant(err, "minted supply")
	}
	if _, err := def.TotalSupply.Add(minted); err != nil {
		return 0, engerrors.WrapInvariant(err, "total supply")
	}
	live, err := s.Live.Add(qty)
	if err != nil {
		return 0, engerrors.WrapInvariant(err, "live supply")
	}
	s.Minted, s.Live = minted, live
	if len(sorted) > 0 {
		set := l.minted[def.ID]
		if set == nil {
			set = make(map[types.NonFungibleID]struct{})
			l.minted[def.ID] = set
		}
		for _, id := range sorted {
			set[id] = struct{}{}
		}
	}
	c := l.alloc(def.ID, def.Kind, def.Divisibility, owner)
	c.Amount, c.IDs = qty, sorted
	return c.ID, l.check(def.ID)
}

// Burn destroys the container's value. Holding a container is the right to
// burn it, unless the resource is not burnable.
func (l *Ledger) Burn(id ContainerID, owner types.FrameID) error {
	c, err := l.owned(id, owner)
	if err != nil {
		return err
	}
	def, err := l.defs.Definition(c.Resource)
	if err != nil {
		return err
	}
	if !def.Burnable && !c.IsEmpty() {
		return fmt.Errorf("%w: %s", engerrors.ErrBurnNotAllowed, c.Resource)
	}
	s := l.account(c.Resource)
	burned, err := s.Burned.Add(c.Amount)
	if err != nil {
		return engerrors.WrapInvariant(err, "burned supply")
	}
	live, err := s.Live.Sub(c.Amount)
	if err != nil {
		return engerrors.WrapInvariant(err, "live supply")
	}
	s.Burned, s.Live = burned, live
	delete(l.arena, id)
	return l.check(c.Resource)
}

// Split moves the requested quantity out of id into a new container owned by
// the same frame. The original container keeps the remainder and is
// unchanged on error.
func (l *Ledger) Split(id ContainerID, owner types.FrameID, amount decimal.Decimal, ids []types.NonFungibleID) (remainder, extracted ContainerID, err error) {
	c, err := l.owned(id, owner)
	if err != nil {
		return 0, 0, err
	}
	h := c.holding()
	takenAmount, takenIDs, err := h.take(amount, ids)
	if err != nil {
		return 0, 0, err
	}
	c.Amount, c.IDs = h.amount, h.ids
	out := l.alloc(c.Resource, c.Kind, c.Divisibility, owner)
	out.Amount, out.IDs = takenAmount, takenIDs
	return c.ID, out.ID, l.check(c.Resource)
}

// Merge moves everything in from into into and removes from.
func (l *Ledger) Merge(into, from ContainerID, owner types.FrameID) (ContainerID, error) {
	if into == from {
		return 0, fmt.Errorf("%w: cannot merge container %d into itself", engerrors.ErrInvalidArgument, into)
	}
	dst, err := l.owned(into, owner)
	if err != nil {
		return 0, err
	}
	src, err := l.owned(from, owner)
	if err != nil {
		return 0, err
	}
	if dst.Resource != src.Resource {
		return 0, fmt.Errorf("%w: %s into %s", engerrors.ErrResourceKindMismatch, src.Resource, dst.Resource)
	}
	h := dst.holding()
	if err := h.put(src.Amount, src.IDs); err != nil {
		return 0, err
	}
	dst.Amount, dst.IDs = h.amount, h.ids
	delete(l.arena, from)
	return into, l.check(dst.Resource)
}

// Transfer hands id from one frame to another.
func (l *Ledger) Transfer(id ContainerID, from, to types.FrameID) error {
	c, err := l.owned(id, from)
	if err != nil {
		return err
	}
	c.Owner = to
	return nil
}

// Get returns a copy of a container owned by owner.
func (l *Ledger) Get(id ContainerID, owner types.FrameID) (Container, error) {
	c, err := l.owned(id, owner)
	if err != nil {
		return Container{}, err
	}
	return c.clone(), nil
}

// Withdraw takes the requested quantity out of vault into a new container.
// The caller persists the vault afterwards. vault is unchanged on error.
func (l *Ledger) Withdraw(vault *Vault, amount decimal.Decimal, ids []types.NonFungibleID, owner types.FrameID) (ContainerID, error) {
	h := vault.holding()
	takenAmount, takenIDs, err := h.take(amount, ids)
	if err != nil {
		return 0, err
	}
	s := l.account(vault.Resource)
	withdrawn, err := s.Withdrawn.Add(takenAmount)
	if err != nil {
		return 0, engerrors.WrapInvariant(err, "withdrawn supply")
	}
	live, err := s.Live.Add(takenAmount)
	if err != nil {
		return 0, engerrors.WrapInvariant(err, "live supply")
	}
	s.Withdrawn, s.Live = withdrawn, live
	vault.set(h)
	c := l.alloc(vault.Resource, vault.Kind, vault.Divisibility, owner)
	c.Amount, c.IDs = takenAmount, takenIDs
	return c.ID, l.check(vault.Resource)
}

// Deposit moves the whole container into vault and destroys the container.
// The caller persists the vault afterwards. Nothing changes on error.
func (l *Ledger) Deposit(id ContainerID, owner types.FrameID, vault *Vault) error {
	c, err := l.owned(id, owner)
	if err != nil {
		return err
	}
	if err := vault.accepts(c); err != nil {
		return err
	}
	h := vault.holding()
	if err := h.put(c.Amount, c.IDs); err != nil {
		return err
	}
	s := l.account(c.Resource)
	deposited, err := s.Deposited.Add(c.Amount)
	if err != nil {
		return engerrors.WrapInvariant(err, "deposited supply")
	}
	live, err := s.Live.Sub(c.Amount)
	if err != nil {
		return engerrors.WrapInvariant(err, "live supply")
	}
	s.Deposited, s.Live = deposited, live
	vault.set(h)
	delete(l.arena, id)
	return l.check(c.Resource)
}

// Drop removes an empty container. Dropping a non-empty container would
// destroy value, so it is refused.
func (l *Ledger) Drop(id ContainerID, owner types.FrameID) error {
	c, err := l.owned(id, owner)
	if err != nil {
		return err
	}
	if !c.IsEmpty() {
		return fmt.Errorf("%w: %s", engerrors.ErrDanglingResource, c)
	}
	delete(l.arena, id)
	return nil
}

// OwnedBy lists the containers held by owner in id order.
func (l *Ledger) OwnedBy(owner types.FrameID) []ContainerID {
	var out []ContainerID
	for id, c := range l.arena {
		if c.Owner == owner {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Live is the number of containers in the arena.
func (l *Ledger) Live() int { return len(l.arena) }

// Supply returns the accounting for resource.
func (l *Ledger) Supply(resource types.EntityID) Supply {
	if s, ok := l.supply[resource]; ok {
		return *s
	}
	return Supply{}
}

// Resources lists every resource the ledger has accounted, in byte order.
func (l *Ledger) Resources() []types.EntityID {
	out := make([]types.EntityID, 0, len(l.supply))
	for id := range l.supply {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Compare(out[j]) < 0 })
	return out
}

// MintedIDs lists the non-fungible ids of resource minted so far, sorted.
func (l *Ledger) MintedIDs(resource types.EntityID) []types.NonFungibleID {
	set := l.minted[resource]
	out := make([]types.NonFungibleID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return types.SortIDs(out)
}

// Audit recomputes the live totals from the arena and checks them, and the
// conservation equation, for every resource.
func (l *Ledger) Audit() error {
	live := make(map[types.EntityID]decimal.Decimal)
	for _, c := range l.arena {
		sum, err := live[c.Resource].Add(c.Amount)
		if err != nil {
			return engerrors.WrapInvariant(err, "audit live supply")
		}
		live[c.Resource] = sum
		if c.Kind == types.ResourceNonFungible && !c.Amount.Equal(decimal.FromUint64(uint64(len(c.IDs)))) {
			return engerrors.Invariant("container %d count %s does not match %d ids", c.ID, c.Amount, len(c.IDs))
		}
	}
	for _, id := range l.Resources() {
		if got, want := live[id], l.supply[id].Live; !got.Equal(want) {
			return engerrors.Invariant("resource %s: arena holds %s, ledger tracks %s", id, got, want)
		}
		if err := l.check(id); err != nil {
			return err
		}
	}
	for id := range live {
		if _, ok := l.supply[id]; !ok {
			return engerrors.Invariant("resource %s has containers but no accounting", id)
		}
	}
	return nil
}

func (l *Ledger) check(resource types.EntityID) error {
	s := l.supply[resource]
	if s == nil {
		return engerrors.Invariant("resource %s has no accounting", resource)
	}
	held, err := s.Live.Add(s.Deposited)
	if err != nil {
		return engerrors.WrapInvariant(err, "conservation")
	}
	sourced, err := s.Minted.Add(s.Withdrawn)
	if err != nil {
		return engerrors.WrapInvariant(err, "conservation")
	}
	expected, err := sourced.Sub(s.Burned)
	if err != nil {
		return engerrors.Invariant("resource %s burned %s more than it sourced %s", resource, s.Burned, sourced)
	}
	if !held.Equal(expected) {
		return engerrors.Invariant("conservation violated for %s: live %s + deposited %s != minted %s + withdrawn %s - burned %s",
			resource, s.Live, s.Deposited, s.Minted, s.Withdrawn, s.Burned)
	}
	return nil
}

func (l *Ledger) account(resource types.EntityID) *Supply {
	s, ok := l.supply[resource]
	if !ok {
		s = &Supply{}
		l.supply[resource] = s
	}
	return s
}

func (l *Ledger) alloc(resource types.EntityID, kind types.ResourceKind, divisibility uint8, owner types.FrameID) *Container {
	l.next++
	c := &Container{ID: l.next, Resource: resource, Kind: kind, Divisibility: divisibility, Owner: owner}
	l.arena[c.ID] = c
	l.account(resource)
	return c
}

func (l *Ledger) owned(id ContainerID, owner types.FrameID) (*Container, error) {
	c, ok := l.arena[id]
	if !ok {
		return nil, fmt.Errorf("%w: container %d does not exist", engerrors.ErrInvalidArgument, id)
	}
	if c.Owner != owner {
		return nil, fmt.Errorf("%w: container %d is not owned by frame %d", engerrors.ErrInvalidArgument, id, owner)
	}
	return c, nil
}

func (c *Container) holding() *holding {
	return &holding{kind: c.Kind, divisibility: c.Divisibility, amount: c.Amount, ids: c.IDs}
}
