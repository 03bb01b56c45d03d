package host

import (
	"fmt"
	"sort"

	"resengine/core/decimal"
	engerrors "resengine/core/errors"
	"resengine/core/frame"
	"resengine/core/resource"
	"resengine/core/substate"
	"resengine/core/types"
	"resengine/core/vm"
)

// The root frame's containers form the worktop. Instructions move value
// between the worktop, vaults and invoked components.

// Apply runs one transaction instruction in the root frame. The returned
// bytes are the instruction's output: the callee output for calls, the
// encoded id for entity-creating instructions and nil otherwise.
func (b *Bridge) Apply(ins types.Instruction) ([]byte, error) {
	if b.fault != nil {
		return nil, b.fault
	}
	if b.root == nil || b.stack.Current() != b.root {
		return nil, engerrors.Invariant("instruction %s outside the root frame", ins.Op)
	}
	if err := b.charge(b.cfg.Costs.Instruction); err != nil {
		return nil, err
	}
	if err := ins.Validate(); err != nil {
		return nil, b.fail(fmt.Errorf("%w: %s: %v", engerrors.ErrInvalidArgument, ins.Op, err))
	}
	out, err := b.apply(ins)
	if err != nil {
		return nil, b.fail(err)
	}
	return out, nil
}

func (b *Bridge) apply(ins types.Instruction) ([]byte, error) {
	root := b.root
	switch ins.Op {
	case types.InstructionPublishPackage:
		id, err := b.publish(ins.Package)
		if err != nil {
			return nil, err
		}
		return id.Bytes(), nil

	case types.InstructionNewResource:
		id, err := b.newResource(ins.Definition)
		if err != nil {
			return nil, err
		}
		return id.Bytes(), nil

	case types.InstructionCreateVault:
		id, err := b.createVault(root, ins.Resource, types.EntityID{}, ins.Rule)
		if err != nil {
			return nil, err
		}
		return id.Bytes(), nil

	case types.InstructionMint:
		c, err := b.ledger.Mint(ins.Resource, ins.Amount, ins.IDs, root.Zone, root.ID)
		if err != nil {
			return nil, err
		}
		root.Bind(c)
		return nil, nil

	case types.InstructionBurn:
		c, err := b.take(ins.Resource, ins.Amount, ins.IDs)
		if err != nil {
			return nil, err
		}
		return nil, b.ledger.Burn(c, root.ID)

	case types.InstructionWithdraw:
		_, err := b.withdraw(root, ins.Entity, ins.Amount, ins.IDs)
		return nil, err

	case types.InstructionDeposit:
		h, err := b.gather(ins.Resource)
		if err != nil {
			return nil, err
		}
		return nil, b.deposit(root, ins.Entity, h)

	case types.InstructionCallFunction:
		handles, err := b.buckets(ins.Buckets)
		if err != nil {
			return nil, err
		}
		res, err := b.CallFunction(root, ins.Entity, ins.Blueprint, ins.Function, ins.Args, handles, ins.Proofs)
		return res.Output, err

	case types.InstructionCallMethod:
		handles, err := b.buckets(ins.Buckets)
		if err != nil {
			return nil, err
		}
		res, err := b.CallMethod(root, ins.Entity, ins.Function, ins.Args, handles, ins.Proofs)
		return res.Output, err

	case types.InstructionAssertWorktop:
		return nil, b.assertWorktop(ins.Resource, ins.Amount, ins.IDs)

	case types.InstructionDepositAll:
		created, err := b.depositAll(ins.Vaults, ins.Rule)
		if err != nil {
			return nil, err
		}
		return b.encode(&created)

	default:
		return nil, fmt.Errorf("%w: unknown instruction %s", engerrors.ErrInvalidArgument, ins.Op)
	}
}

func (b *Bridge) publish(spec types.PackageSpec) (types.EntityID, error) {
	runtime, ok := b.cfg.Runtimes[spec.Runtime]
	if !ok {
		return types.EntityID{}, fmt.Errorf("%w: runtime %q", engerrors.ErrNotFound, spec.Runtime)
	}
	if v, ok := runtime.(vm.Validator); ok {
		if err := v.Validate(b.ctx, spec.Code); err != nil {
			return types.EntityID{}, err
		}
	}
	if err := b.charge(bytesCost(0, b.cfg.Costs.PerWriteByte, len(spec.Code))); err != nil {
		return types.EntityID{}, err
	}
	id, err := b.allocate(types.EntityPackage)
	if err != nil {
		return types.EntityID{}, err
	}
	if err := b.putSystem(b.root.ID, id, substate.KeyPackage, types.SubstatePackage, newPackage(spec)); err != nil {
		return types.EntityID{}, err
	}
	return id, nil
}

func (b *Bridge) newResource(spec types.ResourceSpec) (types.EntityID, error) {
	id, err := b.allocate(types.EntityResource)
	if err != nil {
		return types.EntityID{}, err
	}
	def := resource.NewDefinition(id, spec)
	if err := b.view.Save(b.root.ID, def); err != nil {
		return types.EntityID{}, err
	}
	if spec.InitialSupply.IsZero() && len(spec.InitialIDs) == 0 {
		return id, nil
	}
	c, err := b.ledger.MintInitial(def, spec.InitialSupply, spec.InitialIDs, b.root.ID)
	if err != nil {
		return types.EntityID{}, err
	}
	b.root.Bind(c)
	return id, nil
}

// worktop lists the root handles holding res, in handle order.
func (b *Bridge) worktop(res types.EntityID) ([]frame.Handle, []resource.Container, error) {
	var (
		handles    []frame.Handle
		containers []resource.Container
	)
	for _, h := range b.root.Handles() {
		c, err := b.container(b.root, h)
		if err != nil {
			return nil, nil, err
		}
		if c.Resource == res {
			handles = append(handles, h)
			containers = append(containers, c)
		}
	}
	return handles, containers, nil
}

// gather merges every worktop container of res into one and returns its
// handle.
func (b *Bridge) gather(res types.EntityID) (frame.Handle, error) {
	handles, containers, err := b.worktop(res)
	if err != nil {
		return 0, err
	}
	if len(handles) == 0 {
		return 0, fmt.Errorf("%w: no %s on the worktop", engerrors.ErrInsufficientResource, res)
	}
	into := containers[0].ID
	for i := 1; i < len(handles); i++ {
		if _, err := b.ledger.Merge(into, containers[i].ID, b.root.ID); err != nil {
			return 0, err
		}
		if _, err := b.root.Release(handles[i]); err != nil {
			return 0, err
		}
	}
	return handles[0], nil
}

// buckets gathers one worktop container per listed resource.
func (b *Bridge) buckets(resources []types.EntityID) ([]frame.Handle, error) {
	handles := make([]frame.Handle, 0, len(resources))
	for _, res := range resources {
		h, err := b.gather(res)
		if err != nil {
			return nil, err
		}
		handles = append(handles, h)
	}
	return handles, nil
}

// take splits the requested quantity of res off the worktop. The extracted
// container is owned by the root but not bound to a handle.
func (b *Bridge) take(res types.EntityID, amount decimal.Decimal, ids []types.NonFungibleID) (resource.ContainerID, error) {
	h, err := b.gather(res)
	if err != nil {
		return 0, err
	}
	c, err := b.root.Resolve(h)
	if err != nil {
		return 0, err
	}
	_, extracted, err := b.ledger.Split(c, b.root.ID, amount, ids)
	return extracted, err
}

// depositAll empties the worktop. Each resource goes into the listed vault
// holding it; resources without one get a new standalone vault guarded by
// rule. It returns the created vaults in resource order.
func (b *Bridge) depositAll(vaults []types.EntityID, rule types.AccessRule) ([]types.EntityID, error) {
	targets := make(map[types.EntityID]types.EntityID, len(vaults))
	for _, id := range vaults {
		v, err := b.vaultFor(b.root, id, false)
		if err != nil {
			return nil, err
		}
		if prev, dup := targets[v.Resource]; dup {
			return nil, fmt.Errorf("%w: %s and %s both hold %s", engerrors.ErrInvalidArgument, prev, id, v.Resource)
		}
		targets[v.Resource] = id
	}
	var resources []types.EntityID
	seen := make(map[types.EntityID]struct{})
	for _, h := range b.root.Handles() {
		c, err := b.container(b.root, h)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[c.Resource]; !ok {
			seen[c.Resource] = struct{}{}
			resources = append(resources, c.Resource)
		}
	}
	sort.Slice(resources, func(i, j int) bool { return resources[i].Compare(resources[j]) < 0 })

	var created []types.EntityID
	for _, res := range resources {
		vault, ok := targets[res]
		if !ok {
			id, err := b.createVault(b.root, res, types.EntityID{}, rule)
			if err != nil {
				return nil, err
			}
			created = append(created, id)
			vault = id
		}
		h, err := b.gather(res)
		if err != nil {
			return nil, err
		}
		if err := b.deposit(b.root, vault, h); err != nil {
			return nil, err
		}
	}
	return created, nil
}

func (b *Bridge) assertWorktop(res types.EntityID, amount decimal.Decimal, ids []types.NonFungibleID) error {
	_, containers, err := b.worktop(res)
	if err != nil {
		return err
	}
	total := decimal.Zero()
	held := make(map[types.NonFungibleID]struct{})
	for _, c := range containers {
		if total, err = total.Add(c.Amount); err != nil {
			return engerrors.WrapInvariant(err, "worktop total")
		}
		for _, id := range c.IDs {
			held[id] = struct{}{}
		}
	}
	if total.Cmp(amount) < 0 {
		return fmt.Errorf("%w: worktop holds %s of %s, expected %s", engerrors.ErrInsufficientResource, total, res, amount)
	}
	for _, id := range ids {
		if _, ok := held[id]; !ok {
			return fmt.Errorf("%w: %s %q not on the worktop", engerrors.ErrInsufficientResource, res, id)
		}
	}
	return nil
}
