package host

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"resengine/core/abi"
	"resengine/core/auth"
	"resengine/core/decimal"
	engerrors "resengine/core/errors"
	"resengine/core/frame"
	"resengine/core/resource"
	"resengine/core/substate"
	"resengine/core/types"
)

func (b *Bridge) dispatch(f *frame.Frame, op abi.Op, args []byte) ([]byte, error) {
	switch op {
	case abi.OpGetActor:
		return b.encode(&abi.ActorInfo{
			Package:   f.Actor.Package,
			Component: f.Actor.Component,
			Blueprint: f.Actor.Blueprint,
			Function:  f.Actor.Function,
		})

	case abi.OpLockSubstate:
		var req abi.LockSubstateArgs
		if err := b.decode(args, &req); err != nil {
			return nil, err
		}
		h, err := b.lockSubstate(f, req)
		if err != nil {
			return nil, err
		}
		return b.encode(&abi.LockResult{Lock: uint64(h)})

	case abi.OpReadSubstate:
		var req abi.LockArgs
		if err := b.decode(args, &req); err != nil {
			return nil, err
		}
		sub, err := b.tx.ReadLocked(f.ID, substate.LockHandle(req.Lock))
		if errors.Is(err, engerrors.ErrNotFound) {
			return b.encode(&abi.SubstateValue{})
		}
		if err != nil {
			return nil, err
		}
		return b.encode(&abi.SubstateValue{Found: true, Payload: sub.Payload, Version: sub.Version})

	case abi.OpWriteSubstate:
		var req abi.WriteSubstateArgs
		if err := b.decode(args, &req); err != nil {
			return nil, err
		}
		if err := b.checkSize(len(req.Payload)); err != nil {
			return nil, err
		}
		if err := b.charge(bytesCost(b.cfg.Costs.SubstateWrite, b.cfg.Costs.PerWriteByte, len(req.Payload))); err != nil {
			return nil, err
		}
		if err := b.tx.Write(f.ID, substate.LockHandle(req.Lock), types.SubstateComponentData, req.Payload); err != nil {
			return nil, err
		}
		return b.encode(&abi.Empty{})

	case abi.OpUnlockSubstate:
		var req abi.LockArgs
		if err := b.decode(args, &req); err != nil {
			return nil, err
		}
		if err := b.tx.Unlock(f.ID, substate.LockHandle(req.Lock)); err != nil {
			return nil, err
		}
		return b.encode(&abi.Empty{})

	case abi.OpInstantiateComponent:
		var req abi.InstantiateComponentArgs
		if err := b.decode(args, &req); err != nil {
			return nil, err
		}
		id, err := b.instantiate(f, req.Blueprint, req.State)
		if err != nil {
			return nil, err
		}
		return b.encode(&abi.EntityResult{Entity: id})

	case abi.OpCreateVault:
		var req abi.CreateVaultArgs
		if err := b.decode(args, &req); err != nil {
			return nil, err
		}
		if !f.Controls(req.Owner) {
			return nil, fmt.Errorf("%w: %s cannot create vaults for %s", engerrors.ErrAuthorizationDenied, f.Actor, req.Owner)
		}
		id, err := b.createVault(f, req.Resource, req.Owner, auth.DenyAll())
		if err != nil {
			return nil, err
		}
		return b.encode(&abi.EntityResult{Entity: id})

	case abi.OpMint:
		var req abi.MintArgs
		if err := b.decode(args, &req); err != nil {
			return nil, err
		}
		c, err := b.ledger.Mint(req.Resource, req.Amount, req.IDs, f.Zone, f.ID)
		if err != nil {
			return nil, err
		}
		return b.encode(&abi.HandleResult{Handle: uint32(f.Bind(c))})

	case abi.OpBurn:
		var req abi.HandleArgs
		if err := b.decode(args, &req); err != nil {
			return nil, err
		}
		c, err := f.Resolve(frame.Handle(req.Handle))
		if err != nil {
			return nil, err
		}
		if err := b.ledger.Burn(c, f.ID); err != nil {
			return nil, err
		}
		if _, err := f.Release(frame.Handle(req.Handle)); err != nil {
			return nil, err
		}
		return b.encode(&abi.Empty{})

	case abi.OpSplit:
		var req abi.SplitArgs
		if err := b.decode(args, &req); err != nil {
			return nil, err
		}
		c, err := f.Resolve(frame.Handle(req.Handle))
		if err != nil {
			return nil, err
		}
		_, extracted, err := b.ledger.Split(c, f.ID, req.Amount, req.IDs)
		if err != nil {
			return nil, err
		}
		return b.encode(&abi.HandleResult{Handle: uint32(f.Bind(extracted))})

	case abi.OpMerge:
		var req abi.MergeArgs
		if err := b.decode(args, &req); err != nil {
			return nil, err
		}
		into, err := f.Resolve(frame.Handle(req.Into))
		if err != nil {
			return nil, err
		}
		from, err := f.Resolve(frame.Handle(req.From))
		if err != nil {
			return nil, err
		}
		if _, err := b.ledger.Merge(into, from, f.ID); err != nil {
			return nil, err
		}
		if _, err := f.Release(frame.Handle(req.From)); err != nil {
			return nil, err
		}
		return b.encode(&abi.Empty{})

	case abi.OpContainerInfo:
		var req abi.HandleArgs
		if err := b.decode(args, &req); err != nil {
			return nil, err
		}
		c, err := b.container(f, frame.Handle(req.Handle))
		if err != nil {
			return nil, err
		}
		return b.encode(&abi.ContainerInfo{Resource: c.Resource, Kind: c.Kind, Amount: c.Amount, IDs: c.IDs})

	case abi.OpWithdraw:
		var req abi.WithdrawArgs
		if err := b.decode(args, &req); err != nil {
			return nil, err
		}
		h, err := b.withdraw(f, req.Vault, req.Amount, req.IDs)
		if err != nil {
			return nil, err
		}
		return b.encode(&abi.HandleResult{Handle: uint32(h)})

	case abi.OpDeposit:
		var req abi.DepositArgs
		if err := b.decode(args, &req); err != nil {
			return nil, err
		}
		if err := b.deposit(f, req.Vault, frame.Handle(req.Handle)); err != nil {
			return nil, err
		}
		return b.encode(&abi.Empty{})

	case abi.OpVaultInfo:
		var req abi.VaultArgs
		if err := b.decode(args, &req); err != nil {
			return nil, err
		}
		v, err := resource.LoadVault(b.tx, req.Vault)
		if err != nil {
			return nil, err
		}
		if !v.IsStandalone() && !f.Controls(v.Owner) {
			return nil, fmt.Errorf("%w: %s is private to %s", engerrors.ErrAuthorizationDenied, req.Vault, v.Owner)
		}
		return b.encode(&abi.VaultInfo{Resource: v.Resource, Owner: v.Owner, Amount: v.Amount, IDs: v.IDs})

	case abi.OpCreateProof:
		var req abi.HandleArgs
		if err := b.decode(args, &req); err != nil {
			return nil, err
		}
		c, err := b.container(f, frame.Handle(req.Handle))
		if err != nil {
			return nil, err
		}
		if c.IsEmpty() {
			return nil, fmt.Errorf("%w: cannot prove an empty container", engerrors.ErrInvalidArgument)
		}
		f.Zone.Push(auth.Proof{Resource: c.Resource, Amount: c.Amount, IDs: c.IDs})
		return b.encode(&abi.Empty{})

	case abi.OpCallFunction:
		var req abi.CallFunctionArgs
		if err := b.decode(args, &req); err != nil {
			return nil, err
		}
		res, err := b.CallFunction(f, req.Package, req.Blueprint, req.Function, req.Args, toHandles(req.Handles), req.Proofs)
		if err != nil {
			return nil, err
		}
		return b.encode(&res)

	case abi.OpCallMethod:
		var req abi.CallMethodArgs
		if err := b.decode(args, &req); err != nil {
			return nil, err
		}
		res, err := b.CallMethod(f, req.Component, req.Method, req.Args, toHandles(req.Handles), req.Proofs)
		if err != nil {
			return nil, err
		}
		return b.encode(&res)

	case abi.OpEmitEvent:
		var req abi.EmitEventArgs
		if err := b.decode(args, &req); err != nil {
			return nil, err
		}
		if req.Type == "" {
			return nil, fmt.Errorf("%w: event type required", engerrors.ErrInvalidArgument)
		}
		if b.cfg.Limits.MaxEvents > 0 && len(b.events) >= b.cfg.Limits.MaxEvents {
			return nil, fmt.Errorf("%w: more than %d events", engerrors.ErrOutOfResources, b.cfg.Limits.MaxEvents)
		}
		if err := b.charge(bytesCost(b.cfg.Costs.Event, b.cfg.Costs.PerByte, len(req.Payload))); err != nil {
			return nil, err
		}
		b.events = append(b.events, types.Event{Entity: emitter(f), Type: req.Type, Payload: req.Payload})
		return b.encode(&abi.Empty{})

	case abi.OpLog:
		var req abi.LogArgs
		if err := b.decode(args, &req); err != nil {
			return nil, err
		}
		b.logs = append(b.logs, types.LogEntry{Entity: emitter(f), Level: req.Level, Message: req.Message})
		b.cfg.Logger.Debug("component log",
			slog.String("actor", f.Actor.String()),
			slog.String("level", req.Level),
			slog.String("message", req.Message))
		return b.encode(&abi.Empty{})

	case abi.OpConsumeCost:
		var req abi.ConsumeCostArgs
		if err := b.decode(args, &req); err != nil {
			return nil, err
		}
		if err := b.charge(req.Units); err != nil {
			return nil, err
		}
		return b.encode(&abi.Empty{})

	default:
		return nil, fmt.Errorf("%w: unknown host operation %d", engerrors.ErrInvalidArgument, uint32(op))
	}
}

// lockSubstate grants f a lock on one of the user substates of an entity it
// controls. System substates are reachable only through typed operations.
func (b *Bridge) lockSubstate(f *frame.Frame, req abi.LockSubstateArgs) (substate.LockHandle, error) {
	if req.Key == "" || (b.cfg.Limits.MaxKeyLength > 0 && len(req.Key) > b.cfg.Limits.MaxKeyLength) {
		return 0, fmt.Errorf("%w: substate key length %d", engerrors.ErrInvalidArgument, len(req.Key))
	}
	if strings.HasPrefix(req.Key, substate.SystemPrefix) {
		return 0, fmt.Errorf("%w: %q is a system substate", engerrors.ErrAuthorizationDenied, req.Key)
	}
	if !f.Controls(req.Entity) {
		return 0, fmt.Errorf("%w: %s may not access %s", engerrors.ErrAuthorizationDenied, f.Actor, req.Entity)
	}
	mode := substate.LockRead
	if req.Write {
		mode = substate.LockWrite
	}
	return b.tx.Lock(f.ID, substate.NewKey(req.Entity, req.Key), mode)
}

func (b *Bridge) checkSize(n int) error {
	if b.cfg.Limits.MaxSubstateSize > 0 && n > b.cfg.Limits.MaxSubstateSize {
		return fmt.Errorf("%w: substate of %d bytes exceeds %d", engerrors.ErrInvalidArgument, n, b.cfg.Limits.MaxSubstateSize)
	}
	return nil
}

func (b *Bridge) instantiate(f *frame.Frame, blueprint string, state []byte) (types.EntityID, error) {
	if f.Actor.Package.IsZero() {
		return types.EntityID{}, fmt.Errorf("%w: only package code may instantiate components", engerrors.ErrAuthorizationDenied)
	}
	pkg, err := b.loadPackage(f.Actor.Package)
	if err != nil {
		return types.EntityID{}, err
	}
	if _, ok := pkg.blueprint(blueprint); !ok {
		return types.EntityID{}, fmt.Errorf("%w: blueprint %q in %s", engerrors.ErrNotFound, blueprint, f.Actor.Package)
	}
	if err := b.checkSize(len(state)); err != nil {
		return types.EntityID{}, err
	}
	id, err := b.allocate(types.EntityComponent)
	if err != nil {
		return types.EntityID{}, err
	}
	info := &ComponentInfo{Package: f.Actor.Package, Blueprint: blueprint}
	if err := b.putSystem(f.ID, id, substate.KeyComponentInfo, types.SubstateComponentInfo, info); err != nil {
		return types.EntityID{}, err
	}
	if len(state) > 0 {
		if err := b.charge(bytesCost(b.cfg.Costs.SubstateWrite, b.cfg.Costs.PerWriteByte, len(state))); err != nil {
			return types.EntityID{}, err
		}
		if err := b.tx.Put(f.ID, substate.NewKey(id, substate.KeyState), types.SubstateComponentData, state); err != nil {
			return types.EntityID{}, err
		}
	}
	f.MarkCreated(id)
	return id, nil
}

func (b *Bridge) createVault(f *frame.Frame, res, owner types.EntityID, rule types.AccessRule) (types.EntityID, error) {
	if err := rule.Validate(); err != nil {
		return types.EntityID{}, fmt.Errorf("%w: %v", engerrors.ErrInvalidArgument, err)
	}
	def, err := b.view.Definition(res)
	if err != nil {
		return types.EntityID{}, err
	}
	id, err := b.allocate(types.EntityVault)
	if err != nil {
		return types.EntityID{}, err
	}
	if err := resource.SaveVault(b.tx, f.ID, resource.NewVault(id, def, owner, rule)); err != nil {
		return types.EntityID{}, err
	}
	return id, nil
}

// vaultFor loads a vault and checks that f may withdraw from it (withdraw
// true) or deposit into it.
func (b *Bridge) vaultFor(f *frame.Frame, id types.EntityID, withdraw bool) (*resource.Vault, error) {
	v, err := resource.LoadVault(b.tx, id)
	if err != nil {
		return nil, err
	}
	switch {
	case !v.IsStandalone():
		if !f.Controls(v.Owner) {
			return nil, fmt.Errorf("%w: %s belongs to %s", engerrors.ErrAuthorizationDenied, id, v.Owner)
		}
	case withdraw:
		if !f.Zone.Satisfies(v.WithdrawRule) {
			return nil, fmt.Errorf("%w: withdraw rule %s of %s not satisfied", engerrors.ErrAuthorizationDenied, v.WithdrawRule, id)
		}
	}
	return v, nil
}

func (b *Bridge) withdraw(f *frame.Frame, vault types.EntityID, amount decimal.Decimal, ids []types.NonFungibleID) (frame.Handle, error) {
	v, err := b.vaultFor(f, vault, true)
	if err != nil {
		return 0, err
	}
	c, err := b.ledger.Withdraw(v, amount, ids, f.ID)
	if err != nil {
		return 0, err
	}
	if err := resource.SaveVault(b.tx, f.ID, v); err != nil {
		return 0, err
	}
	return f.Bind(c), nil
}

func (b *Bridge) deposit(f *frame.Frame, vault types.EntityID, h frame.Handle) error {
	v, err := b.vaultFor(f, vault, false)
	if err != nil {
		return err
	}
	c, err := f.Resolve(h)
	if err != nil {
		return err
	}
	if err := b.ledger.Deposit(c, f.ID, v); err != nil {
		return err
	}
	if _, err := f.Release(h); err != nil {
		return err
	}
	return resource.SaveVault(b.tx, f.ID, v)
}

func (b *Bridge) container(f *frame.Frame, h frame.Handle) (resource.Container, error) {
	c, err := f.Resolve(h)
	if err != nil {
		return resource.Container{}, err
	}
	return b.ledger.Get(c, f.ID)
}

func emitter(f *frame.Frame) types.EntityID {
	if !f.Actor.Component.IsZero() {
		return f.Actor.Component
	}
	return f.Actor.Package
}

func toHandles(raw []uint32) []frame.Handle {
	out := make([]frame.Handle, len(raw))
	for i, h := range raw {
		out[i] = frame.Handle(h)
	}
	return out
}
