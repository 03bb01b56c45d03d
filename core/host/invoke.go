package host

import (
	"errors"
	"fmt"

	"resengine/core/abi"
	engerrors "resengine/core/errors"
	"resengine/core/frame"
	"resengine/core/types"
	"resengine/core/vm"
)

// CallFunction invokes a blueprint function from caller, moving the
// containers behind handles into the callee and passing the caller's proofs
// of the resources listed in proofs. Returned containers land in caller
// under the handles of the result.
func (b *Bridge) CallFunction(caller *frame.Frame, pkgID types.EntityID, blueprint, function string, args []byte, handles []frame.Handle, proofs []types.EntityID) (abi.CallResult, error) {
	pkg, err := b.loadPackage(pkgID)
	if err != nil {
		return abi.CallResult{}, b.fail(err)
	}
	schema, ok := pkg.blueprint(blueprint)
	if !ok || !schema.HasFunction(function) {
		return abi.CallResult{}, b.fail(fmt.Errorf("%w: function %s in %s", engerrors.ErrNotFound, vm.ExportName(blueprint, function), pkgID))
	}
	actor := frame.Actor{Package: pkgID, Blueprint: blueprint, Function: function}
	return b.invoke(caller, actor, schema, pkg, args, handles, proofs)
}

// CallMethod invokes method on an instantiated component.
func (b *Bridge) CallMethod(caller *frame.Frame, component types.EntityID, method string, args []byte, handles []frame.Handle, proofs []types.EntityID) (abi.CallResult, error) {
	info, err := b.loadComponent(component)
	if err != nil {
		return abi.CallResult{}, b.fail(err)
	}
	pkg, err := b.loadPackage(info.Package)
	if err != nil {
		return abi.CallResult{}, b.fail(err)
	}
	schema, ok := pkg.blueprint(info.Blueprint)
	if !ok || !schema.HasMethod(method) {
		return abi.CallResult{}, b.fail(fmt.Errorf("%w: method %s on %s", engerrors.ErrNotFound, vm.ExportName(info.Blueprint, method), component))
	}
	actor := frame.Actor{Package: info.Package, Component: component, Blueprint: info.Blueprint, Function: method}
	return b.invoke(caller, actor, schema, pkg, args, handles, proofs)
}

// invoke pushes a frame for actor and runs its code. The callee's auth zone
// holds only the proofs the caller passed, and must satisfy the blueprint's
// rule for the export. On failure the callee frame stays on the stack so the
// failing path can be reported; the caller aborts the whole stack.
func (b *Bridge) invoke(caller *frame.Frame, actor frame.Actor, schema types.BlueprintSchema, pkg *Package, args []byte, handles []frame.Handle, proofs []types.EntityID) (abi.CallResult, error) {
	if b.fault != nil {
		return abi.CallResult{}, b.fault
	}
	if err := b.charge(bytesCost(b.cfg.Costs.Invoke, b.cfg.Costs.PerByte, len(args))); err != nil {
		return abi.CallResult{}, err
	}
	runtime, ok := b.cfg.Runtimes[pkg.Runtime]
	if !ok {
		return abi.CallResult{}, b.fail(fmt.Errorf("%w: runtime %q", engerrors.ErrNotFound, pkg.Runtime))
	}
	zone, err := caller.Zone.Select(proofs)
	if err != nil {
		return abi.CallResult{}, b.fail(err)
	}
	if !zone.Satisfies(schema.Rule(actor.Function)) {
		return abi.CallResult{}, b.fail(fmt.Errorf("%w: %s rejects the passed proofs", engerrors.ErrAuthorizationDenied, vm.ExportName(actor.Blueprint, actor.Function)))
	}
	callee, err := b.stack.Push(actor, zone, schema.Reentrant)
	if err != nil {
		return abi.CallResult{}, b.fail(err)
	}
	passed := make([]uint32, 0, len(handles))
	for _, h := range handles {
		c, err := caller.Release(h)
		if err != nil {
			return abi.CallResult{}, b.fail(err)
		}
		if err := b.ledger.Transfer(c, caller.ID, callee.ID); err != nil {
			return abi.CallResult{}, b.fail(err)
		}
		passed = append(passed, uint32(callee.Bind(c)))
	}
	input, err := b.encode(&abi.Input{Args: args, Handles: passed})
	if err != nil {
		return abi.CallResult{}, b.fail(err)
	}

	raw, err := runtime.Invoke(b.ctx, pkg.Code, vm.ExportName(actor.Blueprint, actor.Function), input, b.meter.Remaining(), &trampoline{b: b, f: callee})
	if b.fault != nil {
		return abi.CallResult{}, b.fault
	}
	if err != nil {
		if errors.Is(err, engerrors.ErrOutOfResources) {
			b.meter.Exhaust()
		}
		return abi.CallResult{}, b.fail(err)
	}
	var out abi.Output
	if err := b.decode(raw, &out); err != nil {
		return abi.CallResult{}, b.fail(fmt.Errorf("output of %s: %w", actor, err))
	}
	moved, err := b.stack.Pop(callee, toHandles(out.Handles))
	if err != nil {
		return abi.CallResult{}, b.fail(err)
	}
	result := abi.CallResult{Output: out.Output, Handles: make([]uint32, len(moved))}
	for i, h := range moved {
		result.Handles[i] = uint32(h)
	}
	return result, nil
}
