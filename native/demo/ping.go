package demo

import (
	"resengine/core/abi"
	"resengine/core/decimal"
	"resengine/core/types"
	"resengine/core/vm"
)

// PingState counts how often a Ping component was pinged.
type PingState struct {
	Hits uint64
}

// PingArgs asks the receiver to call Method back on Target.
type PingArgs struct {
	Target types.EntityID
	Method string
}

func pingNew(g *vm.Guest, _ abi.Input) (abi.Output, error) {
	actor, err := g.Actor()
	if err != nil {
		return abi.Output{}, err
	}
	id, err := g.Instantiate(actor.Blueprint, &PingState{})
	if err != nil {
		return abi.Output{}, err
	}
	return encodeOutput(g, &id)
}

// pingPing write-locks its own state, then asks Target to pong back while
// the lock is held.
func pingPing(g *vm.Guest, in abi.Input) (abi.Output, error) {
	var args PingArgs
	if err := g.Decode(in.Args, &args); err != nil {
		return abi.Output{}, err
	}
	actor, err := g.Actor()
	if err != nil {
		return abi.Output{}, err
	}
	var st PingState
	lock, err := g.LoadState(actor.Component, &st)
	if err != nil {
		return abi.Output{}, err
	}
	st.Hits++
	if !args.Target.IsZero() {
		back, err := g.Encode(&PingArgs{Target: actor.Component, Method: args.Method})
		if err != nil {
			return abi.Output{}, err
		}
		if _, err := g.CallMethod(args.Target, "pong", back); err != nil {
			return abi.Output{}, err
		}
	}
	if err := g.SaveState(lock, &st); err != nil {
		return abi.Output{}, err
	}
	return encodeOutput(g, st.Hits)
}

func pingPong(g *vm.Guest, in abi.Input) (abi.Output, error) {
	var args PingArgs
	if err := g.Decode(in.Args, &args); err != nil {
		return abi.Output{}, err
	}
	next, err := g.Encode(&PingArgs{})
	if err != nil {
		return abi.Output{}, err
	}
	res, err := g.CallMethod(args.Target, args.Method, next)
	if err != nil {
		return abi.Output{}, err
	}
	return abi.Output{Output: res.Output}, nil
}

func pingTouch(g *vm.Guest, _ abi.Input) (abi.Output, error) {
	if err := g.EmitEvent("ping.touched", nil); err != nil {
		return abi.Output{}, err
	}
	return abi.Output{}, nil
}

func pingHits(g *vm.Guest, _ abi.Input) (abi.Output, error) {
	actor, err := g.Actor()
	if err != nil {
		return abi.Output{}, err
	}
	var st PingState
	if err := readState(g, actor.Component, &st); err != nil {
		return abi.Output{}, err
	}
	return encodeOutput(g, st.Hits)
}

// leakyLeak splits one unit off its input and returns only the remainder.
func leakyLeak(g *vm.Guest, in abi.Input) (abi.Output, error) {
	if len(in.Handles) == 0 {
		return abi.Output{}, nil
	}
	if _, err := g.Split(in.Handles[0], decimal.FromUint64(1), nil); err != nil {
		return abi.Output{}, err
	}
	return abi.Output{Handles: in.Handles[:1]}, nil
}

// leakySwallow ignores a failed burn and returns as if nothing happened.
func leakySwallow(g *vm.Guest, in abi.Input) (abi.Output, error) {
	for _, h := range in.Handles {
		_ = g.Burn(h)
	}
	return abi.Output{Handles: in.Handles}, nil
}

// leakySpin burns cost until the budget runs out.
func leakySpin(g *vm.Guest, _ abi.Input) (abi.Output, error) {
	for {
		if err := g.ConsumeCost(1000); err != nil {
			return abi.Output{}, err
		}
	}
}

// leakyDive calls itself until the stack refuses another frame.
func leakyDive(g *vm.Guest, _ abi.Input) (abi.Output, error) {
	actor, err := g.Actor()
	if err != nil {
		return abi.Output{}, err
	}
	if _, err := g.CallFunction(actor.Package, actor.Blueprint, "dive", nil); err != nil {
		return abi.Output{}, err
	}
	return abi.Output{}, nil
}

func leakyCrash(*vm.Guest, abi.Input) (abi.Output, error) {
	panic("demo: crash requested")
}
