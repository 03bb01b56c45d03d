package frame

import (
	"fmt"
	"sort"

	"resengine/core/auth"
	engerrors "resengine/core/errors"
	"resengine/core/resource"
	"resengine/core/types"
)

// State is the lifecycle position of a frame.
type State uint8

const (
	StateActive State = iota
	StateReturning
	StateAborting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateReturning:
		return "returning"
	case StateAborting:
		return "aborting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Handle is a frame-local name for a container. Handles are never reused
// within a frame, so a handle that was moved away stays invalid.
type Handle uint32

// Actor identifies what a frame is executing.
type Actor struct {
	Package types.EntityID
	// Component is zero for blueprint function calls and for the root frame.
	Component types.EntityID
	Blueprint string
	Function  string
}

func (a Actor) String() string {
	if a.Package.IsZero() {
		return "transaction"
	}
	if a.Component.IsZero() {
		return fmt.Sprintf("%s::%s", a.Blueprint, a.Function)
	}
	return fmt.Sprintf("%s::%s@%s", a.Blueprint, a.Function, a.Component)
}

// Frame is one active invocation.
type Frame struct {
	ID        types.FrameID
	Depth     int
	Actor     Actor
	Zone      *auth.Zone
	Reentrant bool

	parent     int
	state      State
	handles    map[Handle]resource.ContainerID
	nextHandle Handle
	created    map[types.EntityID]struct{}
}

func (f *Frame) State() State { return f.state }

// Bind names container c in this frame.
func (f *Frame) Bind(c resource.ContainerID) Handle {
	f.nextHandle++
	f.handles[f.nextHandle] = c
	return f.nextHandle
}

// Resolve returns the container behind h.
func (f *Frame) Resolve(h Handle) (resource.ContainerID, error) {
	c, ok := f.handles[h]
	if !ok {
		return 0, fmt.Errorf("%w: handle %d is not valid in %s", engerrors.ErrInvalidArgument, h, f.Actor)
	}
	return c, nil
}

// Release removes h and returns the container it named.
func (f *Frame) Release(h Handle) (resource.ContainerID, error) {
	c, err := f.Resolve(h)
	if err != nil {
		return 0, err
	}
	delete(f.handles, h)
	return c, nil
}

// Handles lists the live handles in ascending order.
func (f *Frame) Handles() []Handle {
	out := make([]Handle, 0, len(f.handles))
	for h := range f.handles {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// MarkCreated records an entity instantiated by this frame. The frame may
// manage it (lock its substates, create its vaults) until it returns.
func (f *Frame) MarkCreated(entity types.EntityID) {
	f.created[entity] = struct{}{}
}

// Controls reports whether the frame may act on behalf of entity: it is the
// frame's own component or one the frame instantiated.
func (f *Frame) Controls(entity types.EntityID) bool {
	if entity.IsZero() {
		return false
	}
	if entity == f.Actor.Component {
		return true
	}
	_, ok := f.created[entity]
	return ok
}
