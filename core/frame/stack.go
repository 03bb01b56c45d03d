package frame

import (
	"fmt"

	"resengine/core/auth"
	engerrors "resengine/core/errors"
	"resengine/core/resource"
	"resengine/core/types"
)

// Locks is the part of the store transaction the stack needs.
type Locks interface {
	HasWriteLock(owner types.FrameID, entity types.EntityID) bool
	ReleaseAll(owner types.FrameID) int
}

// Stack is the array-backed call stack of one transaction. Index 0 is the
// root frame.
type Stack struct {
	frames   []*Frame
	maxDepth int
	nextID   types.FrameID
	peak     int
	ledger   *resource.Ledger
	locks    Locks
}

// NewStack allows at most maxDepth frames above the root.
func NewStack(maxDepth int, ledger *resource.Ledger, locks Locks) *Stack {
	return &Stack{maxDepth: maxDepth, ledger: ledger, locks: locks}
}

// PushRoot opens the root frame holding the transaction's auth zone.
func (s *Stack) PushRoot(zone *auth.Zone) (*Frame, error) {
	if len(s.frames) != 0 {
		return nil, engerrors.Invariant("root frame pushed onto a stack of depth %d", len(s.frames))
	}
	return s.push(Actor{}, zone, false), nil
}

// Push opens a child of the current frame. It fails with CallDepthExceeded
// past the configured depth and with ReentrancyDenied when an open ancestor
// holds a write lock on the target component, unless reentrant is set.
func (s *Stack) Push(actor Actor, zone *auth.Zone, reentrant bool) (*Frame, error) {
	if len(s.frames) == 0 {
		return nil, engerrors.Invariant("child frame pushed without a root")
	}
	if len(s.frames) > s.maxDepth {
		return nil, fmt.Errorf("%w: depth %d exceeds %d calling %s", engerrors.ErrCallDepthExceeded, len(s.frames), s.maxDepth, actor)
	}
	if !actor.Component.IsZero() && !reentrant {
		for _, ancestor := range s.frames {
			if s.locks.HasWriteLock(ancestor.ID, actor.Component) {
				return nil, fmt.Errorf("%w: %s is write-locked by %s", engerrors.ErrReentrancyDenied, actor.Component, ancestor.Actor)
			}
		}
	}
	return s.push(actor, zone, reentrant), nil
}

func (s *Stack) push(actor Actor, zone *auth.Zone, reentrant bool) *Frame {
	if zone == nil {
		zone = auth.NewZone()
	}
	s.nextID++
	f := &Frame{
		ID:        s.nextID,
		Depth:     len(s.frames),
		Actor:     actor,
		Zone:      zone,
		Reentrant: reentrant,
		parent:    len(s.frames) - 1,
		handles:   make(map[Handle]resource.ContainerID),
		created:   make(map[types.EntityID]struct{}),
	}
	s.frames = append(s.frames, f)
	if f.Depth > s.peak {
		s.peak = f.Depth
	}
	return f
}

// Current is the innermost open frame, or nil.
func (s *Stack) Current() *Frame {
	if len(s.frames) == 0 {
		return nil
	}
	return s.frames[len(s.frames)-1]
}

// Parent returns the caller of f, or nil for the root.
func (s *Stack) Parent(f *Frame) *Frame {
	if f.parent < 0 {
		return nil
	}
	return s.frames[f.parent]
}

// Depth is the number of open frames.
func (s *Stack) Depth() int { return len(s.frames) }

// PeakDepth is the deepest nesting reached so far (root is 0).
func (s *Stack) PeakDepth() int { return s.peak }

// Pop closes f, which must be the innermost frame. The containers named by
// returned move to the caller and their new handles are returned in order.
// Any other container still held must be empty; a non-empty one is a
// DanglingResource. All locks held by f are released.
func (s *Stack) Pop(f *Frame, returned []Handle) ([]Handle, error) {
	if f != s.Current() {
		return nil, engerrors.Invariant("pop of %s which is not the innermost frame", f.Actor)
	}
	if f.state != StateActive {
		return nil, engerrors.Invariant("pop of %s in state %s", f.Actor, f.state)
	}
	f.state = StateReturning
	parent := s.Parent(f)
	if parent == nil && len(returned) > 0 {
		return nil, fmt.Errorf("%w: the root frame cannot return containers", engerrors.ErrInvalidArgument)
	}

	moving := make([]resource.ContainerID, 0, len(returned))
	for _, h := range returned {
		c, err := f.Release(h)
		if err != nil {
			return nil, err
		}
		if err := s.ledger.Transfer(c, f.ID, parent.ID); err != nil {
			return nil, err
		}
		moving = append(moving, c)
	}
	for _, h := range f.Handles() {
		c, err := f.Release(h)
		if err != nil {
			return nil, err
		}
		if err := s.ledger.Drop(c, f.ID); err != nil {
			return nil, fmt.Errorf("%s left behind: %w", f.Actor, err)
		}
	}
	// Containers the frame owns without a handle would dangle as well.
	for _, c := range s.ledger.OwnedBy(f.ID) {
		if err := s.ledger.Drop(c, f.ID); err != nil {
			return nil, fmt.Errorf("%s left behind: %w", f.Actor, err)
		}
	}

	var out []Handle
	if parent != nil {
		out = make([]Handle, len(moving))
		for i, c := range moving {
			out[i] = parent.Bind(c)
		}
	}
	s.locks.ReleaseAll(f.ID)
	f.state = StateClosed
	s.frames = s.frames[:len(s.frames)-1]
	return out, nil
}

// Path describes the open frames from the root to the innermost one.
func (s *Stack) Path() []string {
	out := make([]string, len(s.frames))
	for i, f := range s.frames {
		out[i] = f.Actor.String()
	}
	return out
}

// Abort unwinds every open frame innermost first, releasing its locks. Held
// containers are abandoned with the transaction.
func (s *Stack) Abort() {
	for _, f := range s.frames {
		if f.state != StateClosed {
			f.state = StateAborting
		}
	}
	for i := len(s.frames) - 1; i >= 0; i-- {
		f := s.frames[i]
		s.locks.ReleaseAll(f.ID)
		f.state = StateClosed
	}
	s.frames = nil
}
