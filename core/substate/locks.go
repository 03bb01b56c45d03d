package substate

import (
	"fmt"

	engerrors "resengine/core/errors"
	"resengine/core/types"
)

// LockMode is either shared (Read) or exclusive (Write).
type LockMode uint8

const (
	LockRead LockMode = iota + 1
	LockWrite
)

func (m LockMode) String() string {
	switch m {
	case LockRead:
		return "read"
	case LockWrite:
		return "write"
	default:
		return "unknown"
	}
}

// LockHandle identifies one granted lock. Zero is never issued.
type LockHandle uint64

// Lock describes a granted lock.
type Lock struct {
	Owner types.FrameID
	Key   Key
	Mode  LockMode
}

type keyHolders struct {
	readers map[types.FrameID]int
	writers map[types.FrameID]int
}

func (h *keyHolders) empty() bool { return len(h.readers) == 0 && len(h.writers) == 0 }

// lockTable grants frame-scoped locks. A frame may hold several locks on the
// same key; conflicts are only checked against other frames. Requests never
// wait: a conflict fails immediately.
type lockTable struct {
	next    LockHandle
	handles map[LockHandle]Lock
	keys    map[Key]*keyHolders
}

func newLockTable() *lockTable {
	return &lockTable{
		handles: make(map[LockHandle]Lock),
		keys:    make(map[Key]*keyHolders),
	}
}

func (t *lockTable) acquire(owner types.FrameID, key Key, mode LockMode) (LockHandle, error) {
	if mode != LockRead && mode != LockWrite {
		return 0, fmt.Errorf("%w: lock mode %d", engerrors.ErrInvalidArgument, mode)
	}
	holders := t.keys[key]
	if holders == nil {
		holders = &keyHolders{readers: map[types.FrameID]int{}, writers: map[types.FrameID]int{}}
		t.keys[key] = holders
	}
	if other, ok := otherHolder(holders.writers, owner); ok {
		return 0, fmt.Errorf("%w: %s is write-locked by frame %d", engerrors.ErrConflict, key, other)
	}
	if mode == LockWrite {
		if other, ok := otherHolder(holders.readers, owner); ok {
			return 0, fmt.Errorf("%w: %s is read-locked by frame %d", engerrors.ErrConflict, key, other)
		}
		holders.writers[owner]++
	} else {
		holders.readers[owner]++
	}
	t.next++
	t.handles[t.next] = Lock{Owner: owner, Key: key, Mode: mode}
	return t.next, nil
}

// otherHolder returns the lowest frame id other than owner, for a stable
// error message.
func otherHolder(holders map[types.FrameID]int, owner types.FrameID) (types.FrameID, bool) {
	var (
		found  bool
		lowest types.FrameID
	)
	for id := range holders {
		if id == owner {
			continue
		}
		if !found || id < lowest {
			lowest, found = id, true
		}
	}
	return lowest, found
}

func (t *lockTable) lookup(owner types.FrameID, h LockHandle) (Lock, error) {
	lock, ok := t.handles[h]
	if !ok || lock.Owner != owner {
		return Lock{}, fmt.Errorf("%w: lock handle %d not held by frame %d", engerrors.ErrInvalidArgument, h, owner)
	}
	return lock, nil
}

func (t *lockTable) release(h LockHandle) {
	lock, ok := t.handles[h]
	if !ok {
		return
	}
	delete(t.handles, h)
	holders := t.keys[lock.Key]
	counts := holders.readers
	if lock.Mode == LockWrite {
		counts = holders.writers
	}
	if counts[lock.Owner]--; counts[lock.Owner] <= 0 {
		delete(counts, lock.Owner)
	}
	if holders.empty() {
		delete(t.keys, lock.Key)
	}
}

func (t *lockTable) releaseOwner(owner types.FrameID) int {
	released := 0
	for h, lock := range t.handles {
		if lock.Owner == owner {
			t.release(h)
			released++
		}
	}
	return released
}

func (t *lockTable) holdsWrite(owner types.FrameID, entity types.EntityID) bool {
	for key, holders := range t.keys {
		if key.Entity == entity && holders.writers[owner] > 0 {
			return true
		}
	}
	return false
}

func (t *lockTable) held() int { return len(t.handles) }
