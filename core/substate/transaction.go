package substate

import (
	"errors"
	"fmt"
	"sort"

	engerrors "resengine/core/errors"
	"resengine/core/types"
)

var errClosed = errors.New("substate: transaction already closed")

// Transaction overlays a write log and a read set on the committed store.
// It is not safe for concurrent use; the engine drives it from one goroutine.
type Transaction struct {
	store *Store
	// reads holds the committed version observed for every touched key
	// (zero when absent).
	reads  map[Key]uint64
	cache  map[Key]*Substate
	writes map[Key]*Substate
	locks  *lockTable
	closed bool
}

func (tx *Transaction) base(key Key) (*Substate, error) {
	if sub, ok := tx.cache[key]; ok {
		return sub, nil
	}
	sub, err := tx.store.Get(key)
	if errors.Is(err, engerrors.ErrNotFound) {
		sub, err = nil, nil
	}
	if err != nil {
		return nil, err
	}
	tx.cache[key] = sub
	if sub != nil {
		tx.reads[key] = sub.Version
	} else {
		tx.reads[key] = 0
	}
	return sub, nil
}

// Read returns the substate at key as seen by this transaction: the pending
// write if there is one, otherwise the committed value. The committed version
// is recorded in the read set.
func (tx *Transaction) Read(key Key) (*Substate, error) {
	if tx.closed {
		return nil, errClosed
	}
	committed, err := tx.base(key)
	if err != nil {
		return nil, err
	}
	if pending, ok := tx.writes[key]; ok {
		return pending.clone(), nil
	}
	if committed == nil {
		return nil, fmt.Errorf("%w: substate %s", engerrors.ErrNotFound, key)
	}
	return committed.clone(), nil
}

// Exists reports whether key has a committed or pending value.
func (tx *Transaction) Exists(key Key) (bool, error) {
	_, err := tx.Read(key)
	if errors.Is(err, engerrors.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Lock grants owner a lock on key. Write locks are exclusive across frames,
// read locks are shared among frames that do not hold a write lock.
func (tx *Transaction) Lock(owner types.FrameID, key Key, mode LockMode) (LockHandle, error) {
	if tx.closed {
		return 0, errClosed
	}
	h, err := tx.locks.acquire(owner, key, mode)
	if err != nil {
		return 0, err
	}
	if _, err := tx.base(key); err != nil {
		tx.locks.release(h)
		return 0, err
	}
	return h, nil
}

// LockInfo returns the lock behind h if owner holds it.
func (tx *Transaction) LockInfo(owner types.FrameID, h LockHandle) (Lock, error) {
	return tx.locks.lookup(owner, h)
}

// ReadLocked reads the substate guarded by h.
func (tx *Transaction) ReadLocked(owner types.FrameID, h LockHandle) (*Substate, error) {
	lock, err := tx.locks.lookup(owner, h)
	if err != nil {
		return nil, err
	}
	return tx.Read(lock.Key)
}

// Write stages a whole-payload replacement of the substate guarded by h,
// which must be a write lock held by owner.
func (tx *Transaction) Write(owner types.FrameID, h LockHandle, typ types.SubstateType, payload []byte) error {
	if tx.closed {
		return errClosed
	}
	lock, err := tx.locks.lookup(owner, h)
	if err != nil {
		return err
	}
	if lock.Mode != LockWrite {
		return fmt.Errorf("%w: %s is locked for reading only", engerrors.ErrInvalidArgument, lock.Key)
	}
	if len(payload) == 0 {
		return fmt.Errorf("%w: empty payload for %s", engerrors.ErrInvalidArgument, lock.Key)
	}
	tx.writes[lock.Key] = &Substate{
		Type:    typ,
		Payload: append([]byte(nil), payload...),
		Version: tx.reads[lock.Key],
	}
	return nil
}

// Put writes key under a lock that is released again before returning. The
// lock is still owned by owner, so the write conflicts with locks held by any
// other frame.
func (tx *Transaction) Put(owner types.FrameID, key Key, typ types.SubstateType, payload []byte) error {
	h, err := tx.Lock(owner, key, LockWrite)
	if err != nil {
		return err
	}
	defer tx.locks.release(h)
	return tx.Write(owner, h, typ, payload)
}

// Unlock releases h.
func (tx *Transaction) Unlock(owner types.FrameID, h LockHandle) error {
	if _, err := tx.locks.lookup(owner, h); err != nil {
		return err
	}
	tx.locks.release(h)
	return nil
}

// ReleaseAll drops every lock owner holds and returns how many there were.
func (tx *Transaction) ReleaseAll(owner types.FrameID) int {
	return tx.locks.releaseOwner(owner)
}

// HasWriteLock reports whether owner holds a write lock on any substate of
// entity.
func (tx *Transaction) HasWriteLock(owner types.FrameID, entity types.EntityID) bool {
	return tx.locks.holdsWrite(owner, entity)
}

// HeldLocks is the number of outstanding lock handles.
func (tx *Transaction) HeldLocks() int { return tx.locks.held() }

// Diff lists the staged writes ordered by entity, then key.
func (tx *Transaction) Diff() []types.DiffEntry {
	keys := make([]Key, 0, len(tx.writes))
	for key := range tx.writes {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Compare(keys[j]) < 0 })
	diff := make([]types.DiffEntry, len(keys))
	for i, key := range keys {
		w := tx.writes[key]
		old := tx.reads[key]
		diff[i] = types.DiffEntry{
			Entity:     key.Entity,
			Key:        key.Name,
			Type:       w.Type,
			OldVersion: old,
			NewVersion: old + 1,
			Payload:    append([]byte(nil), w.Payload...),
		}
	}
	return diff
}

// Commit validates the read set and applies the write log in one batch. A
// stale read fails with ErrConflict and nothing is written.
func (tx *Transaction) Commit() ([]types.DiffEntry, error) {
	if tx.closed {
		return nil, errClosed
	}
	tx.store.commitMu.Lock()
	defer tx.store.commitMu.Unlock()

	keys := make([]Key, 0, len(tx.reads))
	for key := range tx.reads {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Compare(keys[j]) < 0 })
	for _, key := range keys {
		current, err := tx.store.version(key)
		if err != nil {
			return nil, err
		}
		if current != tx.reads[key] {
			return nil, fmt.Errorf("%w: %s changed from version %d to %d", engerrors.ErrConflict, key, tx.reads[key], current)
		}
	}

	diff := tx.Diff()
	batch := tx.store.db.NewBatch()
	for _, entry := range diff {
		key := Key{Entity: entry.Entity, Name: entry.Key}
		raw, err := encodeRecord(&Substate{Type: entry.Type, Payload: entry.Payload, Version: entry.NewVersion})
		if err != nil {
			return nil, engerrors.WrapInvariant(err, "encode substate record")
		}
		batch.Put(key.dbKey(), raw)
	}
	if batch.Len() > 0 {
		if err := batch.Write(); err != nil {
			return nil, engerrors.WrapInvariant(err, "write substate batch")
		}
	}
	tx.close()
	return diff, nil
}

// Discard drops every staged write and lock. The store is untouched.
func (tx *Transaction) Discard() {
	tx.close()
}

func (tx *Transaction) close() {
	tx.closed = true
	tx.writes = make(map[Key]*Substate)
	tx.locks = newLockTable()
}
