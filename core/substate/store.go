package substate

import (
	"errors"
	"fmt"
	"sync"

	engerrors "resengine/core/errors"
	"resengine/core/types"
	"resengine/storage"
)

// Store is the committed substate state. All mutation goes through a
// Transaction.
type Store struct {
	db storage.Database
	// commitMu makes the read-set check and batch write of a commit atomic
	// with respect to other commits on the same store.
	commitMu sync.Mutex
}

func NewStore(db storage.Database) *Store {
	return &Store{db: db}
}

// Database returns the backing key-value store.
func (s *Store) Database() storage.Database { return s.db }

// Get returns the committed substate at key.
func (s *Store) Get(key Key) (*Substate, error) {
	raw, err := s.db.Get(key.dbKey())
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: substate %s", engerrors.ErrNotFound, key)
	}
	if err != nil {
		return nil, engerrors.WrapInvariant(err, "read substate")
	}
	return decodeRecord(raw)
}

// Names lists the committed substate names of entity in byte order.
func (s *Store) Names(entity types.EntityID) ([]string, error) {
	raw, err := s.db.Keys(entityPrefix(entity))
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(raw))
	for _, k := range raw {
		if key, ok := keyFromDB(k); ok {
			names = append(names, key.Name)
		}
	}
	return names, nil
}

func (s *Store) version(key Key) (uint64, error) {
	sub, err := s.Get(key)
	if errors.Is(err, engerrors.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return sub.Version, nil
}

// OpenTransaction begins an isolated overlay.
func (s *Store) OpenTransaction() *Transaction {
	return &Transaction{
		store:  s,
		reads:  make(map[Key]uint64),
		cache:  make(map[Key]*Substate),
		writes: make(map[Key]*Substate),
		locks:  newLockTable(),
	}
}
