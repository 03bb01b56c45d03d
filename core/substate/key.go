package substate

import (
	"bytes"
	"fmt"
	"strings"

	"resengine/core/types"
)

// System substate names start with SystemPrefix; only the engine may lock them.
const SystemPrefix = "$"

const (
	KeyPackage       = "$package"
	KeyResource      = "$resource"
	KeyVault         = "$vault"
	KeyComponentInfo = "$info"
	// KeyState is the conventional name of a component's primary state.
	KeyState = "state"
)

// NonFungibleKey names the marker substate recording that id was minted.
func NonFungibleKey(id types.NonFungibleID) string {
	return "$nf/" + string(id)
}

var dbPrefix = []byte("substate:")

// Key addresses one substate.
type Key struct {
	Entity types.EntityID
	Name   string
}

func NewKey(entity types.EntityID, name string) Key {
	return Key{Entity: entity, Name: name}
}

func (k Key) IsSystem() bool { return strings.HasPrefix(k.Name, SystemPrefix) }

func (k Key) String() string { return fmt.Sprintf("%s/%s", k.Entity, k.Name) }

// Compare orders keys by entity, then name.
func (k Key) Compare(other Key) int {
	if c := k.Entity.Compare(other.Entity); c != 0 {
		return c
	}
	return strings.Compare(k.Name, other.Name)
}

func (k Key) dbKey() []byte {
	out := make([]byte, 0, len(dbPrefix)+types.EntityIDLength+len(k.Name))
	out = append(out, dbPrefix...)
	out = append(out, k.Entity[:]...)
	return append(out, k.Name...)
}

func entityPrefix(entity types.EntityID) []byte {
	return append(append([]byte(nil), dbPrefix...), entity[:]...)
}

func keyFromDB(raw []byte) (Key, bool) {
	if !bytes.HasPrefix(raw, dbPrefix) || len(raw) < len(dbPrefix)+types.EntityIDLength {
		return Key{}, false
	}
	var k Key
	copy(k.Entity[:], raw[len(dbPrefix):])
	k.Name = string(raw[len(dbPrefix)+types.EntityIDLength:])
	return k, true
}
