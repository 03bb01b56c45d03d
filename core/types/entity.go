package types

import (
	"bytes"
	"encoding/binary"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"resengine/crypto"
)

// EntityKind is the leading byte of every entity id.
type EntityKind byte

const (
	EntityUnknown   EntityKind = 0x00
	EntityPackage   EntityKind = 0x01
	EntityComponent EntityKind = 0x02
	EntityResource  EntityKind = 0x03
	EntityVault     EntityKind = 0x04
)

func (k EntityKind) String() string {
	switch k {
	case EntityPackage:
		return "package"
	case EntityComponent:
		return "component"
	case EntityResource:
		return "resource"
	case EntityVault:
		return "vault"
	default:
		return "unknown"
	}
}

// hrp is the bech32 human-readable part of the kind's addresses.
func (k EntityKind) hrp() string {
	switch k {
	case EntityPackage, EntityComponent, EntityResource, EntityVault:
		return k.String()
	default:
		return ""
	}
}

// EntityIDLength is the kind byte plus a 20-byte body.
const EntityIDLength = 21

// EntityID addresses a package, component, resource or vault.
type EntityID [EntityIDLength]byte

// DeriveEntityID returns the id of the n-th entity of kind allocated by the
// transaction with the given hash. Allocation is deterministic so independent
// nodes assign identical ids.
func DeriveEntityID(kind EntityKind, txHash []byte, n uint32) EntityID {
	var counter [4]byte
	binary.BigEndian.PutUint32(counter[:], n)
	digest := ethcrypto.Keccak256([]byte{byte(kind)}, txHash, counter[:])
	var id EntityID
	id[0] = byte(kind)
	copy(id[1:], digest[:EntityIDLength-1])
	return id
}

// SystemEntityID builds a well-known id whose body is the given short tag.
func SystemEntityID(kind EntityKind, tag string) EntityID {
	var id EntityID
	id[0] = byte(kind)
	copy(id[1:], ethcrypto.Keccak256([]byte("system:"+tag))[:EntityIDLength-1])
	return id
}

func (id EntityID) Kind() EntityKind { return EntityKind(id[0]) }

func (id EntityID) IsZero() bool { return id == EntityID{} }

func (id EntityID) Bytes() []byte { return append([]byte(nil), id[:]...) }

// Compare orders ids bytewise; used wherever deterministic ordering is needed.
func (id EntityID) Compare(other EntityID) int {
	return bytes.Compare(id[:], other[:])
}

func (id EntityID) String() string {
	if id.IsZero() {
		return "<none>"
	}
	hrp := id.Kind().hrp()
	if hrp == "" {
		return fmt.Sprintf("entity:%x", id[:])
	}
	s, err := crypto.EncodeBech32(hrp, id[1:])
	if err != nil {
		return fmt.Sprintf("entity:%x", id[:])
	}
	return s
}

func (id EntityID) MarshalText() ([]byte, error) {
	if id.IsZero() {
		return []byte{}, nil
	}
	return []byte(id.String()), nil
}

func (id *EntityID) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*id = EntityID{}
		return nil
	}
	parsed, err := ParseEntityID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ParseEntityID decodes the bech32 text form.
func ParseEntityID(s string) (EntityID, error) {
	hrp, body, err := crypto.DecodeBech32(s)
	if err != nil {
		return EntityID{}, err
	}
	var kind EntityKind
	for _, k := range []EntityKind{EntityPackage, EntityComponent, EntityResource, EntityVault} {
		if k.hrp() == hrp {
			kind = k
		}
	}
	if kind.hrp() == "" {
		return EntityID{}, fmt.Errorf("entity: unknown prefix %q", hrp)
	}
	if len(body) != EntityIDLength-1 {
		return EntityID{}, fmt.Errorf("entity: body must be %d bytes, got %d", EntityIDLength-1, len(body))
	}
	var id EntityID
	id[0] = byte(kind)
	copy(id[1:], body)
	return id, nil
}

// SignatureBadge is the virtual resource proven by transaction signers. Its
// non-fungible ids are the hex-encoded signer identities; it is never minted.
var SignatureBadge = SystemEntityID(EntityResource, "signature-badge")
