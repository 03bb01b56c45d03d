package types

import (
	"fmt"
	"sort"

	"resengine/core/decimal"
)

// ResourceKind distinguishes divisible amounts from sets of unique ids.
type ResourceKind uint8

const (
	ResourceFungible    ResourceKind = 0x01
	ResourceNonFungible ResourceKind = 0x02
)

func (k ResourceKind) String() string {
	switch k {
	case ResourceFungible:
		return "fungible"
	case ResourceNonFungible:
		return "non_fungible"
	default:
		return "unknown"
	}
}

func (k ResourceKind) MarshalText() ([]byte, error) {
	if k == 0 {
		return []byte{}, nil
	}
	return []byte(k.String()), nil
}

func (k *ResourceKind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "":
		*k = 0
	case "fungible":
		*k = ResourceFungible
	case "non_fungible":
		*k = ResourceNonFungible
	default:
		return fmt.Errorf("resource: unknown kind %q", text)
	}
	return nil
}

// MaxNonFungibleIDLength bounds the byte length of a non-fungible id.
const MaxNonFungibleIDLength = 64

// MaxDivisibility is the finest divisibility a fungible resource may declare.
const MaxDivisibility = decimal.Scale

// NonFungibleID names one unique unit of a non-fungible resource.
type NonFungibleID string

func (id NonFungibleID) Validate() error {
	if len(id) == 0 {
		return fmt.Errorf("non-fungible id must not be empty")
	}
	if len(id) > MaxNonFungibleIDLength {
		return fmt.Errorf("non-fungible id longer than %d bytes", MaxNonFungibleIDLength)
	}
	return nil
}

// SortIDs orders ids in place and returns them.
func SortIDs(ids []NonFungibleID) []NonFungibleID {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// MetadataEntry is one key/value pair of resource metadata. A slice is used
// instead of a map so the encoding is canonical.
type MetadataEntry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// ResourceSpec describes a resource to create.
type ResourceSpec struct {
	Kind          ResourceKind    `json:"kind"`
	Divisibility  uint8           `json:"divisibility"`
	Metadata      []MetadataEntry `json:"metadata,omitempty"`
	Mintable      bool            `json:"mintable"`
	MintRule      AccessRule      `json:"mintRule"`
	Burnable      bool            `json:"burnable"`
	InitialSupply decimal.Decimal `json:"initialSupply"`
	InitialIDs    []NonFungibleID `json:"initialIds,omitempty"`
}

// Validate checks kind, divisibility and initial supply before anything is allocated.
func (s ResourceSpec) Validate() error {
	switch s.Kind {
	case ResourceFungible:
		if s.Divisibility > MaxDivisibility {
			return fmt.Errorf("divisibility %d exceeds %d", s.Divisibility, MaxDivisibility)
		}
		if len(s.InitialIDs) > 0 {
			return fmt.Errorf("fungible resource cannot carry initial ids")
		}
		if !s.InitialSupply.RespectsDivisibility(s.Divisibility) {
			return fmt.Errorf("initial supply %s exceeds divisibility %d", s.InitialSupply, s.Divisibility)
		}
	case ResourceNonFungible:
		if s.Divisibility != 0 {
			return fmt.Errorf("non-fungible resource cannot declare divisibility")
		}
		if !s.InitialSupply.IsZero() {
			return fmt.Errorf("non-fungible initial supply is given by ids")
		}
		for _, id := range s.InitialIDs {
			if err := id.Validate(); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("unknown resource kind %d", s.Kind)
	}
	seen := make(map[string]struct{}, len(s.Metadata))
	for _, entry := range s.Metadata {
		if _, dup := seen[entry.Key]; dup {
			return fmt.Errorf("duplicate metadata key %q", entry.Key)
		}
		seen[entry.Key] = struct{}{}
	}
	return s.MintRule.Validate()
}
