package trie

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	gethtrie "github.com/ethereum/go-ethereum/trie"
)

// Leaf is one key/value pair committed to a root. Keys are hashed with
// keccak256 before insertion so callers may pass arbitrary-length keys.
type Leaf struct {
	Key   []byte
	Value []byte
}

// Root computes the Merkle-Patricia root over leaves without touching any
// database. Duplicate keys and empty values are rejected; the order of leaves
// does not matter.
func Root(leaves []Leaf) (common.Hash, error) {
	if len(leaves) == 0 {
		return gethtypes.EmptyRootHash, nil
	}
	hashed := make([]Leaf, len(leaves))
	for i, leaf := range leaves {
		if len(leaf.Value) == 0 {
			return common.Hash{}, fmt.Errorf("trie: empty value for key %x", leaf.Key)
		}
		hashed[i] = Leaf{Key: crypto.Keccak256(leaf.Key), Value: leaf.Value}
	}
	sort.Slice(hashed, func(i, j int) bool { return bytes.Compare(hashed[i].Key, hashed[j].Key) < 0 })

	st := gethtrie.NewStackTrie(nil)
	for i, leaf := range hashed {
		if i > 0 && bytes.Equal(hashed[i-1].Key, leaf.Key) {
			return common.Hash{}, fmt.Errorf("trie: duplicate key %x", leaf.Key)
		}
		if err := st.Update(leaf.Key, leaf.Value); err != nil {
			return common.Hash{}, err
		}
	}
	return st.Hash(), nil
}
