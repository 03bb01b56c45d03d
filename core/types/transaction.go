package types

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"resengine/crypto"
)

// Transaction is an ordered list of instructions executed atomically. The
// signatures prove the signer badges placed in the root auth zone.
type Transaction struct {
	Nonce        uint64        `json:"nonce"`
	CostLimit    uint64        `json:"costLimit"`
	Instructions []Instruction `json:"instructions"`
	Signatures   [][]byte      `json:"signatures,omitempty"`
}

type signingPayload struct {
	Nonce        uint64
	CostLimit    uint64
	Instructions []Instruction
}

// Hash returns the keccak256 digest of the rlp-encoded unsigned transaction.
func (tx *Transaction) Hash() (common.Hash, error) {
	b, err := rlp.EncodeToBytes(&signingPayload{tx.Nonce, tx.CostLimit, tx.Instructions})
	if err != nil {
		return common.Hash{}, err
	}
	return common.BytesToHash(ethcrypto.Keccak256(b)), nil
}

// Sign appends a signature by key.
func (tx *Transaction) Sign(key *crypto.PrivateKey) error {
	if key == nil {
		return errors.New("transaction: nil signing key")
	}
	hash, err := tx.Hash()
	if err != nil {
		return err
	}
	sig, err := key.Sign(hash.Bytes())
	if err != nil {
		return err
	}
	tx.Signatures = append(tx.Signatures, sig)
	return nil
}

// Signers recovers the distinct signer identities, sorted.
func (tx *Transaction) Signers() ([][20]byte, error) {
	if len(tx.Signatures) == 0 {
		return nil, nil
	}
	hash, err := tx.Hash()
	if err != nil {
		return nil, err
	}
	seen := make(map[[20]byte]struct{}, len(tx.Signatures))
	out := make([][20]byte, 0, len(tx.Signatures))
	for i, sig := range tx.Signatures {
		signer, err := crypto.RecoverSigner(hash.Bytes(), sig)
		if err != nil {
			return nil, fmt.Errorf("signature %d: %w", i, err)
		}
		if _, dup := seen[signer]; dup {
			continue
		}
		seen[signer] = struct{}{}
		out = append(out, signer)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out, nil
}

// SignerBadgeID is the signature badge id proving signer.
func SignerBadgeID(signer [20]byte) NonFungibleID {
	return NonFungibleID(hex.EncodeToString(signer[:]))
}
