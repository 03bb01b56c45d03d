// Package crypto holds the secp256k1 signer keys that authorize transactions
// and the bech32 text form used for entity addresses.
package crypto

import (
	"crypto/ecdsa"
	"crypto/rand"
	"fmt"

	"github.com/btcsuite/btcutil/bech32"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// SignatureLength is the length of a recoverable secp256k1 signature.
const SignatureLength = 65

// SignerID is the 20-byte identity proven by a signature.
type SignerID = [20]byte

// EncodeBech32 renders body under the human-readable part hrp.
func EncodeBech32(hrp string, body []byte) (string, error) {
	if hrp == "" {
		return "", fmt.Errorf("crypto: bech32 prefix required")
	}
	conv, err := bech32.ConvertBits(body, 8, 5, true)
	if err != nil {
		return "", err
	}
	return bech32.Encode(hrp, conv)
}

// DecodeBech32 splits s into its human-readable part and body. The checksum
// is verified.
func DecodeBech32(s string) (string, []byte, error) {
	hrp, data, err := bech32.Decode(s)
	if err != nil {
		return "", nil, fmt.Errorf("crypto: invalid bech32 string: %w", err)
	}
	body, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return "", nil, fmt.Errorf("crypto: bech32 body: %w", err)
	}
	return hrp, body, nil
}

// PrivateKey signs transaction hashes.
type PrivateKey struct {
	*ecdsa.PrivateKey
}

// PublicKey identifies a signer.
type PublicKey struct {
	*ecdsa.PublicKey
}

func GeneratePrivateKey() (*PrivateKey, error) {
	key, err := ecdsa.GenerateKey(ethcrypto.S256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	key, err := ethcrypto.ToECDSA(b)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// Bytes returns the 32-byte scalar.
func (k *PrivateKey) Bytes() []byte {
	return ethcrypto.FromECDSA(k.PrivateKey)
}

func (k *PrivateKey) PubKey() *PublicKey {
	return &PublicKey{&k.PrivateKey.PublicKey}
}

// Sign produces a recoverable signature over a 32-byte digest.
func (k *PrivateKey) Sign(digest []byte) ([]byte, error) {
	return ethcrypto.Sign(digest, k.PrivateKey)
}

func (k *PublicKey) SignerID() SignerID {
	return ethcrypto.PubkeyToAddress(*k.PublicKey)
}

// RecoverSigner returns the signer that produced sig over digest.
func RecoverSigner(digest, sig []byte) (SignerID, error) {
	if len(sig) != SignatureLength {
		return SignerID{}, fmt.Errorf("crypto: signature must be %d bytes, got %d", SignatureLength, len(sig))
	}
	pub, err := ethcrypto.SigToPub(digest, sig)
	if err != nil {
		return SignerID{}, err
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}
