package crypto

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/keystore"
)

// Passphrase resolves the secret protecting a keystore file.
type Passphrase func() (string, error)

// SaveToKeystore writes key to an Ethereum v3 keystore file at path. Missing
// parent directories are created with 0700 permissions and the file ends up
// with 0600.
func SaveToKeystore(path string, key *PrivateKey, passphrase string) error {
	if key == nil {
		return errors.New("crypto: nil private key")
	}
	if path == "" {
		return errors.New("crypto: empty keystore path")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	// The keystore library picks its own file name, so write into a scratch
	// directory and move the single result into place.
	scratch, err := os.MkdirTemp(dir, "keystore-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(scratch)

	ks := keystore.NewKeyStore(scratch, keystore.LightScryptN, keystore.LightScryptP)
	if _, err := ks.ImportECDSA(key.PrivateKey, passphrase); err != nil {
		return err
	}
	entries, err := os.ReadDir(scratch)
	if err != nil {
		return err
	}
	if len(entries) != 1 {
		return fmt.Errorf("crypto: expected one keystore file, found %d", len(entries))
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := os.Rename(filepath.Join(scratch, entries[0].Name()), path); err != nil {
		return err
	}
	return os.Chmod(path, 0o600)
}

// LoadSigningKey reads a transaction signing key from path. JSON files are
// treated as v3 keystores unlocked with passphrase; anything else must hold
// the hex-encoded raw key, optionally 0x-prefixed.
func LoadSigningKey(path string, passphrase Passphrase) (*PrivateKey, error) {
	if path == "" {
		return nil, errors.New("crypto: empty key path")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '{' {
		if passphrase == nil {
			return nil, errors.New("crypto: keystore requires a passphrase")
		}
		secret, err := passphrase()
		if err != nil {
			return nil, err
		}
		decrypted, err := keystore.DecryptKey(raw, secret)
		if err != nil {
			return nil, fmt.Errorf("crypto: unlock keystore: %w", err)
		}
		return &PrivateKey{PrivateKey: decrypted.PrivateKey}, nil
	}
	b, err := hex.DecodeString(strings.TrimPrefix(string(raw), "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto: decode hex key: %w", err)
	}
	return PrivateKeyFromBytes(b)
}
