package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"resengine/core/types"
	"resengine/crypto"
	"resengine/indexer"
	"resengine/native/demo"
)

func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "config.toml")
	contents := `Service = "resengine-test"

[storage]
Backend = "bolt"
DataDir = "` + filepath.ToSlash(filepath.Join(dir, "state.db")) + `"

[logging]
File = "` + filepath.ToSlash(filepath.Join(dir, "engine.log")) + `"

[indexer]
DSN = "` + filepath.ToSlash(filepath.Join(dir, "receipts.db")) + `"
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestRunPublishesDemoPackage(t *testing.T) {
	dir := t.TempDir()
	tx := types.Transaction{
		Nonce:        1,
		Instructions: []types.Instruction{{Op: types.InstructionPublishPackage, Package: demo.Package()}},
	}
	raw, err := json.Marshal(&tx)
	require.NoError(t, err)

	opts := options{configPath: writeConfig(t, dir), txPath: "-", preview: true}
	receipt, err := run(context.Background(), opts, strings.NewReader(string(raw)))
	require.NoError(t, err)
	require.True(t, receipt.Succeeded(), "receipt error: %+v", receipt.Error)
	require.Len(t, receipt.NewEntities, 1)
	require.Equal(t, types.EntityPackage, receipt.NewEntities[0].Kind())

	opts.preview = false
	receipt, err = run(context.Background(), opts, strings.NewReader(string(raw)))
	require.NoError(t, err)
	require.True(t, receipt.Succeeded())
	require.NotEmpty(t, receipt.StateDiff)

	_, err = os.Stat(filepath.Join(dir, "state.db"))
	require.NoError(t, err)

	idx, err := indexer.Open(filepath.Join(dir, "receipts.db"), nil)
	require.NoError(t, err)
	defer idx.Close()
	row, err := idx.Transaction(context.Background(), receipt.TxHash)
	require.NoError(t, err)
	require.Equal(t, string(types.OutcomeSuccess), row.Outcome)
	entities, err := idx.Entities(context.Background(), receipt.TxHash)
	require.NoError(t, err)
	require.Len(t, entities, 1)
}

func TestReadTransactionRejectsUnknownFields(t *testing.T) {
	_, err := readTransaction("-", strings.NewReader(`{"nonce":1,"gas":5}`))
	require.Error(t, err)
}

func TestSignWith(t *testing.T) {
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "key.hex")
	require.NoError(t, os.WriteFile(path, []byte("0x"+hex.EncodeToString(key.Bytes())+"\n"), 0o600))

	tx := &types.Transaction{Nonce: 3}
	require.NoError(t, signWith(tx, path))
	signers, err := tx.Signers()
	require.NoError(t, err)
	require.Equal(t, [][20]byte{key.PubKey().SignerID()}, signers)
}
