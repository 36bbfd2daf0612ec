package wallet

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rovshanmuradov/chaincrawlr/internal/domain"
)

const testEVMKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestLoadWallets(t *testing.T) {
	sol := solana.NewWallet()
	fallback := solana.NewWallet()

	body := "primary:\n" +
		"  solana_private_key: " + sol.PrivateKey.String() + "\n" +
		"  evm_private_key: 0x" + testEVMKey + "\n" +
		"fallback:\n" +
		"  solana_address: " + fallback.PublicKey().String() + "\n" +
		"  evm_address: 0x000000000000000000000000000000000000dEaD\n"

	path := filepath.Join(t.TempDir(), "wallets.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	set, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, sol.PublicKey().String(), set.Address(domain.ChainKindSolana))
	assert.Equal(t, "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23", set.Address(domain.ChainKindEVM))
	assert.Equal(t, fallback.PublicKey().String(), set.FallbackAddress(domain.ChainKindSolana))
}

func TestFromFileRequiresFallback(t *testing.T) {
	var f File
	f.Primary.EVMPrivateKey = testEVMKey

	_, err := FromFile(f)
	assert.Error(t, err)
}

func TestFromFileEmpty(t *testing.T) {
	_, err := FromFile(File{})
	assert.Error(t, err)
}

func TestATACached(t *testing.T) {
	w, err := NewSolanaWallet(solana.NewWallet().PrivateKey.String())
	require.NoError(t, err)

	mint := solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")
	a, err := w.ATA(mint)
	require.NoError(t, err)
	b, err := w.ATA(mint)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	_, ata, err := CreateATAIdempotentInstruction(w.PublicKey, w.PublicKey, mint)
	require.NoError(t, err)
	assert.Equal(t, a, ata)
}
