// ==================================
// File: internal/wallet/wallet.go
// ==================================
package wallet

import (
	"crypto/ecdsa"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gagliardetto/solana-go"
	"gopkg.in/yaml.v3"

	"github.com/rovshanmuradov/chaincrawlr/internal/domain"
)

// SolanaWallet holds a Solana keypair and a cache of associated token accounts.
type SolanaWallet struct {
	PrivateKey solana.PrivateKey
	PublicKey  solana.PublicKey

	mu       sync.Mutex
	ataCache map[string]solana.PublicKey
}

// NewSolanaWallet parses a base58-encoded private key.
func NewSolanaWallet(privateKeyBase58 string) (*SolanaWallet, error) {
	privateKey, err := solana.PrivateKeyFromBase58(privateKeyBase58)
	if err != nil {
		return nil, fmt.Errorf("invalid solana private key: %w", err)
	}
	return &SolanaWallet{
		PrivateKey: privateKey,
		PublicKey:  privateKey.PublicKey(),
		ataCache:   make(map[string]solana.PublicKey),
	}, nil
}

// SignTransaction signs tx with the wallet key.
func (w *SolanaWallet) SignTransaction(tx *solana.Transaction) error {
	_, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(w.PublicKey) {
			return &w.PrivateKey
		}
		return nil
	})
	return err
}

// ATA returns the wallet's associated token account for mint.
func (w *SolanaWallet) ATA(mint solana.PublicKey) (solana.PublicKey, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if ata, ok := w.ataCache[mint.String()]; ok {
		return ata, nil
	}
	ata, _, err := solana.FindAssociatedTokenAddress(w.PublicKey, mint)
	if err != nil {
		return solana.PublicKey{}, err
	}
	w.ataCache[mint.String()] = ata
	return ata, nil
}

// CreateATAIdempotentInstruction creates owner's token account for mint if it does not exist.
func CreateATAIdempotentInstruction(payer, owner, mint solana.PublicKey) (solana.Instruction, solana.PublicKey, error) {
	ata, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return nil, solana.PublicKey{}, fmt.Errorf("find associated token address: %w", err)
	}

	inst := solana.NewInstruction(
		solana.SPLAssociatedTokenAccountProgramID,
		[]*solana.AccountMeta{
			solana.Meta(payer).WRITE().SIGNER(),
			solana.Meta(ata).WRITE(),
			solana.Meta(owner),
			solana.Meta(mint),
			solana.Meta(solana.SystemProgramID),
			solana.Meta(solana.TokenProgramID),
		},
		[]byte{1}, // create_idempotent
	)
	return inst, ata, nil
}

func (w *SolanaWallet) String() string {
	return w.PublicKey.String()
}

// EVMWallet holds a secp256k1 key.
type EVMWallet struct {
	key     *ecdsa.PrivateKey
	Address common.Address
}

// NewEVMWallet parses a hex private key, with or without 0x prefix.
func NewEVMWallet(hexKey string) (*EVMWallet, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid evm private key: %w", err)
	}
	return &EVMWallet{key: key, Address: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

func (w *EVMWallet) PrivateKey() *ecdsa.PrivateKey {
	return w.key
}

func (w *EVMWallet) String() string {
	return w.Address.Hex()
}

// Set is the primary trading wallet per chain kind plus the fallback
// addresses emergency transfers are sent to.
type Set struct {
	Solana         *SolanaWallet
	EVM            *EVMWallet
	FallbackSolana string
	FallbackEVM    string
}

// File is the layout of the wallets YAML file.
type File struct {
	Primary struct {
		SolanaPrivateKey string `yaml:"solana_private_key"`
		EVMPrivateKey    string `yaml:"evm_private_key"`
	} `yaml:"primary"`
	Fallback struct {
		SolanaAddress string `yaml:"solana_address"`
		EVMAddress    string `yaml:"evm_address"`
	} `yaml:"fallback"`
}

// Load reads the wallets file. A primary key without a matching fallback
// address is an error: emergency exits need somewhere to send funds.
func Load(path string) (*Set, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return FromFile(f)
}

// FromFile validates and builds a Set.
func FromFile(f File) (*Set, error) {
	set := &Set{}

	if f.Primary.SolanaPrivateKey != "" {
		w, err := NewSolanaWallet(f.Primary.SolanaPrivateKey)
		if err != nil {
			return nil, err
		}
		if err := domain.ValidateAddress(domain.ChainKindSolana, f.Fallback.SolanaAddress); err != nil {
			return nil, fmt.Errorf("fallback solana address: %w", err)
		}
		set.Solana = w
		set.FallbackSolana = f.Fallback.SolanaAddress
	}

	if f.Primary.EVMPrivateKey != "" {
		w, err := NewEVMWallet(f.Primary.EVMPrivateKey)
		if err != nil {
			return nil, err
		}
		if err := domain.ValidateAddress(domain.ChainKindEVM, f.Fallback.EVMAddress); err != nil {
			return nil, fmt.Errorf("fallback evm address: %w", err)
		}
		set.EVM = w
		set.FallbackEVM = f.Fallback.EVMAddress
	}

	if set.Solana == nil && set.EVM == nil {
		return nil, fmt.Errorf("no wallets found in configuration")
	}
	return set, nil
}

// Address returns the primary wallet address for kind, or "" if none is configured.
func (s *Set) Address(kind domain.ChainKind) string {
	switch kind {
	case domain.ChainKindSolana:
		if s.Solana != nil {
			return s.Solana.String()
		}
	case domain.ChainKindEVM:
		if s.EVM != nil {
			return s.EVM.String()
		}
	}
	return ""
}

// FallbackAddress returns the emergency recipient for kind.
func (s *Set) FallbackAddress(kind domain.ChainKind) string {
	if kind == domain.ChainKindSolana {
		return s.FallbackSolana
	}
	return s.FallbackEVM
}
