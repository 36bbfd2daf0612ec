// internal/dex/solana.go
package dex

import (
	"context"
	"encoding/base64"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	"github.com/rovshanmuradov/chaincrawlr/internal/blockchain/solbc"
)

// NativeMint is wrapped SOL.
const NativeMint = "So11111111111111111111111111111111111111112"

// SolanaRPC is what the Solana venues need from the chain client.
type SolanaRPC interface {
	TokenDecimals(ctx context.Context, mint solana.PublicKey) (uint8, error)
	SignAndSend(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
	Owner() solana.PublicKey
}

// SolanaClients returns a client bound to endpoint, or the default node when
// endpoint is empty.
type SolanaClients func(endpoint string) SolanaRPC

// SolbcClients adapts a solbc.Client into SolanaClients.
func SolbcClients(c *solbc.Client) SolanaClients {
	return func(endpoint string) SolanaRPC {
		return c.WithEndpoint(endpoint)
	}
}

func mintDecimals(ctx context.Context, rpc SolanaRPC, mint string) (uint8, error) {
	if mint == NativeMint {
		return 9, nil
	}
	pk, err := solana.PublicKeyFromBase58(mint)
	if err != nil {
		return 0, fmt.Errorf("invalid mint %s: %w", mint, err)
	}
	return rpc.TokenDecimals(ctx, pk)
}

// decodeTransaction parses a base64 serialized transaction returned by a swap API.
func decodeTransaction(encoded string) (*solana.Transaction, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode tx: %w", err)
	}
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return nil, fmt.Errorf("unmarshal tx: %w", err)
	}
	return tx, nil
}

// submit signs and confirms a venue-built transaction.
func submit(ctx context.Context, rpc SolanaRPC, encoded string) (*SwapResult, error) {
	tx, err := decodeTransaction(encoded)
	if err != nil {
		return failed("", fmt.Errorf("%w: %v", ErrSwapFailed, err))
	}
	sig, err := rpc.SignAndSend(ctx, tx)
	if err != nil {
		ref := ""
		if !sig.IsZero() {
			ref = sig.String()
		}
		return failed(ref, err)
	}
	return &SwapResult{Status: StatusConfirmed, TxRef: sig.String()}, nil
}
