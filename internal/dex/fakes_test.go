package dex

import (
	"context"
	"encoding/base64"
	"sync"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/stretchr/testify/require"
)

type fakeSolana struct {
	mu        sync.Mutex
	owner     solana.PublicKey
	decimals  map[string]uint8
	sent      int
	sendErr   error
	endpoints []string
}

func newFakeSolana() *fakeSolana {
	return &fakeSolana{
		owner:    solana.NewWallet().PublicKey(),
		decimals: map[string]uint8{},
	}
}

func (f *fakeSolana) clients() SolanaClients {
	return func(endpoint string) SolanaRPC {
		f.mu.Lock()
		f.endpoints = append(f.endpoints, endpoint)
		f.mu.Unlock()
		return f
	}
}

func (f *fakeSolana) TokenDecimals(_ context.Context, mint solana.PublicKey) (uint8, error) {
	if d, ok := f.decimals[mint.String()]; ok {
		return d, nil
	}
	return 6, nil
}

func (f *fakeSolana) SignAndSend(_ context.Context, tx *solana.Transaction) (solana.Signature, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return solana.Signature{}, f.sendErr
	}
	f.sent++
	return solana.Signature{1, 2, 3}, nil
}

func (f *fakeSolana) Owner() solana.PublicKey {
	return f.owner
}

// encodedTransferTx builds a serialized transaction like the ones swap APIs return.
func encodedTransferTx(t *testing.T, payer solana.PublicKey) string {
	t.Helper()
	to := solana.NewWallet().PublicKey()
	tx, err := solana.NewTransaction(
		[]solana.Instruction{system.NewTransferInstruction(1000, payer, to).Build()},
		solana.Hash{9},
		solana.TransactionPayer(payer),
	)
	require.NoError(t, err)
	raw, err := tx.MarshalBinary()
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(raw)
}

// fakeVenue is a scripted Venue.
type fakeVenue struct {
	name     string
	price    float64
	quoteErr error
	result   *SwapResult
	swapErr  error
	swaps    []SwapRequest
}

func (v *fakeVenue) Name() string { return v.name }

func (v *fakeVenue) Quote(context.Context, string, string, float64) (float64, error) {
	return v.price, v.quoteErr
}

func (v *fakeVenue) Swap(_ context.Context, req SwapRequest) (*SwapResult, error) {
	v.swaps = append(v.swaps, req)
	return v.result, v.swapErr
}

func (v *fakeVenue) PoolLiquidity(context.Context, string, string) (float64, error) {
	return 0, ErrUnsupported
}
