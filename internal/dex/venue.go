// =============================
// File: internal/dex/venue.go
// =============================
package dex

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/rovshanmuradov/chaincrawlr/internal/blockchain/evm"
)

var (
	// ErrSwapFailed means the venue accepted the request but the swap did not confirm.
	ErrSwapFailed = errors.New("swap failed")
	// ErrUnsupported is returned for venues or chains with no registered backend.
	ErrUnsupported = errors.New("unsupported venue")
	// ErrNoRoute is returned when a venue has no pool or route for a pair.
	ErrNoRoute = errors.New("no route for pair")
)

const (
	StatusConfirmed = "confirmed"
	StatusFailed    = "failed"
)

// FeeParams carries chain-specific fee settings for a swap. Only the field
// matching the venue's chain is read.
type FeeParams struct {
	EVM           *evm.Fees
	MicroLamports uint64
}

// SwapRequest describes one swap. Amounts are in whole tokens.
type SwapRequest struct {
	TokenIn  string
	TokenOut string
	AmountIn float64
	// MinOut of zero is derived from a fresh quote and Slippage.
	MinOut   float64
	Slippage float64
	Fees     FeeParams
	// Endpoint overrides the RPC node used to submit the transaction.
	Endpoint string
}

// SwapResult is the outcome reported by a venue.
type SwapResult struct {
	Status    string  `json:"status"`
	TxRef     string  `json:"tx_ref"`
	Cost      float64 `json:"cost"`
	AmountOut float64 `json:"amount_out,omitempty"`
}

func (r *SwapResult) Confirmed() bool {
	return r != nil && r.Status == StatusConfirmed
}

// Venue is one execution backend (a DEX or aggregator) on one chain.
type Venue interface {
	Name() string
	// Quote returns how much tokenOut amountIn of tokenIn buys.
	Quote(ctx context.Context, tokenIn, tokenOut string, amountIn float64) (float64, error)
	// Swap executes and confirms a swap. A non-nil error always comes with a
	// failed or nil result.
	Swap(ctx context.Context, req SwapRequest) (*SwapResult, error)
	// PoolLiquidity returns the liquidity of token's pool. pool is a fee tier
	// on concentrated-liquidity venues and a pool id elsewhere.
	PoolLiquidity(ctx context.Context, token, pool string) (float64, error)
}

func failed(txRef string, err error) (*SwapResult, error) {
	return &SwapResult{Status: StatusFailed, TxRef: txRef}, err
}

// minOut applies slippage to a quoted output.
func minOut(quoted, slippage float64) float64 {
	if slippage < 0 {
		slippage = 0
	}
	return quoted * (1 - slippage)
}

// slippageBps converts a fraction to basis points.
func slippageBps(slippage float64) int {
	return int(math.Round(slippage * 10_000))
}

// toRaw converts whole tokens to integer units.
func toRaw(amount float64, decimals uint8) (uint64, error) {
	raw := math.Floor(amount * math.Pow10(int(decimals)))
	if raw <= 0 || raw > math.MaxUint64 {
		return 0, fmt.Errorf("amount %v out of range for %d decimals", amount, decimals)
	}
	return uint64(raw), nil
}

func fromRaw(raw uint64, decimals uint8) float64 {
	return float64(raw) / math.Pow10(int(decimals))
}
