// internal/dex/raydium.go
package dex

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/chaincrawlr/internal/domain"
)

const DefaultRaydiumTradeURL = "https://transaction-v1.raydium.io"

// Raydium swaps through the Raydium trade API, which computes a route and
// returns a serialized transaction for the wallet to sign. Pool data comes
// from DexScreener.
type Raydium struct {
	base    string
	http    *http.Client
	clients SolanaClients
	screen  *DexScreener
	logger  *zap.Logger
}

type raydiumCompute struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
	Version string `json:"version"`
	Msg     string `json:"msg"`
	Data    struct {
		InputAmount  string `json:"inputAmount"`
		OutputAmount string `json:"outputAmount"`
	} `json:"data"`
}

type raydiumTransactions struct {
	Success bool   `json:"success"`
	Msg     string `json:"msg"`
	Data    []struct {
		Transaction string `json:"transaction"`
	} `json:"data"`
}

func NewRaydium(base string, clients SolanaClients, screen *DexScreener, timeout time.Duration, logger *zap.Logger) *Raydium {
	if base == "" {
		base = DefaultRaydiumTradeURL
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Raydium{
		base:    strings.TrimRight(base, "/"),
		http:    &http.Client{Timeout: timeout},
		clients: clients,
		screen:  screen,
		logger:  logger.Named("raydium"),
	}
}

func (r *Raydium) Name() string {
	return "raydium"
}

func (r *Raydium) compute(ctx context.Context, inputMint, outputMint string, amount uint64, bps int) (json.RawMessage, *raydiumCompute, error) {
	q := url.Values{}
	q.Set("inputMint", inputMint)
	q.Set("outputMint", outputMint)
	q.Set("amount", strconv.FormatUint(amount, 10))
	q.Set("slippageBps", strconv.Itoa(bps))
	q.Set("txVersion", "V0")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.base+"/compute/swap-base-in?"+q.Encode(), nil)
	if err != nil {
		return nil, nil, err
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("raydium compute: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("raydium compute status %d", resp.StatusCode)
	}

	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, nil, fmt.Errorf("decode compute: %w", err)
	}
	var parsed raydiumCompute
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, nil, fmt.Errorf("decode compute: %w", err)
	}
	if !parsed.Success {
		return nil, nil, fmt.Errorf("%w: %s", ErrNoRoute, parsed.Msg)
	}
	return raw, &parsed, nil
}

func (r *Raydium) Quote(ctx context.Context, tokenIn, tokenOut string, amountIn float64) (float64, error) {
	rpc := r.clients("")
	inDec, err := mintDecimals(ctx, rpc, tokenIn)
	if err != nil {
		return 0, err
	}
	outDec, err := mintDecimals(ctx, rpc, tokenOut)
	if err != nil {
		return 0, err
	}
	raw, err := toRaw(amountIn, inDec)
	if err != nil {
		return 0, err
	}

	_, c, err := r.compute(ctx, tokenIn, tokenOut, raw, 50)
	if err != nil {
		return 0, err
	}
	out, err := strconv.ParseUint(c.Data.OutputAmount, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse outputAmount %q: %w", c.Data.OutputAmount, err)
	}
	return fromRaw(out, outDec), nil
}

func (r *Raydium) Swap(ctx context.Context, req SwapRequest) (*SwapResult, error) {
	if err := domain.ValidateAddress(domain.ChainKindSolana, req.TokenIn); err != nil {
		return failed("", err)
	}
	if err := domain.ValidateAddress(domain.ChainKindSolana, req.TokenOut); err != nil {
		return failed("", err)
	}

	rpc := r.clients(req.Endpoint)
	inDec, err := mintDecimals(ctx, rpc, req.TokenIn)
	if err != nil {
		return failed("", err)
	}
	raw, err := toRaw(req.AmountIn, inDec)
	if err != nil {
		return failed("", err)
	}

	computeBody, _, err := r.compute(ctx, req.TokenIn, req.TokenOut, raw, slippageBps(req.Slippage))
	if err != nil {
		return failed("", fmt.Errorf("%w: %v", ErrSwapFailed, err))
	}

	payload := map[string]any{
		"computeUnitPriceMicroLamports": strconv.FormatUint(req.Fees.MicroLamports, 10),
		"swapResponse":                  computeBody,
		"txVersion":                     "V0",
		"wallet":                        rpc.Owner().String(),
		"wrapSol":                       req.TokenIn == NativeMint,
		"unwrapSol":                     req.TokenOut == NativeMint,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return failed("", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.base+"/transaction/swap-base-in", bytes.NewReader(body))
	if err != nil {
		return failed("", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := r.http.Do(httpReq)
	if err != nil {
		return failed("", fmt.Errorf("%w: %v", ErrSwapFailed, err))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return failed("", fmt.Errorf("%w: raydium swap status %d", ErrSwapFailed, resp.StatusCode))
	}

	var txs raydiumTransactions
	if err := json.NewDecoder(resp.Body).Decode(&txs); err != nil {
		return failed("", fmt.Errorf("%w: %v", ErrSwapFailed, err))
	}
	if !txs.Success || len(txs.Data) == 0 {
		return failed("", fmt.Errorf("%w: no swap transaction: %s", ErrSwapFailed, txs.Msg))
	}

	// The trade API may split setup and swap into several transactions.
	var result *SwapResult
	for _, t := range txs.Data {
		result, err = submit(ctx, rpc, t.Transaction)
		if err != nil {
			r.logger.Warn("Raydium swap failed",
				zap.String("token_in", domain.ShortAddress(req.TokenIn)),
				zap.String("token_out", domain.ShortAddress(req.TokenOut)),
				zap.Error(err))
			return result, err
		}
	}

	r.logger.Info("Raydium swap confirmed",
		zap.String("token_in", domain.ShortAddress(req.TokenIn)),
		zap.String("token_out", domain.ShortAddress(req.TokenOut)),
		zap.Float64("amount_in", req.AmountIn),
		zap.String("signature", result.TxRef))
	return result, nil
}

// PoolLiquidity returns the USD liquidity of pool, or of token's deepest
// Raydium pair when pool is empty.
func (r *Raydium) PoolLiquidity(ctx context.Context, token, pool string) (float64, error) {
	if r.screen == nil {
		return 0, fmt.Errorf("%w: no market data source", ErrUnsupported)
	}
	var (
		pair *PairInfo
		err  error
	)
	if pool != "" {
		pair, err = r.screen.Pair(ctx, "solana", pool)
	} else {
		pair, err = r.screen.BestPair(ctx, "solana", token, "raydium", NativeMint)
	}
	if err != nil {
		return 0, err
	}
	return pair.Liquidity.USD, nil
}
