// internal/dex/jupiter.go
package dex

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/chaincrawlr/internal/domain"
)

const DefaultJupiterURL = "https://quote-api.jup.ag"

// Jupiter is the Solana aggregator venue.
type Jupiter struct {
	base    string
	http    *http.Client
	clients SolanaClients
	logger  *zap.Logger
}

type jupiterQuote struct {
	InputMint      string          `json:"inputMint"`
	OutputMint     string          `json:"outputMint"`
	InAmount       string          `json:"inAmount"`
	OutAmount      string          `json:"outAmount"`
	OtherAmount    string          `json:"otherAmountThreshold"`
	SlippageBps    int             `json:"slippageBps"`
	RoutePlan      json.RawMessage `json:"routePlan"`
	PriceImpactPct string          `json:"priceImpactPct"`
}

func NewJupiter(base string, clients SolanaClients, timeout time.Duration, logger *zap.Logger) *Jupiter {
	if base == "" {
		base = DefaultJupiterURL
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Jupiter{
		base:    base,
		http:    &http.Client{Timeout: timeout},
		clients: clients,
		logger:  logger.Named("jupiter"),
	}
}

func (j *Jupiter) Name() string {
	return "jupiter"
}

// amount is in integer units of inputMint.
func (j *Jupiter) quote(ctx context.Context, inputMint, outputMint string, amount uint64, bps int) (*jupiterQuote, json.RawMessage, error) {
	q := url.Values{}
	q.Set("inputMint", inputMint)
	q.Set("outputMint", outputMint)
	q.Set("amount", strconv.FormatUint(amount, 10))
	q.Set("slippageBps", strconv.Itoa(bps))
	q.Set("onlyDirectRoutes", "false")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, j.base+"/v6/quote?"+q.Encode(), nil)
	if err != nil {
		return nil, nil, err
	}
	resp, err := j.http.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("jupiter quote: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("jupiter quote status %d: %s", resp.StatusCode, string(body))
	}

	var out jupiterQuote
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, nil, fmt.Errorf("decode quote: %w", err)
	}
	if out.OutAmount == "" {
		return nil, nil, ErrNoRoute
	}
	return &out, body, nil
}

func (j *Jupiter) Quote(ctx context.Context, tokenIn, tokenOut string, amountIn float64) (float64, error) {
	rpc := j.clients("")
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

	q, _, err := j.quote(ctx, tokenIn, tokenOut, raw, 50)
	if err != nil {
		return 0, err
	}
	out, err := strconv.ParseUint(q.OutAmount, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse outAmount %q: %w", q.OutAmount, err)
	}
	return fromRaw(out, outDec), nil
}

// Swap quotes with the request slippage, asks Jupiter for a ready transaction,
// signs it and waits for confirmation.
func (j *Jupiter) Swap(ctx context.Context, req SwapRequest) (*SwapResult, error) {
	if err := domain.ValidateAddress(domain.ChainKindSolana, req.TokenIn); err != nil {
		return failed("", err)
	}
	if err := domain.ValidateAddress(domain.ChainKindSolana, req.TokenOut); err != nil {
		return failed("", err)
	}

	rpc := j.clients(req.Endpoint)
	inDec, err := mintDecimals(ctx, rpc, req.TokenIn)
	if err != nil {
		return failed("", err)
	}
	raw, err := toRaw(req.AmountIn, inDec)
	if err != nil {
		return failed("", err)
	}

	_, quoteBody, err := j.quote(ctx, req.TokenIn, req.TokenOut, raw, slippageBps(req.Slippage))
	if err != nil {
		return failed("", fmt.Errorf("%w: %v", ErrSwapFailed, err))
	}

	payload := map[string]any{
		"userPublicKey":             rpc.Owner().String(),
		"wrapAndUnwrapSol":          true,
		"asLegacyTransaction":       false,
		"useTokenLedger":            false,
		"prioritizationFeeLamports": req.Fees.MicroLamports,
		"quoteResponse":             json.RawMessage(quoteBody),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return failed("", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, j.base+"/v6/swap", bytes.NewReader(body))
	if err != nil {
		return failed("", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := j.http.Do(httpReq)
	if err != nil {
		return failed("", fmt.Errorf("%w: %v", ErrSwapFailed, err))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return failed("", fmt.Errorf("%w: jupiter swap status %d", ErrSwapFailed, resp.StatusCode))
	}

	var sr struct {
		SwapTransaction string `json:"swapTransaction"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return failed("", fmt.Errorf("%w: %v", ErrSwapFailed, err))
	}
	if sr.SwapTransaction == "" {
		return failed("", fmt.Errorf("%w: empty swapTransaction", ErrSwapFailed))
	}

	result, err := submit(ctx, rpc, sr.SwapTransaction)
	if err != nil {
		j.logger.Warn("Jupiter swap failed",
			zap.String("token_in", domain.ShortAddress(req.TokenIn)),
			zap.String("token_out", domain.ShortAddress(req.TokenOut)),
			zap.Error(err))
		return result, err
	}
	j.logger.Info("Jupiter swap confirmed",
		zap.String("token_in", domain.ShortAddress(req.TokenIn)),
		zap.String("token_out", domain.ShortAddress(req.TokenOut)),
		zap.Float64("amount_in", req.AmountIn),
		zap.String("signature", result.TxRef))
	return result, nil
}

// PoolLiquidity is not meaningful for an aggregator.
func (j *Jupiter) PoolLiquidity(context.Context, string, string) (float64, error) {
	return 0, fmt.Errorf("%w: jupiter has no pools", ErrUnsupported)
}
