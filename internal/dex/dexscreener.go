// internal/dex/dexscreener.go
package dex

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

const (
	DefaultDexScreenerURL = "https://api.dexscreener.com"
	dexScreenerRateLimit  = 300 // requests per minute
)

// DexScreenerResponse is the envelope of the pairs endpoints.
type DexScreenerResponse struct {
	SchemaVersion string     `json:"schemaVersion"`
	Pairs         []PairInfo `json:"pairs"`
}

// PairInfo describes one trading pair.
type PairInfo struct {
	ChainID       string        `json:"chainId"`
	DexID         string        `json:"dexId"`
	PairAddress   string        `json:"pairAddress"`
	BaseToken     TokenInfo     `json:"baseToken"`
	QuoteToken    TokenInfo     `json:"quoteToken"`
	PriceNative   string        `json:"priceNative"`
	PriceUSD      string        `json:"priceUsd"`
	Liquidity     LiquidityInfo `json:"liquidity"`
	PriceChange   PriceChange   `json:"priceChange"`
	PairCreatedAt int64         `json:"pairCreatedAt"`
}

type TokenInfo struct {
	Address string `json:"address"`
	Symbol  string `json:"symbol"`
}

type LiquidityInfo struct {
	USD   float64 `json:"usd"`
	Base  float64 `json:"base"`
	Quote float64 `json:"quote"`
}

type PriceChange struct {
	M5  float64 `json:"m5"`
	H1  float64 `json:"h1"`
	H24 float64 `json:"h24"`
}

// TokenProfile is an entry of the latest token profiles feed.
type TokenProfile struct {
	ChainID      string `json:"chainId"`
	TokenAddress string `json:"tokenAddress"`
	URL          string `json:"url"`
}

// Age is the time since the pair was created.
func (p *PairInfo) Age(now time.Time) time.Duration {
	if p.PairCreatedAt == 0 {
		return 0
	}
	return now.Sub(time.UnixMilli(p.PairCreatedAt))
}

// NativePrice parses priceNative.
func (p *PairInfo) NativePrice() (float64, error) {
	return strconv.ParseFloat(p.PriceNative, 64)
}

// DexScreener is a rate-limited client for the DexScreener public API.
type DexScreener struct {
	base        string
	client      *http.Client
	logger      *zap.Logger
	rateLimiter *time.Ticker
}

func NewDexScreener(base string, logger *zap.Logger) *DexScreener {
	if base == "" {
		base = DefaultDexScreenerURL
	}
	return &DexScreener{
		base: strings.TrimRight(base, "/"),
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger:      logger.Named("dexscreener"),
		rateLimiter: time.NewTicker(time.Minute / dexScreenerRateLimit),
	}
}

func (s *DexScreener) Close() {
	s.rateLimiter.Stop()
}

// TokenPairs returns every pair that trades token.
func (s *DexScreener) TokenPairs(ctx context.Context, token string) ([]PairInfo, error) {
	var response DexScreenerResponse
	if err := s.get(ctx, fmt.Sprintf("%s/latest/dex/tokens/%s", s.base, token), &response); err != nil {
		return nil, fmt.Errorf("failed to get token pairs: %w", err)
	}
	return response.Pairs, nil
}

// BestPair returns token's highest-liquidity pair on chainID, optionally
// restricted to one dex and one quote token.
func (s *DexScreener) BestPair(ctx context.Context, chainID, token, dexID, quote string) (*PairInfo, error) {
	pairs, err := s.TokenPairs(ctx, token)
	if err != nil {
		return nil, err
	}

	var best *PairInfo
	maxLiquidity := -1.0
	for i := range pairs {
		pair := &pairs[i]
		if pair.ChainID != chainID {
			continue
		}
		if dexID != "" && pair.DexID != dexID {
			continue
		}
		if quote != "" && pair.BaseToken.Address != quote && pair.QuoteToken.Address != quote {
			continue
		}
		if pair.Liquidity.USD > maxLiquidity {
			maxLiquidity = pair.Liquidity.USD
			best = pair
		}
	}
	if best == nil {
		return nil, fmt.Errorf("%w: %s on %s/%s", ErrNoRoute, token, chainID, dexID)
	}

	s.logger.Debug("found pair",
		zap.String("pair_address", best.PairAddress),
		zap.String("base_token", best.BaseToken.Symbol),
		zap.String("quote_token", best.QuoteToken.Symbol),
		zap.Float64("liquidity_usd", best.Liquidity.USD),
		zap.String("dex", best.DexID))
	return best, nil
}

// Pair fetches one pair by address.
func (s *DexScreener) Pair(ctx context.Context, chainID, pairAddress string) (*PairInfo, error) {
	var response DexScreenerResponse
	if err := s.get(ctx, fmt.Sprintf("%s/latest/dex/pairs/%s/%s", s.base, chainID, pairAddress), &response); err != nil {
		return nil, fmt.Errorf("failed to get pair: %w", err)
	}
	if len(response.Pairs) == 0 {
		return nil, fmt.Errorf("pair not found: %s", pairAddress)
	}
	return &response.Pairs[0], nil
}

// LatestProfiles returns the newest token profiles across all chains.
func (s *DexScreener) LatestProfiles(ctx context.Context) ([]TokenProfile, error) {
	var profiles []TokenProfile
	if err := s.get(ctx, s.base+"/token-profiles/latest/v1", &profiles); err != nil {
		return nil, fmt.Errorf("failed to get token profiles: %w", err)
	}
	return profiles, nil
}

// get performs a GET subject to the rate limit and decodes the JSON body into dst.
func (s *DexScreener) get(ctx context.Context, url string, dst any) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.rateLimiter.C:
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
