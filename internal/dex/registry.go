// internal/dex/registry.go
package dex

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Registry resolves venues by (chain, dex) and knows each chain's aggregator
// and quote asset.
type Registry struct {
	mu          sync.RWMutex
	venues      map[string]map[string]Venue
	aggregators map[string]Venue
	quoteAssets map[string]string
	logger      *zap.Logger
}

func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		venues:      make(map[string]map[string]Venue),
		aggregators: make(map[string]Venue),
		quoteAssets: make(map[string]string),
		logger:      logger.Named("dex-registry"),
	}
}

func key(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Register adds v under its Name on chain.
func (r *Registry) Register(chain string, v Venue) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := key(chain)
	if r.venues[c] == nil {
		r.venues[c] = make(map[string]Venue)
	}
	r.venues[c][key(v.Name())] = v
}

// SetAggregator registers v and marks it as chain's fallback venue.
func (r *Registry) SetAggregator(chain string, v Venue) {
	r.Register(chain, v)
	r.mu.Lock()
	r.aggregators[key(chain)] = v
	r.mu.Unlock()
}

// SetQuoteAsset sets the token prices are expressed in (wrapped native).
func (r *Registry) SetQuoteAsset(chain, token string) {
	r.mu.Lock()
	r.quoteAssets[key(chain)] = token
	r.mu.Unlock()
}

func (r *Registry) QuoteAsset(chain string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	token, ok := r.quoteAssets[key(chain)]
	if !ok {
		return "", fmt.Errorf("%w: no quote asset for chain %s", ErrUnsupported, chain)
	}
	return token, nil
}

// Venue looks up a venue by chain and name.
func (r *Registry) Venue(chain, name string) (Venue, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.venues[key(chain)][key(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s on %s", ErrUnsupported, name, chain)
	}
	return v, nil
}

// Aggregator returns chain's fallback venue.
func (r *Registry) Aggregator(chain string) (Venue, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.aggregators[key(chain)]
	if !ok {
		return nil, fmt.Errorf("%w: no aggregator on %s", ErrUnsupported, chain)
	}
	return v, nil
}

// PriceVenue returns the venue to price token from: the named venue, or the
// aggregator when that venue is unknown.
func (r *Registry) PriceVenue(chain, name string) (Venue, error) {
	v, err := r.Venue(chain, name)
	if err == nil {
		return v, nil
	}
	if agg, aggErr := r.Aggregator(chain); aggErr == nil {
		return agg, nil
	}
	return nil, err
}

// Price returns the quote-asset value of one whole token. A failing primary
// venue falls back to the chain aggregator.
func (r *Registry) Price(ctx context.Context, chain, venue, token string) (float64, error) {
	quote, err := r.QuoteAsset(chain)
	if err != nil {
		return 0, err
	}
	v, err := r.PriceVenue(chain, venue)
	if err != nil {
		return 0, err
	}

	price, err := v.Quote(ctx, token, quote, 1)
	if err == nil && price > 0 {
		return price, nil
	}
	if err == nil {
		err = fmt.Errorf("%w: zero price", ErrNoRoute)
	}

	agg, aggErr := r.Aggregator(chain)
	if aggErr != nil || agg == v {
		return 0, err
	}
	r.logger.Debug("price fallback to aggregator",
		zap.String("chain", chain),
		zap.String("venue", v.Name()),
		zap.Error(err))
	price, aggErr = agg.Quote(ctx, token, quote, 1)
	if aggErr != nil {
		return 0, multierr.Combine(err, aggErr)
	}
	if price <= 0 {
		return 0, fmt.Errorf("%w: zero price", ErrNoRoute)
	}
	return price, nil
}
