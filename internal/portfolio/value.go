// internal/portfolio/value.go
package portfolio

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rovshanmuradov/chaincrawlr/internal/cache"
	"github.com/rovshanmuradov/chaincrawlr/internal/domain"
)

const maxParallelQuotes = 8

// CurrentPrice quotes token on venue, memoized per (chain, token) in the
// price cache.
func (l *Ledger) CurrentPrice(ctx context.Context, chain, venue, token string) (float64, error) {
	key := cache.PriceKey(chain, token)
	if l.priceCache != nil {
		var cached float64
		if ok, err := l.priceCache.Get(ctx, key, &cached); err == nil && ok && cached > 0 {
			return cached, nil
		}
	}
	if l.prices == nil {
		return 0, fmt.Errorf("%w: no price source", ErrInvalidPrice)
	}

	price, err := l.prices.Price(ctx, chain, venue, token)
	if err != nil {
		return 0, err
	}
	if price <= 0 {
		return 0, fmt.Errorf("%w: %v", ErrInvalidPrice, price)
	}
	if l.priceCache != nil {
		if err := l.priceCache.Set(ctx, key, price); err != nil {
			l.logger.Debug("price cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return price, nil
}

// quoteAll prices positions concurrently. A failed quote leaves 0 in its slot.
func (l *Ledger) quoteAll(ctx context.Context, positions []domain.Position) []float64 {
	prices := make([]float64, len(positions))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelQuotes)

	for i := range positions {
		p := positions[i]
		g.Go(func() error {
			price, err := l.CurrentPrice(gctx, p.Chain, p.Venue, p.TokenAddress)
			if err != nil {
				l.logger.Warn("price unavailable",
					zap.String("token", domain.ShortAddress(p.TokenAddress)),
					zap.String("chain", p.Chain),
					zap.Error(err))
				return nil
			}
			prices[i] = price
			return nil
		})
	}
	_ = g.Wait()
	return prices
}

// PortfolioValue is the base wallet balance plus the marked value of every
// open position. Results are memoized per valuation bucket.
func (l *Ledger) PortfolioValue(ctx context.Context) (float64, error) {
	key := cache.PortfolioValueKey(l.now(), l.cfg.ValuationBucket)
	var cached float64
	if ok, err := l.results.Get(ctx, key, &cached); err == nil && ok {
		return cached, nil
	}

	var total float64
	if l.balance != nil {
		bal, err := l.balance.NativeBalance(ctx, l.owner)
		if err != nil {
			return 0, fmt.Errorf("base balance: %w", err)
		}
		total = bal
	}

	positions := l.GetOpen()
	prices := l.quoteAll(ctx, positions)
	for i, p := range positions {
		total += prices[i] * p.Amount
	}

	if err := l.results.Set(ctx, key, total); err != nil {
		l.logger.Debug("portfolio value memo failed", zap.Error(err))
	}
	l.metrics.SetPortfolioValue(total)
	return total, nil
}
