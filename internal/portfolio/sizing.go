// internal/portfolio/sizing.go
package portfolio

import (
	"context"
	"math"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/chaincrawlr/internal/domain"
)

// minVolatilityDivisor floors the volatility adjustment.
const minVolatilityDivisor = 1.5

// SizeFor returns the token amount to hold for c at price, clamped to
// [MinPositionSize, MaxPositionSize]. Any failure yields MinPositionSize.
func (l *Ledger) SizeFor(ctx context.Context, c domain.Candidate, price float64) float64 {
	lo, hi := l.cfg.MinPositionSize, l.cfg.MaxPositionSize
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return lo
	}

	value, err := l.PortfolioValue(ctx)
	if err != nil {
		l.logger.Warn("sizing falls back to minimum",
			zap.String("token", domain.ShortAddress(c.TokenAddress)),
			zap.Error(err))
		return lo
	}

	risk := value * (l.cfg.MaxRiskPerTrade / 100)
	if c.Volatility != nil {
		risk /= math.Max(minVolatilityDivisor, 0.5+*c.Volatility)
	}

	size := risk / price
	if math.IsNaN(size) || math.IsInf(size, 0) {
		return lo
	}
	return math.Min(hi, math.Max(lo, size))
}
