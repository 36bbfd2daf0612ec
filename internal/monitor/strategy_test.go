package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/rovshanmuradov/chaincrawlr/internal/config"
	"github.com/rovshanmuradov/chaincrawlr/internal/domain"
)

func TestStrategyHit(t *testing.T) {
	entry := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	pos := &domain.Position{EntryTime: entry, EntryPrice: 1, HighPrice: 1.5, TrailingStop: 1.35}

	tests := []struct {
		name   string
		s      config.StrategyConfig
		price  float64
		profit float64
		now    time.Time
		want   bool
	}{
		{"percentage reached", config.StrategyConfig{Type: "percentage", Target: 50}, 1.5, 50, entry, true},
		{"percentage short", config.StrategyConfig{Type: "percentage", Target: 50}, 1.4, 40, entry, false},
		{"time elapsed in profit", config.StrategyConfig{Type: "time", Duration: time.Hour}, 1.1, 10, entry.Add(time.Hour), true},
		{"time elapsed at a loss", config.StrategyConfig{Type: "time", Duration: time.Hour}, 0.9, -10, entry.Add(2 * time.Hour), false},
		{"time not elapsed", config.StrategyConfig{Type: "time", Duration: time.Hour}, 1.1, 10, entry.Add(30 * time.Minute), false},
		{"time defaults to an hour", config.StrategyConfig{Type: "time"}, 1.1, 10, entry.Add(59 * time.Minute), false},
		{"trailing floor below stop", config.StrategyConfig{Type: "trailing", TrailPercent: 10}, 1.3, 30, entry, false},
		{"trailing floor above stop", config.StrategyConfig{Type: "trailing", TrailPercent: 10}, 1.6, 60, entry, true},
		{"unknown type", config.StrategyConfig{Type: "moon"}, 100, 9900, entry, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, strategyHit(tc.s, pos, tc.price, tc.profit, tc.now))
		})
	}
}

func TestUnarmedTrailingStopNeverFires(t *testing.T) {
	pos := &domain.Position{EntryPrice: 1, HighPrice: 1}
	s := config.StrategyConfig{Type: StrategyTrailing, TrailPercent: 10}
	assert.False(t, strategyHit(s, pos, 5, 400, time.Now()))
}

func TestMatchStrategyFirstWins(t *testing.T) {
	pos := &domain.Position{EntryPrice: 1, HighPrice: 2, TrailingStop: 1}
	strategies := []config.StrategyConfig{
		{Name: "miss", Type: StrategyPercentage, Target: 500},
		{Name: "first", Type: StrategyPercentage, Target: 50},
		{Name: "second", Type: StrategyTrailing, TrailPercent: 10},
	}
	s, ok := matchStrategy(strategies, pos, 2, 100, time.Now())
	assert.True(t, ok)
	assert.Equal(t, "first", s.Name)
}

func TestStopLossAndPriceDrop(t *testing.T) {
	assert.True(t, stopLossHit(-15, 10))
	assert.True(t, stopLossHit(-10, -10))
	assert.False(t, stopLossHit(-9.99, 10))

	pos := &domain.Position{HighPrice: 1}
	drop, hit := priceDropHit(pos, 0.4, 50)
	assert.True(t, hit)
	assert.InDelta(t, 150.0, drop, 1e-9)

	_, hit = priceDropHit(pos, 0.7, 50)
	assert.False(t, hit)
}

func TestExitHistoryKeepsMostRecent(t *testing.T) {
	h := newExitHistory(3)
	for i, kind := range []string{ExitNormal, ExitEmergency, ExitFallback, ExitNormal} {
		h.add(ExitRecord{Token: string(rune('a' + i)), Kind: kind, Profit: float64(i * 10)})
	}

	recent := h.recent(0)
	assert.Len(t, recent, 3)
	assert.Equal(t, "b", recent[0].Token)
	assert.Equal(t, "d", recent[2].Token)
	assert.Len(t, h.recent(2), 2)

	stats := h.statistics()
	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, 2, stats.Normal)
	assert.Equal(t, 1, stats.Emergency)
	assert.Equal(t, 1, stats.Fallback)
	assert.InDelta(t, 15.0, stats.AvgProfit, 1e-9)
}

func TestAlertGateCooldown(t *testing.T) {
	g := newAlertGate(time.Minute)
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	assert.True(t, g.allow("eth:a", now))
	assert.False(t, g.allow("eth:a", now.Add(30*time.Second)))
	assert.True(t, g.allow("eth:b", now.Add(30*time.Second)))
	assert.True(t, g.allow("eth:a", now.Add(time.Minute)))
}
