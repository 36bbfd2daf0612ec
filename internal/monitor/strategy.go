// internal/monitor/strategy.go
package monitor

import (
	"math"
	"strings"
	"time"

	"github.com/rovshanmuradov/chaincrawlr/internal/config"
	"github.com/rovshanmuradov/chaincrawlr/internal/domain"
)

// Strategy types accepted in auto_exit.strategies.
const (
	StrategyPercentage = "percentage"
	StrategyTime       = "time"
	StrategyTrailing   = "trailing"
)

const (
	defaultHoldDuration = time.Hour
	defaultTrailPercent = 10.0
)

// Trigger names why an exit fired.
type Trigger string

const (
	TriggerNone     Trigger = ""
	TriggerRugPull  Trigger = "rug_pull"
	TriggerStopLoss Trigger = "stop_loss"
	TriggerStrategy Trigger = "strategy"
)

// Decision is the outcome of evaluating one position at one price.
type Decision struct {
	Trigger   Trigger
	Emergency bool
	// Strategy is the name of the matching strategy for TriggerStrategy.
	Strategy string
	Reason   string
}

func (d Decision) Exit() bool {
	return d.Trigger != TriggerNone
}

// Kind is the metrics and history label for the exit path.
func (d Decision) Kind() string {
	if d.Emergency {
		return ExitEmergency
	}
	return ExitNormal
}

// stopLossHit reports profit at or below -|stopLoss| percent.
func stopLossHit(profit, stopLoss float64) bool {
	if stopLoss == 0 {
		return false
	}
	return profit <= -math.Abs(stopLoss)
}

// priceDropHit reports a fall from the high-water mark of at least
// threshold percent.
func priceDropHit(pos *domain.Position, price, threshold float64) (float64, bool) {
	if threshold <= 0 || price <= 0 || pos.HighPrice <= 0 {
		return 0, false
	}
	drop := pos.DrawdownPercent(price)
	return drop, drop >= threshold
}

// matchStrategy evaluates the configured strategies in order; the first
// match wins.
func matchStrategy(strategies []config.StrategyConfig, pos *domain.Position, price, profit float64, now time.Time) (config.StrategyConfig, bool) {
	for _, s := range strategies {
		if strategyHit(s, pos, price, profit, now) {
			return s, true
		}
	}
	return config.StrategyConfig{}, false
}

func strategyHit(s config.StrategyConfig, pos *domain.Position, price, profit float64, now time.Time) bool {
	switch strings.ToLower(s.Type) {
	case StrategyPercentage:
		return profit >= s.Target

	case StrategyTime:
		hold := s.Duration
		if hold <= 0 {
			hold = defaultHoldDuration
		}
		return pos.HoldTime(now) >= hold && profit > 0

	case StrategyTrailing:
		// An unarmed stop never triggers.
		if pos.TrailingStop <= 0 {
			return false
		}
		trail := s.TrailPercent
		if trail <= 0 {
			trail = defaultTrailPercent
		}
		floor := price * (1 - trail/100)
		return floor > pos.TrailingStop
	}
	return false
}

func strategyName(s config.StrategyConfig) string {
	if s.Name != "" {
		return s.Name
	}
	return "unnamed"
}
