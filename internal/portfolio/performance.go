// internal/portfolio/performance.go
package portfolio

import (
	"github.com/rovshanmuradov/chaincrawlr/internal/domain"
)

const recentTrades = 5

// Performance summarizes the closed-trade history.
type Performance struct {
	Trades     int                  `json:"trades"`
	Wins       int                  `json:"wins"`
	Losses     int                  `json:"losses"`
	TotalPnL   float64              `json:"total_pnl"`
	WinRate    float64              `json:"win_rate"`
	AvgWin     float64              `json:"avg_win"`
	AvgLoss    float64              `json:"avg_loss"`
	BestTrade  *domain.ClosedTrade  `json:"best_trade,omitempty"`
	WorstTrade *domain.ClosedTrade  `json:"worst_trade,omitempty"`
	Recent     []domain.ClosedTrade `json:"recent_trades"`
}

// PerformanceMetrics is derived from the history alone.
func (l *Ledger) PerformanceMetrics() Performance {
	return Summarize(l.History())
}

// Summarize computes Performance over trades in close order. A trade with
// zero pnl counts as a loss.
func Summarize(trades []domain.ClosedTrade) Performance {
	perf := Performance{Trades: len(trades), Recent: []domain.ClosedTrade{}}
	if len(trades) == 0 {
		return perf
	}

	var winSum, lossSum float64
	best, worst := 0, 0
	for i, t := range trades {
		perf.TotalPnL += t.PnL
		if t.IsWin() {
			perf.Wins++
			winSum += t.PnL
		} else {
			perf.Losses++
			lossSum += t.PnL
		}
		if t.PnL > trades[best].PnL {
			best = i
		}
		if t.PnL < trades[worst].PnL {
			worst = i
		}
	}

	perf.WinRate = float64(perf.Wins) / float64(len(trades)) * 100
	if perf.Wins > 0 {
		perf.AvgWin = winSum / float64(perf.Wins)
	}
	if perf.Losses > 0 {
		perf.AvgLoss = lossSum / float64(perf.Losses)
	}
	b, w := trades[best], trades[worst]
	perf.BestTrade, perf.WorstTrade = &b, &w

	for i := len(trades) - 1; i >= 0 && len(perf.Recent) < recentTrades; i-- {
		perf.Recent = append(perf.Recent, trades[i])
	}
	return perf
}
