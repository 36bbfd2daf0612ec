// internal/domain/position.go
package domain

import (
	"time"
)

// Position is a single open holding of one token on one chain.
type Position struct {
	TokenAddress string     `json:"token_address"`
	Chain        string     `json:"chain"`
	Venue        string     `json:"dex"`
	EntryTime    time.Time  `json:"entry_time"`
	EntryPrice   float64    `json:"entry_price"`
	Amount       float64    `json:"amount"`
	HighPrice    float64    `json:"high_price"`
	TrailingStop float64    `json:"trailing_stop"`
	ExitTime     *time.Time `json:"exit_time,omitempty"`
	ExitPrice    *float64   `json:"exit_price,omitempty"`
	TxRef        string     `json:"tx_hash,omitempty"`
}

// ProfitPercent returns the unrealised profit at price, in percent.
func (p *Position) ProfitPercent(price float64) float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	return (price/p.EntryPrice - 1) * 100
}

// DrawdownPercent is how far price sits below the high-water mark,
// measured as (high / price - 1) * 100.
func (p *Position) DrawdownPercent(price float64) float64 {
	if price <= 0 {
		return 0
	}
	return (p.HighPrice/price - 1) * 100
}

// HoldTime returns how long the position has been open.
func (p *Position) HoldTime(now time.Time) time.Duration {
	return now.Sub(p.EntryTime)
}

// ClosedTrade is an immutable record of a completed round trip.
type ClosedTrade struct {
	TokenAddress string        `json:"token_address"`
	Chain        string        `json:"chain"`
	EntryPrice   float64       `json:"entry_price"`
	ExitPrice    float64       `json:"exit_price"`
	Amount       float64       `json:"amount"`
	PnL          float64       `json:"pnl"`
	Duration     time.Duration `json:"duration"`
	EntryTime    time.Time     `json:"entry_time"`
	ExitTime     time.Time     `json:"exit_time"`
	TxRef        string        `json:"tx_hash,omitempty"`
}

// IsWin reports whether the trade closed in profit.
func (t ClosedTrade) IsWin() bool {
	return t.PnL > 0
}
