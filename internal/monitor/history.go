// internal/monitor/history.go
package monitor

import (
	"sync"
	"time"
)

// Exit kinds recorded in history and metrics.
const (
	ExitNormal    = "normal"
	ExitEmergency = "emergency"
	ExitFallback  = "fallback"
)

// ExitRecord describes one completed exit.
type ExitRecord struct {
	Token     string    `json:"token"`
	Chain     string    `json:"chain"`
	Kind      string    `json:"kind"`
	Trigger   Trigger   `json:"trigger"`
	Reason    string    `json:"reason,omitempty"`
	Amount    float64   `json:"amount"`
	ExitPrice float64   `json:"exit_price"`
	Profit    float64   `json:"profit"`
	TxRef     string    `json:"tx_hash,omitempty"`
	Time      time.Time `json:"exit_time"`
}

// ExitStatistics aggregates every exit since start.
type ExitStatistics struct {
	Total     int     `json:"total"`
	Normal    int     `json:"normal"`
	Emergency int     `json:"emergency"`
	Fallback  int     `json:"fallback"`
	AvgProfit float64 `json:"avg_profit"`
}

// exitHistory keeps the most recent exits in memory.
type exitHistory struct {
	mu      sync.RWMutex
	records []ExitRecord
	max     int

	stats     ExitStatistics
	profitSum float64
}

func newExitHistory(max int) *exitHistory {
	if max <= 0 {
		max = 500
	}
	return &exitHistory{records: make([]ExitRecord, 0, 64), max: max}
}

func (h *exitHistory) add(r ExitRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.records) >= h.max {
		h.records = h.records[1:]
	}
	h.records = append(h.records, r)

	h.stats.Total++
	switch r.Kind {
	case ExitEmergency:
		h.stats.Emergency++
	case ExitFallback:
		h.stats.Fallback++
	default:
		h.stats.Normal++
	}
	h.profitSum += r.Profit
	h.stats.AvgProfit = h.profitSum / float64(h.stats.Total)
}

// recent returns up to limit exits, oldest first.
func (h *exitHistory) recent(limit int) []ExitRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if limit <= 0 || limit > len(h.records) {
		limit = len(h.records)
	}
	out := make([]ExitRecord, limit)
	copy(out, h.records[len(h.records)-limit:])
	return out
}

func (h *exitHistory) statistics() ExitStatistics {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.stats
}
