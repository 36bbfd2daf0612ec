// internal/utils/metrics/metrics.go
package metrics

import (
	"time"
)

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failed"
}

// RecordEntry counts an entry attempt. outcome is a short reason such as
// "success", "blacklisted", "duplicate" or "failed".
func (c *Collector) RecordEntry(chain, outcome string) {
	if c == nil {
		return
	}
	c.entries.WithLabelValues(chain, outcome).Inc()
}

// RecordExit counts an exit attempt; kind is normal, emergency or fallback.
func (c *Collector) RecordExit(chain, kind string, ok bool) {
	if c == nil {
		return
	}
	c.exits.WithLabelValues(chain, kind, result(ok)).Inc()
}

// RecordSafetyCheck counts a check verdict; outcome is passed, failed or skipped.
func (c *Collector) RecordSafetyCheck(check, outcome string) {
	if c == nil {
		return
	}
	c.safetyChecks.WithLabelValues(check, outcome).Inc()
}

// RecordNotification counts a notification; outcome is sent, dropped, duplicate or failed.
func (c *Collector) RecordNotification(kind, outcome string) {
	if c == nil {
		return
	}
	c.notifications.WithLabelValues(kind, outcome).Inc()
}

func (c *Collector) RecordSwap(chain, venue string, duration time.Duration) {
	if c == nil {
		return
	}
	c.swapDuration.WithLabelValues(chain, venue).Observe(duration.Seconds())
}

func (c *Collector) RecordRPCLatency(chain, method string, duration time.Duration) {
	if c == nil {
		return
	}
	c.rpcLatency.WithLabelValues(chain, method).Observe(duration.Seconds())
}

func (c *Collector) SetOpenPositions(n int) {
	if c == nil {
		return
	}
	c.openPositions.Set(float64(n))
}

func (c *Collector) SetPortfolioValue(v float64) {
	if c == nil {
		return
	}
	c.portfolio.Set(v)
}

func (c *Collector) SetBlacklisted(n int) {
	if c == nil {
		return
	}
	c.blacklisted.Set(float64(n))
}
