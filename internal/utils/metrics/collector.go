// internal/utils/metrics/collector.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "chaincrawlr"

// Collector owns the engine's prometheus collectors. A nil *Collector is a
// valid no-op, so components can run without metrics in tests.
type Collector struct {
	registry prometheus.Registerer
	gatherer prometheus.Gatherer

	entries       *prometheus.CounterVec
	exits         *prometheus.CounterVec
	safetyChecks  *prometheus.CounterVec
	notifications *prometheus.CounterVec
	swapDuration  *prometheus.HistogramVec
	rpcLatency    *prometheus.HistogramVec
	openPositions prometheus.Gauge
	portfolio     prometheus.Gauge
	blacklisted   prometheus.Gauge
}

// NewCollector registers all collectors on a fresh registry.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	return NewCollectorWith(reg, reg)
}

// NewCollectorWith registers on reg and serves from gatherer; pass
// prometheus.DefaultRegisterer and DefaultGatherer to use the global registry.
func NewCollectorWith(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Collector {
	c := &Collector{
		registry: reg,
		gatherer: gatherer,
		entries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "entries_total",
				Help:      "Entry attempts by chain and result",
			},
			[]string{"chain", "result"},
		),
		exits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "exits_total",
				Help:      "Exit attempts by chain, kind and result",
			},
			[]string{"chain", "kind", "result"},
		),
		safetyChecks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "safety_checks_total",
				Help:      "Safety check outcomes",
			},
			[]string{"check", "result"},
		),
		notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_total",
				Help:      "Notifications by kind and delivery result",
			},
			[]string{"kind", "result"},
		),
		swapDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "swap_duration_seconds",
				Help:      "Swap duration in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
			},
			[]string{"chain", "venue"},
		),
		rpcLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "rpc_latency_seconds",
				Help:      "RPC request latency in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
			},
			[]string{"chain", "method"},
		),
		openPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_positions",
			Help:      "Number of open positions",
		}),
		portfolio: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "portfolio_value",
			Help:      "Portfolio value in base currency",
		}),
		blacklisted: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "blacklisted_tokens",
			Help:      "Tokens currently blacklisted for entry",
		}),
	}

	reg.MustRegister(
		c.entries,
		c.exits,
		c.safetyChecks,
		c.notifications,
		c.swapDuration,
		c.rpcLatency,
		c.openPositions,
		c.portfolio,
		c.blacklisted,
	)
	return c
}

// Gatherer exposes the registry for the HTTP handler and tests.
func (c *Collector) Gatherer() prometheus.Gatherer {
	return c.gatherer
}

// Reset clears all vector metrics.
func (c *Collector) Reset() {
	if c == nil {
		return
	}
	c.entries.Reset()
	c.exits.Reset()
	c.safetyChecks.Reset()
	c.notifications.Reset()
	c.swapDuration.Reset()
	c.rpcLatency.Reset()
}
