// internal/blockchain/solbc/rpc/pool.go
package rpc

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Endpoints is the ordered list of primary and fallback RPC URLs for one chain.
// Retrying callers pick a node by attempt index so that consecutive attempts
// land on different nodes.
type Endpoints struct {
	urls   []string
	logger *zap.Logger

	mu      sync.Mutex
	metrics map[string]*NodeMetrics
}

// NodeMetrics tracks per-node outcomes.
type NodeMetrics struct {
	Requests    int64
	Errors      int64
	LastLatency time.Duration
	LastError   time.Time
}

// NewEndpoints joins primary and fallback URLs, dropping duplicates.
func NewEndpoints(primary, fallback []string, logger *zap.Logger) (*Endpoints, error) {
	seen := make(map[string]struct{})
	var urls []string
	for _, list := range [][]string{primary, fallback} {
		for _, u := range list {
			if u == "" {
				continue
			}
			if _, ok := seen[u]; ok {
				continue
			}
			seen[u] = struct{}{}
			urls = append(urls, u)
		}
	}
	if len(urls) == 0 {
		return nil, ErrNoEndpoints
	}
	return &Endpoints{
		urls:    urls,
		logger:  logger.Named("rpc-endpoints"),
		metrics: make(map[string]*NodeMetrics, len(urls)),
	}, nil
}

// At returns the node for the given zero-based attempt.
func (e *Endpoints) At(attempt int) string {
	if attempt < 0 {
		attempt = -attempt
	}
	return e.urls[attempt%len(e.urls)]
}

// Primary is the first configured URL.
func (e *Endpoints) Primary() string {
	return e.urls[0]
}

func (e *Endpoints) Len() int {
	return len(e.urls)
}

// Observe records the outcome of one request against url.
func (e *Endpoints) Observe(url string, latency time.Duration, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, ok := e.metrics[url]
	if !ok {
		m = &NodeMetrics{}
		e.metrics[url] = m
	}
	m.Requests++
	m.LastLatency = latency
	if err != nil {
		m.Errors++
		m.LastError = time.Now()
		e.logger.Debug("RPC node error", zap.String("url", url), zap.Error(err))
	}
}

// Metrics returns a copy of the per-node counters.
func (e *Endpoints) Metrics() map[string]NodeMetrics {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make(map[string]NodeMetrics, len(e.metrics))
	for url, m := range e.metrics {
		out[url] = *m
	}
	return out
}
