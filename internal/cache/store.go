// internal/cache/store.go
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by helpers that require a key to be present.
var ErrNotFound = errors.New("cache: key not found")

// Store is a TTL-scoped key-value surface used as an idempotency aid.
//
// There is no compare-and-swap. Concurrent writers to the same key race and
// the last write wins; callers that need per-key exclusivity must provide it
// themselves (PendingEntry and the exit evaluation set do this in-process).
type Store interface {
	// Get decodes the value at key into dst. It reports false when the key is
	// absent or older than the store TTL; expired entries are purged.
	Get(ctx context.Context, key string, dst any) (bool, error)
	// Set upserts value under key with the store TTL.
	Set(ctx context.Context, key string, value any) error
	Delete(ctx context.Context, key string) error
	TTL() time.Duration
	Close() error
}

// Result is the memoized outcome of an on-chain action.
type Result struct {
	Status string         `json:"status"`
	TxRef  string         `json:"tx_ref,omitempty"`
	Cost   float64        `json:"cost,omitempty"`
	Error  string         `json:"error,omitempty"`
	Data   map[string]any `json:"data,omitempty"`
	At     time.Time      `json:"at"`
}

const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Succeeded reports whether the memoized action completed.
func (r Result) Succeeded() bool {
	return r.Status == StatusSuccess
}
