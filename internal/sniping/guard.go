// internal/sniping/guard.go
package sniping

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/chaincrawlr/internal/cache"
)

// pendingSet records in-flight entries. An entry older than ttl is stale and
// may be replaced.
type pendingSet struct {
	mu      sync.Mutex
	ttl     time.Duration
	started map[string]time.Time
}

func newPendingSet(ttl time.Duration) *pendingSet {
	return &pendingSet{ttl: ttl, started: make(map[string]time.Time)}
}

// acquire registers token at now. It returns the age of the blocking entry
// and false when a fresh entry already exists, and reports whether a stale
// entry was replaced.
func (p *pendingSet) acquire(token string, now time.Time) (ok bool, age time.Duration, stale bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if started, exists := p.started[token]; exists {
		age = now.Sub(started)
		if age < p.ttl {
			return false, age, false
		}
		stale = true
	}
	p.started[token] = now
	return true, 0, stale
}

// release drops token only if the entry is still the one registered at
// started; a caller that lost its entry to stale recovery leaves the newer
// one in place.
func (p *pendingSet) release(token string, started time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if current, ok := p.started[token]; ok && current.Equal(started) {
		delete(p.started, token)
	}
}

func (p *pendingSet) snapshot() map[string]time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]time.Time, len(p.started))
	for k, v := range p.started {
		out[k] = v
	}
	return out
}

// blacklist is the set of tokens that failed entry. When store is set,
// entries are also written there so they outlive the process.
type blacklist struct {
	mu     sync.RWMutex
	tokens map[string]struct{}
	store  cache.Store
	logger *zap.Logger
}

func newBlacklist(store cache.Store, logger *zap.Logger) *blacklist {
	return &blacklist{tokens: make(map[string]struct{}), store: store, logger: logger}
}

func (b *blacklist) add(ctx context.Context, token string) {
	b.mu.Lock()
	b.tokens[token] = struct{}{}
	b.mu.Unlock()

	if b.store == nil {
		return
	}
	if err := b.store.Set(ctx, cache.BlacklistKey(token), true); err != nil {
		b.logger.Warn("Failed to persist blacklist entry", zap.String("token", token), zap.Error(err))
	}
}

func (b *blacklist) contains(ctx context.Context, token string) bool {
	b.mu.RLock()
	_, ok := b.tokens[token]
	b.mu.RUnlock()
	if ok || b.store == nil {
		return ok
	}

	var listed bool
	found, err := b.store.Get(ctx, cache.BlacklistKey(token), &listed)
	if err != nil {
		b.logger.Debug("Blacklist lookup failed", zap.String("token", token), zap.Error(err))
		return false
	}
	if found && listed {
		b.mu.Lock()
		b.tokens[token] = struct{}{}
		b.mu.Unlock()
		return true
	}
	return false
}

func (b *blacklist) len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.tokens)
}

func (b *blacklist) clear(ctx context.Context) {
	b.mu.Lock()
	tokens := b.tokens
	b.tokens = make(map[string]struct{})
	b.mu.Unlock()

	if b.store == nil {
		return
	}
	for token := range tokens {
		if err := b.store.Delete(ctx, cache.BlacklistKey(token)); err != nil {
			b.logger.Debug("Failed to delete blacklist entry", zap.String("token", token), zap.Error(err))
		}
	}
}
