// internal/monitor/alerts.go
package monitor

import (
	"sync"
	"time"
)

const defaultAlertCooldown = 5 * time.Minute

// alertGate suppresses repeats of the same alert within a cooldown, so a
// failing rug exit does not page on every poll.
type alertGate struct {
	mu       sync.Mutex
	cooldown time.Duration
	last     map[string]time.Time
}

func newAlertGate(cooldown time.Duration) *alertGate {
	if cooldown <= 0 {
		cooldown = defaultAlertCooldown
	}
	return &alertGate{cooldown: cooldown, last: make(map[string]time.Time)}
}

// allow reports whether key may alert at now and, if so, starts its cooldown.
func (g *alertGate) allow(key string, now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if at, ok := g.last[key]; ok && now.Sub(at) < g.cooldown {
		return false
	}
	g.last[key] = now
	// Drop entries that can no longer suppress anything.
	for k, at := range g.last {
		if now.Sub(at) >= g.cooldown {
			delete(g.last, k)
		}
	}
	return true
}

