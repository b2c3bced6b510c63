// Package risk gates order admission in the continuous shape: a
// per-identity size ceiling and slippage multiplier derived from the
// identity's upgrade level, cached briefly to avoid hammering the
// entitlement source on every order.
package risk

import (
	"sync"
	"time"
)

const (
	// baseMaxSize is the ceiling at level 0; each upgrade level raises it
	// by the same amount.
	baseMaxSize = 500

	// cacheTTL is how long a looked-up level stays fresh.
	cacheTTL = 30 * time.Second
)

// EntitlementSource resolves an identity's upgrade level. Level 0 is the
// un-upgraded default; missing identities resolve to 0.
type EntitlementSource interface {
	Level(identity string) (int, error)
}

// Decision is the gate's verdict for one order.
type Decision struct {
	Allowed      bool
	MaxSize      int64
	SlippageMult float64
}

type cachedLevel struct {
	level   int
	fetched time.Time
}

// Gate checks orders against per-identity limits.
// Safe for concurrent use.
type Gate struct {
	src EntitlementSource
	now func() time.Time

	mu    sync.Mutex
	cache map[string]cachedLevel
}

// NewGate creates a gate backed by the given entitlement source.
func NewGate(src EntitlementSource) *Gate {
	return &Gate{
		src:   src,
		now:   time.Now,
		cache: make(map[string]cachedLevel),
	}
}

// Check resolves the identity's limits and reports whether an order of
// the given size may proceed. A source failure degrades to level 0
// rather than blocking trading.
func (g *Gate) Check(identity string, size int64) Decision {
	level := g.level(identity)

	maxSize := int64(baseMaxSize * (level + 1))
	return Decision{
		Allowed:      size <= maxSize,
		MaxSize:      maxSize,
		SlippageMult: 1 / (1 + 0.25*float64(level)),
	}
}

func (g *Gate) level(identity string) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	if c, ok := g.cache[identity]; ok && g.now().Sub(c.fetched) < cacheTTL {
		return c.level
	}

	level, err := g.src.Level(identity)
	if err != nil {
		// Stale-if-error: keep serving the old level if we have one.
		if c, ok := g.cache[identity]; ok {
			return c.level
		}
		level = 0
	}
	g.cache[identity] = cachedLevel{level: level, fetched: g.now()}
	return level
}
