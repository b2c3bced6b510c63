package domain

import "math"

// Simulation constants. These are deliberately fixed (not configuration)
// so that independent processes replaying the same persisted state walk
// the exact same price path.
const (
	// MarketKey is the singleton key under which the shared market row
	// is persisted.
	MarketKey = "current"

	// PriceFloor is the hard lower bound on the mid price.
	PriceFloor = 1.0

	// VelocityScale converts the smoothed velocity term into price units.
	VelocityScale = 10.0

	// HalfSpread is the fixed half-width applied around the mid price
	// when quoting in the stateless shape.
	HalfSpread = 2.5

	// BarDurationMS is the width of one OHLC bar in milliseconds.
	BarDurationMS = 60_000

	// BarCap bounds the completed-bar history. Oldest bars are evicted
	// ring-buffer style once the cap is exceeded.
	BarCap = 120

	// FillHistoryCap bounds the per-identity trade history (newest first).
	FillHistoryCap = 50

	// TopTradeCap bounds the global leaderboard.
	TopTradeCap = 3

	// StartingCash is the balance a ledger is seeded with on first trade.
	StartingCash = 10_000_000.0

	// MinVisitors and MinRequests floor the exogenous demand proxies.
	MinVisitors = 5.0
	MinRequests = 1.0

	// SeedVisitors and SeedRequests are the demand proxies a fresh
	// market starts from.
	SeedVisitors = 140.0
	SeedRequests = 40.0

	// ImpactPerUnit and MaxImpact bound the market-impact feedback a
	// single order applies to the velocity term.
	ImpactPerUnit = 0.01
	MaxImpact     = 5.0
)

// Candle is one OHLC aggregate over a fixed window.
// Invariant: Low <= Open, Close <= High.
type Candle struct {
	StartMS int64   `json:"start"`
	Open    float64 `json:"open"`
	High    float64 `json:"high"`
	Low     float64 `json:"low"`
	Close   float64 `json:"close"`
}

// MarketState is the full state of the shared synthetic market. There is
// exactly one, persisted under MarketKey. It is advanced one simulated
// second at a time; see internal/sim.
type MarketState struct {
	Visitors      float64  `json:"visitors"`
	Requests      float64  `json:"requests"`
	Velocity      float64  `json:"velocity"`
	Price         float64  `json:"price"`
	Bars          []Candle `json:"bars"`
	CurrentBar    *Candle  `json:"current_bar,omitempty"`
	LastUpdatedMS int64    `json:"last_updated"`
}

// NewMarketState returns a market seeded with the fixed start values,
// valid as-of nowMS.
func NewMarketState(nowMS int64) *MarketState {
	s := &MarketState{
		Visitors:      SeedVisitors,
		Requests:      SeedRequests,
		Velocity:      0,
		LastUpdatedMS: nowMS,
	}
	s.Reprice()
	return s
}

// Reprice recomputes the mid price from the demand proxy and velocity.
// Call after any mutation of Visitors or Velocity.
func (s *MarketState) Reprice() {
	s.Price = math.Max(PriceFloor, s.Visitors+s.Velocity*VelocityScale)
}

// ApplyImpact feeds a signed trade size back into the velocity term.
// Buys push velocity up, sells push it down, bounded per order so a
// single trade cannot destabilize the process.
func (s *MarketState) ApplyImpact(side Side, size int64) {
	delta := math.Min(float64(size)*ImpactPerUnit, MaxImpact)
	if side == SideSell {
		delta = -delta
	}
	s.Velocity += delta
	s.Reprice()
}
