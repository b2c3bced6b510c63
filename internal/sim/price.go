// Package sim implements the deterministic market simulation: the
// per-second price process, OHLC bar folding, and the replay driver that
// catches a persisted state up to the present.
//
// The process takes no external randomness. Every step is a pure function
// of the prior state and the new simulated instant, so two independent
// processes replaying the same persisted state over the same elapsed
// seconds converge to the same path.
package sim

import (
	"math"

	"synthex/internal/domain"
)

// Step advances the market by exactly one simulated second.
func Step(s *domain.MarketState) {
	s.LastUpdatedMS += 1000
	t := float64(s.LastUpdatedMS / 1000)

	// Two time-indexed oscillators: a demand term feeding the visitor
	// and request proxies, and a drift shock feeding velocity.
	demand := math.Sin(t/55)*2.0 + math.Sin(t/13)*1.2
	shock := math.Cos(t/34)*1.5 + math.Sin(t/7)*0.8

	s.Visitors = math.Max(domain.MinVisitors, s.Visitors+demand*0.5)
	s.Requests = math.Max(domain.MinRequests, s.Requests+demand*0.3)

	// Exponential smoothing toward the shock keeps the drift
	// path-dependent without ever diverging.
	s.Velocity = s.Velocity*0.95 + shock*0.05

	s.Reprice()
}
