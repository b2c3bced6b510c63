package sim

import "synthex/internal/domain"

// CatchUp replays the market from its persisted as-of instant to nowMS,
// one simulated second per iteration, and returns the number of seconds
// replayed. A non-positive gap leaves the state untouched.
//
// maxSeconds caps the replay span so a request arriving after a long idle
// period does not stall unboundedly: when the gap exceeds the cap the
// skipped span is dropped (the clock jumps forward) and only the last
// maxSeconds are simulated. Pass 0 for no cap.
//
// CatchUp mutates only the in-memory state; persisting the advanced state
// is the caller's responsibility, which keeps replay all-or-nothing with
// respect to write-back.
func CatchUp(s *domain.MarketState, nowMS int64, maxSeconds int64) int64 {
	elapsed := (nowMS - s.LastUpdatedMS) / 1000
	if elapsed <= 0 {
		return 0
	}
	if maxSeconds > 0 && elapsed > maxSeconds {
		s.LastUpdatedMS += (elapsed - maxSeconds) * 1000
		elapsed = maxSeconds
	}
	for i := int64(0); i < elapsed; i++ {
		Step(s)
		foldBar(s)
	}
	return elapsed
}
