package infra

import (
	"sync/atomic"
)

// Metrics provides lightweight observability without external dependencies.
// Uses atomic operations for thread-safety.
type Metrics struct {
	// Counters
	ticksProcessed  atomic.Uint64
	ordersFilled    atomic.Uint64
	ordersRejected  atomic.Uint64
	replaySeconds   atomic.Uint64
	storageFailures atomic.Uint64

	// Gauges
	activeSubscribers atomic.Int32
}

// GlobalMetrics is the singleton metrics instance.
var GlobalMetrics = &Metrics{}

// RecordTick records one processed engine tick.
func (m *Metrics) RecordTick() {
	m.ticksProcessed.Add(1)
}

// RecordOrderFilled records a filled order.
func (m *Metrics) RecordOrderFilled() {
	m.ordersFilled.Add(1)
}

// RecordOrderRejected records a rejected order.
func (m *Metrics) RecordOrderRejected() {
	m.ordersRejected.Add(1)
}

// RecordReplay accumulates replayed simulation seconds.
func (m *Metrics) RecordReplay(seconds int64) {
	if seconds > 0 {
		m.replaySeconds.Add(uint64(seconds))
	}
}

// RecordStorageFailure records a persistence failure.
func (m *Metrics) RecordStorageFailure() {
	m.storageFailures.Add(1)
}

// AddSubscriber adjusts the active subscriber gauge.
func (m *Metrics) AddSubscriber(delta int32) {
	m.activeSubscribers.Add(delta)
}

// Snapshot returns current metric values for diagnostics.
func (m *Metrics) Snapshot() map[string]int64 {
	return map[string]int64{
		"ticks_processed":    int64(m.ticksProcessed.Load()),
		"orders_filled":      int64(m.ordersFilled.Load()),
		"orders_rejected":    int64(m.ordersRejected.Load()),
		"replay_seconds":     int64(m.replaySeconds.Load()),
		"storage_failures":   int64(m.storageFailures.Load()),
		"active_subscribers": int64(m.activeSubscribers.Load()),
	}
}
