// Package live runs detection over a continuous frame stream.
package live

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// DefaultMinInterval admits roughly twenty inferences per second.
const DefaultMinInterval = time.Second / 20

// GateStats counts admission decisions.
type GateStats struct {
	Accepted  uint64 `json:"accepted"`
	Throttled uint64 `json:"throttled"`
	Busy      uint64 `json:"busy"`
}

// Gate admits frames for inference.
//
// A frame is dropped when it arrives less than the minimum interval after the
// last accepted frame, or when an accepted frame is still being processed.
// At most one frame holds the permit at any time.
type Gate struct {
	minInterval  time.Duration
	permit       *semaphore.Weighted
	lastAccepted atomic.Int64
	seen         atomic.Bool

	accepted  atomic.Uint64
	throttled atomic.Uint64
	busy      atomic.Uint64
}

// NewGate returns a gate with the given minimum interval between accepted
// frames. A non-positive interval disables throttling.
func NewGate(minInterval time.Duration) *Gate {
	return &Gate{
		minInterval: minInterval,
		permit:      semaphore.NewWeighted(1),
	}
}

// Offer asks to admit a frame that arrived at now. It never blocks.
//
// Returns:
//   - release: Returns the permit. Call it exactly when the detection for
//     this frame has finished, successfully or not. Extra calls are no-ops.
//   - ok: Whether the frame was admitted. release is nil when ok is false.
func (g *Gate) Offer(now time.Time) (release func(), ok bool) {
	last := g.lastAccepted.Load()
	if g.seen.Load() && now.UnixNano()-last < int64(g.minInterval) {
		g.throttled.Add(1)
		return nil, false
	}
	if !g.permit.TryAcquire(1) {
		g.busy.Add(1)
		return nil, false
	}
	g.lastAccepted.Store(now.UnixNano())
	g.seen.Store(true)
	g.accepted.Add(1)

	var once sync.Once
	return func() {
		once.Do(func() { g.permit.Release(1) })
	}, true
}

// InFlight reports whether the permit is currently held.
func (g *Gate) InFlight() bool {
	if g.permit.TryAcquire(1) {
		g.permit.Release(1)
		return false
	}
	return true
}

// Stats returns the admission counters.
func (g *Gate) Stats() GateStats {
	return GateStats{
		Accepted:  g.accepted.Load(),
		Throttled: g.throttled.Load(),
		Busy:      g.busy.Load(),
	}
}
