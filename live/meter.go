package live

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// DefaultMeterWindow is how often a Meter reports a rate.
const DefaultMeterWindow = 500 * time.Millisecond

// Meter measures an event rate over consecutive windows.
type Meter struct {
	clock  clock.Clock
	window time.Duration

	mu    sync.Mutex
	count int
	since time.Time
	rate  float64
}

// NewMeter returns a meter reporting at most once per window.
func NewMeter(clk clock.Clock, window time.Duration) *Meter {
	if clk == nil {
		clk = clock.New()
	}
	if window <= 0 {
		window = DefaultMeterWindow
	}
	return &Meter{clock: clk, window: window, since: clk.Now()}
}

// Tick counts one event. Once a full window has elapsed since the last report
// it returns the events per second over that span and starts a new window.
func (m *Meter) Tick() (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.count++
	now := m.clock.Now()
	elapsed := now.Sub(m.since)
	if elapsed < m.window {
		return 0, false
	}
	m.rate = float64(m.count) / elapsed.Seconds()
	m.count = 0
	m.since = now
	return m.rate, true
}

// Rate returns the last reported rate.
func (m *Meter) Rate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rate
}

// Reset discards the current window and the last rate.
func (m *Meter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.count = 0
	m.rate = 0
	m.since = m.clock.Now()
}
