package clock

import (
	"sync"
	"time"
)

// Clock reports the current instant as an offset from an arbitrary fixed origin.
// Values from the same Clock are comparable; values from different clocks are not
type Clock interface {
	Now() time.Duration
}

// Monotonic is a Clock backed by the Go runtime monotonic clock
type Monotonic struct {
	origin time.Time
}

// NewMonotonic creates a monotonic clock whose origin is the moment of the call
func NewMonotonic() *Monotonic {
	return &Monotonic{origin: time.Now()}
}

// Now returns the time elapsed since the clock was created
func (m *Monotonic) Now() time.Duration {
	return time.Since(m.origin)
}

// Manual is a Clock that only moves when told to
type Manual struct {
	mu  sync.Mutex
	now time.Duration
}

// NewManual creates a manual clock starting at the given instant
func NewManual(start time.Duration) *Manual {
	return &Manual{now: start}
}

// Now returns the current manual time
func (m *Manual) Now() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Set moves the clock to an absolute instant
func (m *Manual) Set(t time.Duration) {
	m.mu.Lock()
	m.now = t
	m.mu.Unlock()
}

// Advance moves the clock forward by d and returns the new instant
func (m *Manual) Advance(d time.Duration) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now += d
	return m.now
}
