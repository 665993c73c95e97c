// Package clock hands out the timestamps replicas stamp their
// set operations with.
package clock

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Monotonic issues strictly increasing timestamps on top of a
// wall clock. Witness moves it past timestamps learned from other
// replicas, so it behaves like a hybrid logical clock whose logical
// part is folded into the nanoseconds.
type Monotonic struct {
	mu    sync.Mutex
	clock clockwork.Clock
	last  time.Time
}

// NewMonotonic wraps c. A nil c means the real wall clock.
func NewMonotonic(c clockwork.Clock) *Monotonic {
	if c == nil {
		c = clockwork.NewRealClock()
	}
	return &Monotonic{clock: c}
}

// Now returns a timestamp later than every timestamp returned or
// witnessed before.
func (m *Monotonic) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now().Round(0).UTC()
	if !now.After(m.last) {
		now = m.last.Add(time.Nanosecond)
	}
	m.last = now
	return now
}

// Witness records a timestamp seen elsewhere.
func (m *Monotonic) Witness(ts time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ts = ts.Round(0).UTC()
	if ts.After(m.last) {
		m.last = ts
	}
}

// Last returns the latest timestamp issued or witnessed.
func (m *Monotonic) Last() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}
