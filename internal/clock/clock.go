// Package clock abstracts wall time and one-shot timers so dwell timers and
// page ticks can be driven deterministically in tests. Both clocks sit on
// github.com/benbjohnson/clock.
package clock

import (
	"sync"
	"time"

	bclock "github.com/benbjohnson/clock"
)

// Timer is a cancellable one-shot callback.
type Timer interface {
	// Stop prevents the callback from running. It reports whether the call
	// stopped the timer before it fired.
	Stop() bool
}

// Clock provides the current time and schedules callbacks.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

var wall = bclock.New()

// Real is the wall clock.
type Real struct{}

// Now returns the current wall time.
func (Real) Now() time.Time { return wall.Now() }

// AfterFunc schedules f on its own goroutine after d.
func (Real) AfterFunc(d time.Duration, f func()) Timer {
	return wall.AfterFunc(d, f)
}

// Manual is a mock clock that only moves when Advance or Set is called.
// The mock runs callbacks on their own goroutine; Manual steps from one
// deadline to the next and waits for each callback to return, so timers
// fire in deadline order and read their own deadline from Now.
type Manual struct {
	mock *bclock.Mock

	mu    sync.Mutex
	seq   uint64
	armed map[*manualTimer]struct{}
}

type manualTimer struct {
	clock    *Manual
	timer    *bclock.Timer
	deadline time.Time
	seq      uint64
	done     chan struct{}
}

// NewManual returns a Manual clock starting at start.
func NewManual(start time.Time) *Manual {
	mock := bclock.NewMock()
	mock.Set(start)
	return &Manual{mock: mock, armed: make(map[*manualTimer]struct{})}
}

// Now returns the manual clock's current time.
func (m *Manual) Now() time.Time { return m.mock.Now() }

// AfterFunc registers f to run once the clock has advanced by d.
func (m *Manual) AfterFunc(d time.Duration, f func()) Timer {
	t := &manualTimer{clock: m, deadline: m.mock.Now().Add(d), done: make(chan struct{})}
	m.mu.Lock()
	m.seq++
	t.seq = m.seq
	m.armed[t] = struct{}{}
	t.timer = m.mock.AfterFunc(d, func() {
		defer close(t.done)
		f()
	})
	m.mu.Unlock()
	return t
}

// Advance moves the clock forward by d, firing every due timer.
func (m *Manual) Advance(d time.Duration) {
	m.advanceTo(m.mock.Now().Add(d))
}

// Set jumps the clock to t if t is later than the current time.
func (m *Manual) Set(t time.Time) {
	m.advanceTo(t)
}

func (m *Manual) advanceTo(target time.Time) {
	for {
		next := m.takeDue(target)
		if next == nil {
			break
		}
		m.mock.Add(max(next.deadline.Sub(m.mock.Now()), 0))
		<-next.done
	}
	if gap := target.Sub(m.mock.Now()); gap > 0 {
		m.mock.Add(gap)
	}
}

// takeDue removes and returns the earliest armed timer due at or before
// target.
func (m *Manual) takeDue(target time.Time) *manualTimer {
	m.mu.Lock()
	defer m.mu.Unlock()
	var next *manualTimer
	for t := range m.armed {
		if t.deadline.After(target) {
			continue
		}
		if next == nil || t.deadline.Before(next.deadline) ||
			(t.deadline.Equal(next.deadline) && t.seq < next.seq) {
			next = t
		}
	}
	if next != nil {
		delete(m.armed, next)
	}
	return next
}

// Pending reports how many timers are waiting to fire.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.armed)
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if _, ok := t.clock.armed[t]; !ok {
		return false
	}
	delete(t.clock.armed, t)
	return t.timer.Stop()
}
