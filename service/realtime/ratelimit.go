package realtime

import (
	"sync"
	"time"
)

// RateState is one connection's sliding fixed window counter. Strikes counts
// consecutive rejected events and resets on the first accepted one.
type RateState struct {
	Count         int
	WindowResetAt time.Time
	Strikes       int
}

// RateLimiter bounds inbound event throughput per connection. State is keyed
// by connection id and released on Remove, so memory tracks the live
// connection set. Windows self-expire by wall-clock comparison; no timers.
type RateLimiter struct {
	mu         sync.Mutex
	window     time.Duration
	max        int
	maxStrikes int // consecutive rejections before ShouldDisconnect; 0 = never
	states     map[string]*RateState
	clock      func() time.Time
}

func NewRateLimiter(window time.Duration, max, maxStrikes int) *RateLimiter {
	if window <= 0 {
		window = time.Second
	}
	if max <= 0 {
		max = 10
	}
	return &RateLimiter{
		window:     window,
		max:        max,
		maxStrikes: maxStrikes,
		states:     make(map[string]*RateState),
		clock:      time.Now,
	}
}

// SetClock injects a test clock. Call before use.
func (l *RateLimiter) SetClock(clock func() time.Time) { l.clock = clock }

// ShouldReject counts one inbound event against the connection's window and
// reports whether it must be dropped. One event, one increment.
func (l *RateLimiter) ShouldReject(connID string) bool {
	now := l.clock()

	l.mu.Lock()
	defer l.mu.Unlock()

	st := l.states[connID]
	if st == nil {
		st = &RateState{}
		l.states[connID] = st
	}

	if now.After(st.WindowResetAt) || now.Equal(st.WindowResetAt) {
		st.Count = 1
		st.WindowResetAt = now.Add(l.window)
		st.Strikes = 0
		return false
	}

	st.Count++
	if st.Count > l.max {
		st.Strikes++
		return true
	}
	st.Strikes = 0
	return false
}

// ShouldDisconnect reports whether the connection has accumulated enough
// consecutive violations to be kicked. Policy, not mechanism: the caller
// decides what to do with the answer.
func (l *RateLimiter) ShouldDisconnect(connID string) bool {
	if l.maxStrikes <= 0 {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	st := l.states[connID]
	return st != nil && st.Strikes >= l.maxStrikes
}

// Remove releases the connection's state. Call on unregister.
func (l *RateLimiter) Remove(connID string) {
	l.mu.Lock()
	delete(l.states, connID)
	l.mu.Unlock()
}
