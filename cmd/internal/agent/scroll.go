package agent

import "time"

const (
	// SuppressWindow is how long local scrolls are ignored after a remote
	// scroll update is applied.
	SuppressWindow = 150 * time.Millisecond

	// ScrollInterval is the minimum spacing of outbound scroll events.
	ScrollInterval = 100 * time.Millisecond
)

type gateState uint8

const (
	gateIdle gateState = iota
	gateSuppressing
)

// ScrollGate is the echo suppression state machine:
// Idle --remote--> SuppressingUntil(now+window) --deadline--> Idle.
// A remote update while suppressing resets the deadline.
type ScrollGate struct {
	window   time.Duration
	state    gateState
	deadline time.Time
}

// NewScrollGate returns an Idle gate. A non-positive window uses
// SuppressWindow.
func NewScrollGate(window time.Duration) *ScrollGate {
	if window <= 0 {
		window = SuppressWindow
	}
	return &ScrollGate{window: window}
}

// RemoteApplied records that a remote scroll was applied at now.
func (g *ScrollGate) RemoteApplied(now time.Time) {
	g.state = gateSuppressing
	g.deadline = now.Add(g.window)
}

// Suppressing reports whether a local scroll at now is an echo.
func (g *ScrollGate) Suppressing(now time.Time) bool {
	if g.state == gateSuppressing && !now.Before(g.deadline) {
		g.state = gateIdle
	}
	return g.state == gateSuppressing
}

// Throttle is a leading-edge rate limiter: the first call passes, later
// calls pass once interval has elapsed since the last pass.
type Throttle struct {
	interval time.Duration
	last     time.Time
	primed   bool
}

// NewThrottle returns a Throttle. A non-positive interval uses ScrollInterval.
func NewThrottle(interval time.Duration) *Throttle {
	if interval <= 0 {
		interval = ScrollInterval
	}
	return &Throttle{interval: interval}
}

// Allow reports whether an event at now passes.
func (t *Throttle) Allow(now time.Time) bool {
	if t.primed && now.Sub(t.last) < t.interval {
		return false
	}
	t.primed = true
	t.last = now
	return true
}

// ScrollRatio converts an offset into the wire ratio; 0 when the page does
// not scroll.
func ScrollRatio(offset, max float64) float64 {
	if max <= 0 {
		return 0
	}
	r := offset / max
	switch {
	case r < 0:
		return 0
	case r > 1:
		return 1
	}
	return r
}
