package session

import (
	"sync"
	"time"
)

type State int

const (
	Active State = iota
	Idle
)

func (s State) String() string {
	if s == Idle {
		return "idle"
	}
	return "active"
}

// Activity is the ACTIVE/IDLE machine behind the heartbeat. Only Observe,
// driven by user events, moves it back to Active; heartbeats never do.
type Activity struct {
	mu        sync.Mutex
	state     State
	last      time.Time
	threshold time.Duration
	expiry    time.Duration
}

// NewActivity starts Active at now. A tick reports idle once the gap reaches
// interval-tolerance, and stops reporting once it exceeds expiry (the session
// is over by then). A zero expiry never stops.
func NewActivity(now time.Time, interval, tolerance, expiry time.Duration) *Activity {
	return &Activity{state: Active, last: now, threshold: interval - tolerance, expiry: expiry}
}

func (a *Activity) Observe(now time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = Active
	if now.After(a.last) {
		a.last = now
	}
}

// Tick evaluates the machine at now. It returns the idle duration and whether
// a heartbeat should be emitted for this tick.
func (a *Activity) Tick(now time.Time) (time.Duration, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	idle := now.Sub(a.last)
	if idle < a.threshold {
		a.state = Active
		return idle, false
	}
	a.state = Idle
	if a.expiry > 0 && idle > a.expiry {
		return idle, false
	}
	return idle, true
}

func (a *Activity) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}
