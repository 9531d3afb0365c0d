package session

import (
	"testing"
	"time"
)

func TestActivityTick(t *testing.T) {
	const (
		interval  = 10 * time.Second
		tolerance = 100 * time.Millisecond
	)

	tests := []struct {
		name      string
		elapsed   time.Duration
		wantEmit  bool
		wantState State
	}{
		{"fresh activity", 2 * time.Second, false, Active},
		{"just under threshold", interval - tolerance - time.Millisecond, false, Active},
		{"at threshold", interval - tolerance, true, Idle},
		{"long idle", 20 * time.Minute, true, Idle},
		{"past session expiry", 31 * time.Minute, false, Idle},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewActivity(t0, interval, tolerance, 30*time.Minute)
			idle, emit := a.Tick(t0.Add(tt.elapsed))
			if idle != tt.elapsed {
				t.Errorf("idle = %v, want %v", idle, tt.elapsed)
			}
			if emit != tt.wantEmit {
				t.Errorf("emit = %v, want %v", emit, tt.wantEmit)
			}
			if a.State() != tt.wantState {
				t.Errorf("state = %v, want %v", a.State(), tt.wantState)
			}
		})
	}
}

func TestHeartbeatDoesNotMaskInactivity(t *testing.T) {
	a := NewActivity(t0, 10*time.Second, 100*time.Millisecond, 0)

	// two consecutive idle ticks: the second must report the full gap since
	// the last real activity, not the gap since the first heartbeat
	if _, emit := a.Tick(t0.Add(10 * time.Second)); !emit {
		t.Fatal("first idle tick should emit")
	}
	idle, emit := a.Tick(t0.Add(20 * time.Second))
	if !emit || idle != 20*time.Second {
		t.Errorf("second tick idle=%v emit=%v, want 20s true", idle, emit)
	}

	a.Observe(t0.Add(25 * time.Second))
	if a.State() != Active {
		t.Error("Observe should return the machine to Active")
	}
	if _, emit := a.Tick(t0.Add(30 * time.Second)); emit {
		t.Error("tick 5s after activity should not emit")
	}
}

func TestObserveIgnoresOlderTimestamps(t *testing.T) {
	a := NewActivity(t0, 10*time.Second, 0, 0)
	a.Observe(t0.Add(-time.Minute))
	if idle, _ := a.Tick(t0.Add(time.Second)); idle != time.Second {
		t.Errorf("idle = %v, want 1s", idle)
	}
}
