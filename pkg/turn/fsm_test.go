package turn

import (
	"sync"
	"testing"
	"time"
)

type captureListener struct {
	mu     sync.Mutex
	events []StateChange
}

func (c *captureListener) OnStateChange(event StateChange) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func (c *captureListener) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func (c *captureListener) Last() StateChange {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.events[len(c.events)-1]
}

func TestHappyPathTransitions(t *testing.T) {
	sm := NewFSM(0)
	listener := &captureListener{}
	sm.AddListener(listener)

	steps := []State{StateListening, StateThinking, StateSpeaking, StateListening, StateIdle}
	for _, s := range steps {
		if err := sm.Transition(s, "test"); err != nil {
			t.Fatalf("transition to %s: %v", s, err)
		}
	}
	if listener.Count() != len(steps) {
		t.Fatalf("expected %d notifications, got %d", len(steps), listener.Count())
	}
}

func TestSelfTransitionIgnored(t *testing.T) {
	sm := NewFSM(0)
	listener := &captureListener{}
	sm.AddListener(listener)

	if err := sm.Transition(StateListening, "start"); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if err := sm.Transition(StateListening, "again"); err != nil {
		t.Fatalf("self transition must be a silent no-op, got %v", err)
	}
	if listener.Count() != 1 {
		t.Fatalf("self transition must not re-notify, got %d events", listener.Count())
	}
}

func TestInvalidTransitionRejected(t *testing.T) {
	sm := NewFSM(0)
	err := sm.Transition(StateSpeaking, "skip ahead")
	if err == nil {
		t.Fatalf("IDLE -> SPEAKING must be rejected")
	}
	if _, ok := err.(*InvalidTransitionError); !ok {
		t.Fatalf("expected InvalidTransitionError, got %T", err)
	}
	if sm.State() != StateIdle {
		t.Fatalf("failed transition must not change state")
	}
}

func TestInterruptedAutoAdvances(t *testing.T) {
	sm := NewFSM(20 * time.Millisecond)
	for _, s := range []State{StateListening, StateThinking, StateSpeaking} {
		if err := sm.Transition(s, "setup"); err != nil {
			t.Fatalf("setup transition: %v", err)
		}
	}
	if err := sm.Transition(StateInterrupted, "barge-in"); err != nil {
		t.Fatalf("interrupt transition: %v", err)
	}
	deadline := time.Now().Add(time.Second)
	for sm.State() != StateListening {
		if time.Now().After(deadline) {
			t.Fatalf("INTERRUPTED did not auto-advance, state=%s", sm.State())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStopFromEveryState(t *testing.T) {
	paths := [][]State{
		{},
		{StateListening},
		{StateListening, StateThinking},
		{StateListening, StateThinking, StateSpeaking},
		{StateListening, StateThinking, StateSpeaking, StateInterrupted},
	}
	for _, path := range paths {
		sm := NewFSM(time.Hour) // hold long enough to not race the assertion
		for _, s := range path {
			if err := sm.Transition(s, "setup"); err != nil {
				t.Fatalf("setup %v: %v", path, err)
			}
		}
		if err := sm.Transition(StateIdle, "stop"); err != nil {
			t.Fatalf("stop from %s: %v", sm.State(), err)
		}
		if sm.State() != StateIdle {
			t.Fatalf("expected IDLE after stop")
		}
	}
}

func TestInterruptControllerBargeIn(t *testing.T) {
	sm := NewFSM(time.Hour)
	fired := 0
	ic := NewInterruptController(sm, 1000, 1, func() { fired++ })

	// Not speaking: loud samples are ignored.
	if ic.OnVolume(5000) {
		t.Fatalf("barge-in outside SPEAKING")
	}

	for _, s := range []State{StateListening, StateThinking, StateSpeaking} {
		if err := sm.Transition(s, "setup"); err != nil {
			t.Fatalf("setup: %v", err)
		}
	}
	if ic.OnVolume(500) {
		t.Fatalf("below-threshold sample must not fire")
	}
	if !ic.OnVolume(5000) {
		t.Fatalf("above-threshold sample while SPEAKING must fire")
	}
	if fired != 1 {
		t.Fatalf("trigger fired %d times", fired)
	}
}

func TestInterruptControllerMinTicks(t *testing.T) {
	sm := NewFSM(time.Hour)
	fired := 0
	ic := NewInterruptController(sm, 1000, 3, func() { fired++ })
	for _, s := range []State{StateListening, StateThinking, StateSpeaking} {
		if err := sm.Transition(s, "setup"); err != nil {
			t.Fatalf("setup: %v", err)
		}
	}
	ic.OnVolume(5000)
	ic.OnVolume(5000)
	ic.OnVolume(200) // run resets
	ic.OnVolume(5000)
	ic.OnVolume(5000)
	if fired != 0 {
		t.Fatalf("fired before reaching min consecutive ticks")
	}
	ic.OnVolume(5000)
	if fired != 1 {
		t.Fatalf("expected fire after 3 consecutive ticks, fired=%d", fired)
	}
}
