package turn

import (
	"sync"
	"time"
)

// DefaultInterruptedHold is how long the transient INTERRUPTED state is held
// before auto-advancing to LISTENING.
const DefaultInterruptedHold = 300 * time.Millisecond

// validTransitions defines the turn-taking state graph. StateIdle is
// reachable from everywhere via Stop; INTERRUPTED is transient and only
// leaves toward LISTENING (or IDLE).
var validTransitions = map[State][]State{
	StateIdle:        {StateListening},
	StateListening:   {StateThinking, StateIdle},
	StateThinking:    {StateSpeaking, StateListening, StateIdle},
	StateSpeaking:    {StateInterrupted, StateListening, StateIdle},
	StateInterrupted: {StateListening, StateIdle},
}

// FSM is the turn-taking state machine. Self-transitions are silently
// ignored; every real transition notifies each listener exactly once.
type FSM struct {
	mu              sync.Mutex
	currentState    State
	interruptedHold time.Duration
	holdTimer       *time.Timer
	listeners       []StateListener
}

func NewFSM(interruptedHold time.Duration) *FSM {
	if interruptedHold <= 0 {
		interruptedHold = DefaultInterruptedHold
	}
	return &FSM{
		currentState:    StateIdle,
		interruptedHold: interruptedHold,
	}
}

// State returns the current state.
func (m *FSM) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentState
}

func transitionValid(from, to State) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition moves to a new state with validation. A no-op transition to the
// current state returns nil without notifying listeners.
func (m *FSM) Transition(state State, reason string) error {
	m.mu.Lock()
	if state == m.currentState {
		m.mu.Unlock()
		return nil
	}
	if !transitionValid(m.currentState, state) {
		err := &InvalidTransitionError{From: m.currentState, To: state}
		m.mu.Unlock()
		return err
	}

	oldState := m.currentState
	m.currentState = state

	if m.holdTimer != nil {
		m.holdTimer.Stop()
		m.holdTimer = nil
	}
	if state == StateInterrupted {
		m.holdTimer = time.AfterFunc(m.interruptedHold, m.advanceFromInterrupted)
	}

	event := StateChange{
		FromState: oldState,
		ToState:   state,
		Timestamp: time.Now(),
		Reason:    reason,
	}
	listeners := make([]StateListener, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	// Notify outside the lock so listeners may read or transition state.
	for _, listener := range listeners {
		listener.OnStateChange(event)
	}
	return nil
}

// advanceFromInterrupted completes the transient INTERRUPTED hold.
func (m *FSM) advanceFromInterrupted() {
	m.mu.Lock()
	stillInterrupted := m.currentState == StateInterrupted
	m.mu.Unlock()
	if stillInterrupted {
		_ = m.Transition(StateListening, "interrupt hold elapsed")
	}
}

// AddListener registers a listener for state change events.
func (m *FSM) AddListener(listener StateListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, listener)
}

// InvalidTransitionError represents an invalid state transition attempt.
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return "invalid state transition from " + e.From.String() + " to " + e.To.String()
}
