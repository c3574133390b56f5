package turn

import "time"

// State is the conversation-level turn state. Exactly one value is current
// per session; transitions through the FSM are the only way to change it.
type State int

const (
	StateIdle State = iota
	StateListening
	StateThinking
	StateSpeaking
	StateInterrupted
)

// String returns the string representation of a State.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateListening:
		return "LISTENING"
	case StateThinking:
		return "THINKING"
	case StateSpeaking:
		return "SPEAKING"
	case StateInterrupted:
		return "INTERRUPTED"
	default:
		return "UNKNOWN"
	}
}

// StateChange represents a state transition event.
type StateChange struct {
	FromState State
	ToState   State
	Timestamp time.Time
	Reason    string
}

// StateListener observes turn state changes.
type StateListener interface {
	OnStateChange(event StateChange)
}

// ListenerFunc adapts a function to the StateListener interface.
type ListenerFunc func(event StateChange)

func (f ListenerFunc) OnStateChange(event StateChange) { f(event) }
