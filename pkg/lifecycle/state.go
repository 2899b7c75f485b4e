// Package lifecycle is the state machine shared by agent instances.
//
// An agent instance moves through
//
//	Unknown → Starting → Running → Stopping → Stopped
//
// and may drop to Failed from any non-terminal state. Unlike long-lived
// services, an instance owned by an execution context is never restarted:
// once Stopped or Failed it stays there, and a new context gets a new
// instance.
//
// [Machine] holds the current state behind a mutex, validates each
// transition against the matrix below and notifies registered handlers.
package lifecycle

// State is a lifecycle position. The zero value is not valid.
type State string

const (
	StateUnknown  State = "unknown"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
	StateFailed   State = "failed"
)

// String returns the state name.
func (s State) String() string {
	return string(s)
}

// Valid reports whether s is a recognized state.
func (s State) Valid() bool {
	_, ok := validTransitions[s]
	return ok
}

// IsTerminal reports Stopped and Failed.
func (s State) IsTerminal() bool {
	return s == StateStopped || s == StateFailed
}

// validTransitions is the transition matrix:
//
//	Unknown  → Starting, Failed
//	Starting → Running, Stopping, Failed
//	Running  → Stopping, Failed
//	Stopping → Stopped, Failed
//	Stopped  → (none)
//	Failed   → (none)
var validTransitions = map[State][]State{
	StateUnknown:  {StateStarting, StateFailed},
	StateStarting: {StateRunning, StateStopping, StateFailed},
	StateRunning:  {StateStopping, StateFailed},
	StateStopping: {StateStopped, StateFailed},
	StateStopped:  {},
	StateFailed:   {},
}

// ValidTransition reports whether from → to is in the matrix. Same-state
// transitions are rejected.
func ValidTransition(from, to State) bool {
	if from == to {
		return false
	}
	for _, t := range validTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}
