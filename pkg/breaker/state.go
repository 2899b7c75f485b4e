package breaker

import "time"

// State is the position of a breaker in its state machine.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// String returns the state name.
func (s State) String() string {
	return string(s)
}

// Transition describes one state change, delivered to listeners after the
// breaker's lock is released.
type Transition struct {
	Service string    `json:"service"`
	From    State     `json:"from"`
	To      State     `json:"to"`
	At      time.Time `json:"at"`
	Reason  string    `json:"reason"`
}

// Listener observes transitions. Listeners must not block; slow work
// belongs on a goroutine of the listener's own.
type Listener func(Transition)

// Snapshot is a point-in-time copy of a breaker's counters.
type Snapshot struct {
	Service           string    `json:"service"`
	State             State     `json:"state"`
	FailureCount      int       `json:"failure_count"`
	LastFailureTime   time.Time `json:"last_failure_time,omitzero"`
	HalfOpenCalls     int       `json:"half_open_calls"`
	HalfOpenSuccesses int       `json:"half_open_successes"`
	Config            Config    `json:"config"`

	TotalCalls      uint64 `json:"total_calls"`
	TotalFailures   uint64 `json:"total_failures"`
	TotalRejections uint64 `json:"total_rejections"`
}

// Clock supplies the current time. Tests substitute a fake.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
