package lifecycle

import (
	"log/slog"
	"sync"
	"time"

	sserr "github.com/StricklySoft/stricklysoft-isolation/pkg/errors"
)

// StateChangeHandler observes a transition. Handlers run after the state
// lock is released, in registration order. A panicking handler is
// recovered and logged.
type StateChangeHandler func(old, new State)

// Machine is a concurrency-safe lifecycle state holder.
type Machine struct {
	name   string
	logger *slog.Logger

	mu        sync.RWMutex
	state     State
	changedAt time.Time
	handlers  []StateChangeHandler
}

// NewMachine returns a machine in StateUnknown. name labels log lines.
func NewMachine(name string, logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{
		name:      name,
		logger:    logger,
		state:     StateUnknown,
		changedAt: time.Now().UTC(),
	}
}

// OnStateChange registers h for every later transition.
func (m *Machine) OnStateChange(h StateChangeHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, h)
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Since returns when the current state was entered.
func (m *Machine) Since() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.changedAt
}

// Transition moves to state to, or returns a CONF_001 error if the matrix
// forbids it.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	from := m.state
	if !ValidTransition(from, to) {
		m.mu.Unlock()
		return sserr.Newf(sserr.CodeConflict,
			"lifecycle: invalid state transition from %q to %q", from, to)
	}
	m.state = to
	m.changedAt = time.Now().UTC()
	handlers := append([]StateChangeHandler(nil), m.handlers...)
	m.mu.Unlock()

	for _, h := range handlers {
		m.notify(h, from, to)
	}
	return nil
}

// Advance walks through each state in order, stopping at the first
// rejected step.
func (m *Machine) Advance(states ...State) error {
	for _, s := range states {
		if err := m.Transition(s); err != nil {
			return err
		}
	}
	return nil
}

func (m *Machine) notify(h StateChangeHandler, from, to State) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("lifecycle: state change handler panicked",
				"panic", r,
				"machine", m.name,
				"old_state", string(from),
				"new_state", string(to),
			)
		}
	}()
	h(from, to)
}
