package lifecycle

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sserr "github.com/StricklySoft/stricklysoft-isolation/pkg/errors"
)

// ===========================================================================
// State Tests
// ===========================================================================

// TestValidTransition verifies the transition matrix, including the rule
// that terminal states are final.
func TestValidTransition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from, to State
		want     bool
	}{
		{StateUnknown, StateStarting, true},
		{StateUnknown, StateRunning, false},
		{StateStarting, StateRunning, true},
		{StateStarting, StateStopping, true},
		{StateRunning, StateStopping, true},
		{StateRunning, StateStopped, false},
		{StateStopping, StateStopped, true},
		{StateRunning, StateFailed, true},
		{StateStopped, StateStarting, false},
		{StateFailed, StateStarting, false},
		{StateRunning, StateRunning, false},
		{State("bogus"), StateRunning, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ValidTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

// TestState_Predicates verifies Valid and IsTerminal.
func TestState_Predicates(t *testing.T) {
	t.Parallel()

	assert.True(t, StateRunning.Valid())
	assert.False(t, State("").Valid())
	assert.True(t, StateStopped.IsTerminal())
	assert.True(t, StateFailed.IsTerminal())
	assert.False(t, StateStopping.IsTerminal())
}

// ===========================================================================
// Machine Tests
// ===========================================================================

// TestMachine_AdvanceAndHandlers verifies handlers observe every step.
func TestMachine_AdvanceAndHandlers(t *testing.T) {
	t.Parallel()

	m := NewMachine("agent", nil)
	var seen []State
	m.OnStateChange(func(_, to State) { seen = append(seen, to) })

	require.NoError(t, m.Advance(StateStarting, StateRunning, StateStopping, StateStopped))
	assert.Equal(t, StateStopped, m.State())
	assert.Equal(t, []State{StateStarting, StateRunning, StateStopping, StateStopped}, seen)
}

// TestMachine_InvalidTransition verifies a rejected step leaves the state
// unchanged.
func TestMachine_InvalidTransition(t *testing.T) {
	t.Parallel()

	m := NewMachine("agent", nil)
	err := m.Transition(StateRunning)
	assert.True(t, sserr.HasCode(err, sserr.CodeConflict))
	assert.Equal(t, StateUnknown, m.State())
}

// TestMachine_PanickingHandler verifies a panicking handler does not
// prevent the transition or later handlers.
func TestMachine_PanickingHandler(t *testing.T) {
	t.Parallel()

	m := NewMachine("agent", nil)
	called := false
	m.OnStateChange(func(_, _ State) { panic("boom") })
	m.OnStateChange(func(_, _ State) { called = true })

	require.NoError(t, m.Transition(StateStarting))
	assert.True(t, called)
	assert.Equal(t, StateStarting, m.State())
}

// TestMachine_HandlerMayReadState verifies handlers run outside the lock.
func TestMachine_HandlerMayReadState(t *testing.T) {
	t.Parallel()

	m := NewMachine("agent", nil)
	var observed State
	m.OnStateChange(func(_, _ State) { observed = m.State() })
	require.NoError(t, m.Transition(StateStarting))
	assert.Equal(t, StateStarting, observed)
}

// TestMachine_ConcurrentStop verifies only one of many concurrent stop
// attempts succeeds.
func TestMachine_ConcurrentStop(t *testing.T) {
	t.Parallel()

	m := NewMachine("agent", nil)
	require.NoError(t, m.Advance(StateStarting, StateRunning))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if m.Transition(StateStopping) == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}
