package isolation

import (
	"context"
	"maps"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/StricklySoft/stricklysoft-isolation/pkg/auth"
	sserr "github.com/StricklySoft/stricklysoft-isolation/pkg/errors"
	"github.com/StricklySoft/stricklysoft-isolation/pkg/lifecycle"
)

// AgentKey is the composite key of an agent instance. Two contexts never
// share a key, even for the same agent name.
type AgentKey struct {
	ContextID string
	AgentName string
}

// String renders the key for logs and singleflight.
func (k AgentKey) String() string {
	return k.ContextID + "/" + k.AgentName
}

// AgentInfo is a point-in-time copy of an instance.
type AgentInfo struct {
	Name             string           `json:"name"`
	ContextID        string           `json:"context_id"`
	UserID           string           `json:"user_id"`
	RunID            string           `json:"run_id"`
	State            lifecycle.State  `json:"state"`
	Enabled          bool             `json:"enabled"`
	PerformanceLevel float64          `json:"performance_level"`
	UnavailableDueTo string           `json:"unavailable_due_to,omitempty"`
	Attributes       map[string]any   `json:"attributes"`
	Counters         map[string]int64 `json:"counters"`
	CreatedAt        time.Time        `json:"created_at"`
}

// AgentInstance is one agent bound to one execution context. The binding
// is fixed; attributes, counters and availability are private to the
// instance and guarded by its own lock.
type AgentInstance struct {
	key       AgentKey
	userID    string
	runID     string
	role      auth.Role
	createdAt time.Time
	machine   *lifecycle.Machine
	tracer    trace.Tracer

	mu          sync.RWMutex
	attributes  map[string]any
	counters    map[string]int64
	enabled     bool
	performance float64
	downDep     string
}

func newAgentInstance(key AgentKey, userID, runID string, role auth.Role, r *Registry) *AgentInstance {
	return &AgentInstance{
		key:         key,
		userID:      userID,
		runID:       runID,
		role:        role,
		createdAt:   time.Now().UTC(),
		machine:     lifecycle.NewMachine(key.String(), r.logger),
		tracer:      r.tracer,
		attributes:  make(map[string]any),
		counters:    make(map[string]int64),
		enabled:     true,
		performance: 1.0,
	}
}

// Name returns the agent name the instance was built for.
func (a *AgentInstance) Name() string { return a.key.AgentName }

// ContextID returns the id of the owning execution context.
func (a *AgentInstance) ContextID() string { return a.key.ContextID }

// UserID returns the user who owns the context.
func (a *AgentInstance) UserID() string { return a.userID }

// RunID returns the owning context's run, the key its events route under.
func (a *AgentInstance) RunID() string { return a.runID }

// Key returns the composite (context, agent) key.
func (a *AgentInstance) Key() AgentKey { return a.key }

// State returns the lifecycle state.
func (a *AgentInstance) State() lifecycle.State {
	return a.machine.State()
}

func (a *AgentInstance) releasedErr() error {
	return sserr.Newf(sserr.CodeNotFound, "isolation: agent %q has been released", a.key)
}

// live reports whether the instance may still be used. Released instances
// answer every mutation with NF_001. Mutations call it with a.mu held:
// release moves the machine to stopping before it takes a.mu to drop the
// state, so a write that passes the check lands before the drop.
func (a *AgentInstance) live() bool {
	return !a.machine.State().IsTerminal() && a.machine.State() != lifecycle.StateStopping
}

// SetAttribute stores a marker on this instance only.
func (a *AgentInstance) SetAttribute(key string, value any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.live() {
		return a.releasedErr()
	}
	a.attributes[key] = value
	return nil
}

// Attribute reads a marker.
func (a *AgentInstance) Attribute(key string) (any, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	v, ok := a.attributes[key]
	return v, ok
}

// Increment adds delta to a named counter and returns the new value.
func (a *AgentInstance) Increment(counter string, delta int64) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.live() {
		return 0, a.releasedErr()
	}
	a.counters[counter] += delta
	return a.counters[counter], nil
}

// Counter reads a named counter.
func (a *AgentInstance) Counter(name string) int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.counters[name]
}

// Enabled reports whether the instance accepts Execute calls.
func (a *AgentInstance) Enabled() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.enabled
}

// PerformanceLevel returns the current level in (0, 1].
func (a *AgentInstance) PerformanceLevel() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.performance
}

// SetAvailability applies a capability decision to this instance.
// downDependency names the failed dependency when enabled is false.
func (a *AgentInstance) SetAvailability(enabled bool, level float64, downDependency string) error {
	if level < 0 || level > 1 {
		return sserr.Newf(sserr.CodeValidationRange,
			"isolation: performance level %v out of range [0, 1]", level)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.enabled = enabled
	a.performance = level
	a.downDep = ""
	if !enabled {
		a.downDep = downDependency
	}
	return nil
}

// Execute runs fn on behalf of this instance. The owning role must allow
// op and the instance must be enabled. fn's error is returned unchanged.
func (a *AgentInstance) Execute(ctx context.Context, op auth.Operation, fn func(ctx context.Context) error) error {
	ctx, span := a.tracer.Start(ctx, "isolation.Execute",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("isolation.context_id", a.key.ContextID),
			attribute.String("isolation.agent", a.key.AgentName),
			attribute.String("isolation.operation", string(op)),
		),
	)
	defer span.End()

	if err := a.admit(op); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if _, err := a.Increment("executions", 1); err != nil {
		return err
	}

	if err := fn(ctx); err != nil {
		_, _ = a.Increment("errors", 1)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

func (a *AgentInstance) admit(op auth.Operation) error {
	if a.machine.State() != lifecycle.StateRunning {
		return a.releasedErr()
	}
	if err := auth.Authorize(a.role, op); err != nil {
		return err
	}
	a.mu.RLock()
	enabled, dep := a.enabled, a.downDep
	a.mu.RUnlock()
	if !enabled {
		return sserr.CapabilityUnavailable(a.key.AgentName, dep)
	}
	return nil
}

// Info returns a copy of the instance's state.
func (a *AgentInstance) Info() AgentInfo {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return AgentInfo{
		Name:             a.key.AgentName,
		ContextID:        a.key.ContextID,
		UserID:           a.userID,
		RunID:            a.runID,
		State:            a.machine.State(),
		Enabled:          a.enabled,
		PerformanceLevel: a.performance,
		UnavailableDueTo: a.downDep,
		Attributes:       maps.Clone(a.attributes),
		Counters:         maps.Clone(a.counters),
		CreatedAt:        a.createdAt,
	}
}

// release stops the instance and drops its state. Idempotent.
func (a *AgentInstance) release() {
	if err := a.machine.Transition(lifecycle.StateStopping); err != nil {
		return
	}
	a.mu.Lock()
	a.attributes = make(map[string]any)
	a.counters = make(map[string]int64)
	a.mu.Unlock()
	_ = a.machine.Transition(lifecycle.StateStopped)
}
