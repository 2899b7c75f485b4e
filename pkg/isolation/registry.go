// Package isolation keeps per-user execution state apart.
//
// A [Registry] issues [models.ExecutionContext] values and owns the agent
// instances created inside them. Every instance is keyed by the composite
// (context id, agent name), so two users asking for the same agent name get
// two instances that share nothing.
//
// Locking is per context. The registry map lock is held only to insert,
// look up or remove a context entry; agent construction and cleanup run
// under the owning context's lock (or none at all), so work in one context
// never waits on another.
//
// There is no package-level registry. Build one with [NewRegistry] and pass
// it where it is needed.
package isolation

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/StricklySoft/stricklysoft-isolation/pkg/auth"
	sserr "github.com/StricklySoft/stricklysoft-isolation/pkg/errors"
	"github.com/StricklySoft/stricklysoft-isolation/pkg/lifecycle"
	"github.com/StricklySoft/stricklysoft-isolation/pkg/models"
)

const tracerName = "github.com/StricklySoft/stricklysoft-isolation/pkg/isolation"

// AgentHook runs when an agent instance is created or released. A failing
// create hook aborts construction; nothing is cached.
type AgentHook func(ctx context.Context, agent *AgentInstance) error

// ContextHook runs after a context has been cleaned up.
type ContextHook func(ctx context.Context, ec *models.ExecutionContext)

// Observer receives registry counts. Implementations must be cheap and
// non-blocking.
type Observer interface {
	ContextCreated()
	ContextCleaned()
	AgentCreated(agentName string)
	AgentReleased(agentName string)
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithOnAgentCreate adds a hook run before a new instance is published.
func WithOnAgentCreate(h AgentHook) Option {
	return func(r *Registry) { r.onCreate = append(r.onCreate, h) }
}

// WithOnAgentRelease adds a hook run after an instance is released.
func WithOnAgentRelease(h AgentHook) Option {
	return func(r *Registry) { r.onRelease = append(r.onRelease, h) }
}

// WithOnContextCleanup adds a hook run after a context is removed.
func WithOnContextCleanup(h ContextHook) Option {
	return func(r *Registry) { r.onCleanup = append(r.onCleanup, h) }
}

// WithTracerProvider takes spans from tp instead of the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(r *Registry) { r.tracer = tp.Tracer(tracerName) }
}

// WithObserver reports counts to o.
func WithObserver(o Observer) Option {
	return func(r *Registry) { r.observer = o }
}

// scope is the registry's private record of one live context.
type scope struct {
	ec *models.ExecutionContext

	mu     sync.Mutex
	closed bool
	agents map[string]*AgentInstance
}

// Stats counts live contexts and agents.
type Stats struct {
	Contexts int `json:"contexts"`
	Agents   int `json:"agents"`
}

// Registry issues execution contexts and owns their agent instances.
type Registry struct {
	logger    *slog.Logger
	tracer    trace.Tracer
	observer  Observer
	onCreate  []AgentHook
	onRelease []AgentHook
	onCleanup []ContextHook

	construct singleflight.Group

	mu     sync.RWMutex
	scopes map[string]*scope
	runs   map[string]string
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		logger: slog.Default(),
		tracer: otel.Tracer(tracerName),
		scopes: make(map[string]*scope),
		runs:   make(map[string]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CreateContext issues a fresh context for userID. Empty threadID and
// runID are generated. The context gets the standard role.
func (r *Registry) CreateContext(ctx context.Context, userID, threadID, runID string) (*models.ExecutionContext, error) {
	return r.CreateContextFor(ctx, auth.Identity{UserID: userID, Role: auth.RoleStandard}, threadID, runID)
}

// CreateContextFor issues a fresh context bound to an authenticated
// identity and its role. A runID owned by another live context is refused
// with CONF_002.
func (r *Registry) CreateContextFor(ctx context.Context, identity auth.Identity, threadID, runID string) (*models.ExecutionContext, error) {
	_, span := r.startSpan(ctx, "isolation.CreateContext", attribute.String("isolation.user_id", identity.UserID))
	defer span.End()

	if identity.UserID == "" {
		return nil, finishSpan(span, sserr.Required("user_id"))
	}
	role := identity.Role
	if role == "" {
		role = auth.RoleStandard
	}
	if !role.Valid() {
		return nil, finishSpan(span, sserr.Validationf("isolation: unknown role %q", role))
	}

	ec := &models.ExecutionContext{
		ID:        uuid.NewString(),
		UserID:    identity.UserID,
		SessionID: identity.SessionID,
		RunID:     runID,
		ThreadID:  threadID,
		Role:      role,
		Metadata:  models.NewMetadata(),
		CreatedAt: time.Now().UTC(),
	}
	if ec.SessionID == "" {
		ec.SessionID = uuid.NewString()
	}
	if ec.ThreadID == "" {
		ec.ThreadID = "thread-" + uuid.NewString()
	}
	if ec.RunID == "" {
		ec.RunID = "run-" + uuid.NewString()
	}

	r.mu.Lock()
	if owner, taken := r.runs[ec.RunID]; taken {
		r.mu.Unlock()
		return nil, finishSpan(span, sserr.AlreadyExistsf(
			"isolation: run %q already belongs to context %q", ec.RunID, owner))
	}
	r.scopes[ec.ID] = &scope{ec: ec, agents: make(map[string]*AgentInstance)}
	r.runs[ec.RunID] = ec.ID
	r.mu.Unlock()

	if r.observer != nil {
		r.observer.ContextCreated()
	}
	span.SetAttributes(
		attribute.String("isolation.context_id", ec.ID),
		attribute.String("isolation.run_id", ec.RunID),
	)
	span.SetStatus(codes.Ok, "")
	r.logger.DebugContext(ctx, "isolation: context created",
		"context_id", ec.ID,
		"user_id", ec.UserID,
		"run_id", ec.RunID,
	)
	return ec, nil
}

// scopeFor resolves ec to its live scope. A context from another registry,
// a cleaned-up context, or one whose user id was altered is not found.
func (r *Registry) scopeFor(ec *models.ExecutionContext) (*scope, error) {
	if ec == nil {
		return nil, sserr.Required("execution context")
	}
	r.mu.RLock()
	sc, ok := r.scopes[ec.ID]
	r.mu.RUnlock()
	if !ok || sc.ec.UserID != ec.UserID {
		return nil, sserr.ContextNotFound(ec.ID)
	}
	return sc, nil
}

// GetOrCreateAgent returns the instance named agentName in ec, building it
// on first access. Concurrent first accesses build exactly one instance.
func (r *Registry) GetOrCreateAgent(ctx context.Context, ec *models.ExecutionContext, agentName string) (*AgentInstance, error) {
	if agentName == "" {
		return nil, sserr.Required("agent_name")
	}
	sc, err := r.scopeFor(ec)
	if err != nil {
		return nil, err
	}

	if a, err := sc.existing(agentName); a != nil || err != nil {
		return a, err
	}

	key := AgentKey{ContextID: sc.ec.ID, AgentName: agentName}
	v, err, _ := r.construct.Do(key.String(), func() (any, error) {
		return r.buildAgent(ctx, sc, key)
	})
	if err != nil {
		return nil, err
	}
	return v.(*AgentInstance), nil
}

func (sc *scope) existing(name string) (*AgentInstance, error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.closed {
		return nil, sserr.ContextNotFound(sc.ec.ID)
	}
	return sc.agents[name], nil
}

// buildAgent runs inside singleflight. It re-checks the scope first: a
// caller that missed the cache just before a previous flight published its
// instance must not build a second one.
func (r *Registry) buildAgent(ctx context.Context, sc *scope, key AgentKey) (*AgentInstance, error) {
	if a, err := sc.existing(key.AgentName); a != nil || err != nil {
		return a, err
	}

	ctx, span := r.startSpan(ctx, "isolation.CreateAgent",
		attribute.String("isolation.context_id", key.ContextID),
		attribute.String("isolation.agent", key.AgentName),
	)
	defer span.End()

	a := newAgentInstance(key, sc.ec.UserID, sc.ec.RunID, sc.ec.Role, r)
	if err := a.machine.Transition(lifecycle.StateStarting); err != nil {
		return nil, finishSpan(span, err)
	}
	for _, h := range r.onCreate {
		if err := h(ctx, a); err != nil {
			_ = a.machine.Transition(lifecycle.StateFailed)
			r.logger.ErrorContext(ctx, "isolation: agent create hook failed",
				"context_id", key.ContextID,
				"agent", key.AgentName,
				"error", err,
			)
			return nil, finishSpan(span, sserr.Wrapf(err, sserr.CodeInternal,
				"isolation: create hook failed for agent %q", key.AgentName))
		}
	}
	if err := a.machine.Transition(lifecycle.StateRunning); err != nil {
		return nil, finishSpan(span, err)
	}

	sc.mu.Lock()
	if sc.closed {
		sc.mu.Unlock()
		a.release()
		return nil, finishSpan(span, sserr.ContextNotFound(key.ContextID))
	}
	sc.agents[key.AgentName] = a
	sc.mu.Unlock()

	if r.observer != nil {
		r.observer.AgentCreated(key.AgentName)
	}
	span.SetStatus(codes.Ok, "")
	return a, nil
}

// Agent returns an existing instance without building one.
func (r *Registry) Agent(ec *models.ExecutionContext, agentName string) (*AgentInstance, error) {
	sc, err := r.scopeFor(ec)
	if err != nil {
		return nil, err
	}
	a, err := sc.existing(agentName)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, sserr.NotFoundf("isolation: agent %q not found in context %q", agentName, ec.ID)
	}
	return a, nil
}

// Agents returns the names of ec's instances, sorted.
func (r *Registry) Agents(ec *models.ExecutionContext) ([]string, error) {
	sc, err := r.scopeFor(ec)
	if err != nil {
		return nil, err
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	names := make([]string, 0, len(sc.agents))
	for name := range sc.agents {
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}

// CleanupContext releases every instance and all state owned by ec. Other
// contexts are untouched. A second cleanup returns NF_004. Hook failures
// are reported after the cleanup has completed.
func (r *Registry) CleanupContext(ctx context.Context, ec *models.ExecutionContext) error {
	if ec == nil {
		return sserr.Required("execution context")
	}
	ctx, span := r.startSpan(ctx, "isolation.CleanupContext", attribute.String("isolation.context_id", ec.ID))
	defer span.End()

	r.mu.Lock()
	sc, ok := r.scopes[ec.ID]
	if !ok || sc.ec.UserID != ec.UserID {
		r.mu.Unlock()
		return finishSpan(span, sserr.ContextNotFound(ec.ID))
	}
	delete(r.scopes, ec.ID)
	if r.runs[sc.ec.RunID] == ec.ID {
		delete(r.runs, sc.ec.RunID)
	}
	r.mu.Unlock()

	sc.mu.Lock()
	sc.closed = true
	agents := sc.agents
	sc.agents = nil
	sc.mu.Unlock()

	var errs []error
	for _, a := range agents {
		a.release()
		for _, h := range r.onRelease {
			if err := h(ctx, a); err != nil {
				errs = append(errs, err)
			}
		}
		if r.observer != nil {
			r.observer.AgentReleased(a.Name())
		}
	}
	for _, h := range r.onCleanup {
		h(ctx, sc.ec)
	}
	if r.observer != nil {
		r.observer.ContextCleaned()
	}

	r.logger.DebugContext(ctx, "isolation: context cleaned up",
		"context_id", ec.ID,
		"agents_released", len(agents),
	)
	if len(errs) > 0 {
		return finishSpan(span, sserr.Wrap(errors.Join(errs...), sserr.CodeInternal,
			"isolation: context released with hook errors"))
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

// Context returns the live context with the given id.
func (r *Registry) Context(id string) (*models.ExecutionContext, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sc, ok := r.scopes[id]
	if !ok {
		return nil, sserr.ContextNotFound(id)
	}
	return sc.ec, nil
}

// ContextByRun returns the live context that owns runID.
func (r *Registry) ContextByRun(runID string) (*models.ExecutionContext, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.runs[runID]
	if !ok {
		return nil, sserr.Newf(sserr.CodeNotFoundContext, "isolation: no live context for run %q", runID).
			WithDetail("run_id", runID)
	}
	return r.scopes[id].ec, nil
}

// ForEachAgent calls fn for every live instance named agentName, one
// context at a time.
func (r *Registry) ForEachAgent(agentName string, fn func(*AgentInstance)) {
	r.mu.RLock()
	scopes := make([]*scope, 0, len(r.scopes))
	for _, sc := range r.scopes {
		scopes = append(scopes, sc)
	}
	r.mu.RUnlock()

	for _, sc := range scopes {
		if a, _ := sc.existing(agentName); a != nil {
			fn(a)
		}
	}
}

// Stats counts live contexts and agents.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	scopes := make([]*scope, 0, len(r.scopes))
	for _, sc := range r.scopes {
		scopes = append(scopes, sc)
	}
	r.mu.RUnlock()

	s := Stats{Contexts: len(scopes)}
	for _, sc := range scopes {
		sc.mu.Lock()
		s.Agents += len(sc.agents)
		sc.mu.Unlock()
	}
	return s
}

func (r *Registry) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return r.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
}

// finishSpan records err on span and returns it.
func finishSpan(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
