// Package degradation keeps capabilities available while the services they
// depend on fail.
//
// A [Coordinator] owns one circuit breaker per registered service and the
// runtime [Status] of every registered [Capability]. When a service fails,
// each capability that references it is re-evaluated from the set of
// healthy services: a healthy fallback stands in for the failed
// dependency, otherwise the capability degrades in proportion to the
// share of dependencies lost, and only when nothing usable remains is it
// disabled. Recovery re-evaluates the same way, so a failure followed by
// a recovery of the same service restores the previous state exactly.
//
// Breaker transitions drive the same handlers: a breaker opening marks
// its service failed and a breaker closing marks it recovered.
//
// Referencing a service that was never registered in HandleServiceFailure
// or HandleServiceRecovery is a programming error and panics.
package degradation

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/StricklySoft/stricklysoft-isolation/pkg/breaker"
	sserr "github.com/StricklySoft/stricklysoft-isolation/pkg/errors"
)

const tracerName = "github.com/StricklySoft/stricklysoft-isolation/pkg/degradation"

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger for the coordinator and its breakers.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock sets the clock used for report timestamps and breaker
// timing.
func WithClock(clk breaker.Clock) Option {
	return func(c *Coordinator) { c.clock = clk }
}

// WithSink adds a report sink.
func WithSink(s Sink) Option {
	return func(c *Coordinator) { c.sinks = append(c.sinks, s) }
}

// WithBreakerDefaults sets the breaker config used when RegisterService
// is given a zero Config.
func WithBreakerDefaults(cfg breaker.Config) Option {
	return func(c *Coordinator) { c.breakerDefaults = cfg }
}

// WithBreakerListener observes every breaker transition.
func WithBreakerListener(l breaker.Listener) Option {
	return func(c *Coordinator) { c.breakerListeners = append(c.breakerListeners, l) }
}

// WithTracerProvider takes spans from tp instead of the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Coordinator) { c.tracer = tp.Tracer(tracerName) }
}

type capabilityState struct {
	def    Capability
	status Status
}

// Coordinator tracks service health and capability status.
type Coordinator struct {
	policy           Policy
	logger           *slog.Logger
	clock            breaker.Clock
	tracer           trace.Tracer
	breakerDefaults  breaker.Config
	breakerListeners []breaker.Listener
	breakers         *breaker.Registry

	// syncMu serializes breaker-driven health updates so the last state
	// read is the last one applied.
	syncMu sync.Mutex

	mu           sync.RWMutex
	healthy      map[string]bool
	capabilities map[string]*capabilityState
	sinks        []Sink
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

// NewCoordinator returns a coordinator with no services or capabilities.
func NewCoordinator(policy Policy, opts ...Option) (*Coordinator, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	c := &Coordinator{
		policy:          policy,
		logger:          slog.Default(),
		clock:           wallClock{},
		tracer:          otel.Tracer(tracerName),
		breakerDefaults: breaker.DefaultConfig(),
		healthy:         make(map[string]bool),
		capabilities:    make(map[string]*capabilityState),
	}
	for _, opt := range opts {
		opt(c)
	}

	reg, err := breaker.NewRegistry(c.breakerDefaults,
		breaker.WithClock(c.clock),
		breaker.WithLogger(c.logger),
	)
	if err != nil {
		return nil, err
	}
	reg.AddListener(c.onTransition)
	for _, l := range c.breakerListeners {
		reg.AddListener(l)
	}
	c.breakers = reg
	return c, nil
}

// Policy returns the thresholds in effect.
func (c *Coordinator) Policy() Policy { return c.policy }

// Breakers exposes the per-service breaker registry.
func (c *Coordinator) Breakers() *breaker.Registry { return c.breakers }

// AddSink registers s for every later report.
func (c *Coordinator) AddSink(s Sink) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sinks = append(c.sinks, s)
}

// RegisterService adds a healthy service guarded by a breaker with cfg. A
// zero cfg uses the coordinator's breaker defaults.
func (c *Coordinator) RegisterService(name string, cfg breaker.Config) error {
	if name == "" {
		return sserr.Required("service name")
	}
	if cfg == (breaker.Config{}) {
		cfg = c.breakerDefaults
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.healthy[name]; exists {
		return sserr.AlreadyExistsf("degradation: service %q already registered", name)
	}
	if _, err := c.breakers.Register(name, cfg); err != nil {
		return err
	}
	c.healthy[name] = true
	c.logger.Debug("degradation: service registered", "service", name)
	return nil
}

// RegisterCapability adds cap. Its dependencies and fallbacks must name
// registered services. The initial status reflects current health.
func (c *Coordinator) RegisterCapability(capability Capability) error {
	def := capability.clone()

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := def.validate(c.knownLocked); err != nil {
		return err
	}
	if _, exists := c.capabilities[def.Name]; exists {
		return sserr.AlreadyExistsf("degradation: capability %q already registered", def.Name)
	}
	c.capabilities[def.Name] = &capabilityState{
		def:    def,
		status: evaluate(&def, c.healthyLocked, c.policy),
	}
	c.logger.Debug("degradation: capability registered",
		"capability", def.Name,
		"priority", def.Priority.String(),
		"dependencies", def.Dependencies,
	)
	return nil
}

func (c *Coordinator) knownLocked(service string) bool {
	_, ok := c.healthy[service]
	return ok
}

func (c *Coordinator) healthyLocked(service string) bool {
	return c.healthy[service]
}

// HandleServiceFailure marks service unavailable, re-evaluates every
// capability that references it and opens the service's breaker. It
// panics if service was never registered.
func (c *Coordinator) HandleServiceFailure(ctx context.Context, service string) DegradationReport {
	ctx, span := c.startSpan(ctx, "degradation.HandleServiceFailure", service)
	defer span.End()

	r := c.setHealth(ctx, service, false)
	if b, ok := c.breakers.Get(service); ok {
		b.Trip("service failure reported")
	}
	c.endSpan(span, r)
	return r
}

// HandleServiceRecovery marks service available again and re-evaluates
// every capability that references it. A capability is fully restored only
// when none of its other dependencies is still missing. It panics if
// service was never registered.
func (c *Coordinator) HandleServiceRecovery(ctx context.Context, service string) RestorationReport {
	ctx, span := c.startSpan(ctx, "degradation.HandleServiceRecovery", service)
	defer span.End()

	r := c.setHealth(ctx, service, true)
	if b, ok := c.breakers.Get(service); ok {
		b.Reset("service recovery reported")
	}
	c.endSpan(span, r)
	return r
}

// onTransition keeps service health in step with breakers. The state is
// re-read from the breaker rather than taken from t, so a listener call
// that arrives late cannot undo a newer transition.
func (c *Coordinator) onTransition(t breaker.Transition) {
	b, ok := c.breakers.Get(t.Service)
	if !ok {
		return
	}
	c.mu.RLock()
	_, known := c.healthy[t.Service]
	c.mu.RUnlock()
	if !known {
		return
	}
	c.syncMu.Lock()
	defer c.syncMu.Unlock()
	switch b.State() {
	case breaker.StateOpen:
		c.setHealth(context.Background(), t.Service, false)
	case breaker.StateClosed:
		c.setHealth(context.Background(), t.Service, true)
	}
}

func (c *Coordinator) setHealth(ctx context.Context, service string, healthy bool) Report {
	kind := KindDegradation
	if healthy {
		kind = KindRestoration
	}

	c.mu.Lock()
	was, ok := c.healthy[service]
	if !ok {
		c.mu.Unlock()
		panic(fmt.Sprintf("degradation: service %q was never registered", service))
	}
	c.healthy[service] = healthy

	r := Report{
		Kind:         kind,
		Service:      service,
		At:           c.clock.Now().UTC(),
		Transitioned: was != healthy,
	}
	for _, name := range c.sortedCapabilitiesLocked() {
		cs := c.capabilities[name]
		if !cs.def.references(service) {
			continue
		}
		before := cs.status
		cs.status = evaluate(&cs.def, c.healthyLocked, c.policy)
		ch := Change{
			Capability: name,
			Priority:   cs.def.Priority,
			Action:     classify(kind, before, cs.status),
			Before:     before,
			After:      cs.status,
		}
		for _, fb := range cs.status.ActiveFallbacks {
			ch.Fallbacks = append(ch.Fallbacks, fb)
		}
		slices.Sort(ch.Fallbacks)
		r.Changes = append(r.Changes, ch)
	}
	sinks := slices.Clone(c.sinks)
	c.mu.Unlock()

	if r.Transitioned {
		c.logReport(ctx, r)
		for _, s := range sinks {
			c.deliver(ctx, s, r)
		}
	}
	return r
}

func (c *Coordinator) logReport(ctx context.Context, r Report) {
	if r.Kind == KindDegradation {
		c.logger.WarnContext(ctx, "degradation: service marked unavailable", "service", r.Service)
	} else {
		c.logger.InfoContext(ctx, "degradation: service marked available", "service", r.Service)
	}
	for _, ch := range r.Changes {
		attrs := []any{
			"service", r.Service,
			"capability", ch.Capability,
			"priority", ch.Priority.String(),
			"action", string(ch.Action),
			"performance_level", ch.After.PerformanceLevel,
		}
		switch ch.Action {
		case ActionDisabled:
			c.logger.WarnContext(ctx, "degradation: capability disabled", attrs...)
		case ActionUnchanged:
		default:
			c.logger.InfoContext(ctx, "degradation: capability updated", append(attrs, "fallbacks", ch.Fallbacks)...)
		}
	}
}

func (c *Coordinator) deliver(ctx context.Context, s Sink, r Report) {
	defer func() {
		if p := recover(); p != nil {
			c.logger.ErrorContext(ctx, "degradation: report sink panicked",
				"panic", p,
				"service", r.Service,
			)
		}
	}()
	s(ctx, r)
}

// sortedCapabilitiesLocked orders capability names by priority, then name.
func (c *Coordinator) sortedCapabilitiesLocked() []string {
	names := make([]string, 0, len(c.capabilities))
	for name := range c.capabilities {
		names = append(names, name)
	}
	slices.SortFunc(names, func(a, b string) int {
		if p := cmp.Compare(c.capabilities[a].def.Priority, c.capabilities[b].def.Priority); p != 0 {
			return p
		}
		return cmp.Compare(a, b)
	})
	return names
}

// CheckCascadeFailureRisk reports how much of the system is down. HighRisk
// is set when the unavailable share of services reaches the policy's
// global failure threshold. Recommendations are advisory and ordered by
// capability priority.
func (c *Coordinator) CheckCascadeFailureRisk() CascadeRisk {
	c.mu.RLock()
	defer c.mu.RUnlock()

	risk := CascadeRisk{TotalServices: len(c.healthy), CriticalAvailability: 1.0}
	for name, ok := range c.healthy {
		if !ok {
			risk.OpenServices = append(risk.OpenServices, name)
		}
	}
	slices.Sort(risk.OpenServices)
	if risk.TotalServices > 0 {
		risk.FailureRatio = float64(len(risk.OpenServices)) / float64(risk.TotalServices)
	}
	risk.HighRisk = risk.TotalServices > 0 && risk.FailureRatio >= c.policy.GlobalFailureThreshold

	var critical, criticalUp int
	for _, cs := range c.capabilities {
		if cs.def.Priority == PriorityCritical {
			critical++
			if cs.status.Enabled {
				criticalUp++
			}
		}
	}
	if critical > 0 {
		risk.CriticalAvailability = float64(criticalUp) / float64(critical)
	}
	criticalShort := risk.CriticalAvailability < c.policy.CriticalAvailabilityTarget

	if !risk.HighRisk && !criticalShort {
		return risk
	}
	if risk.HighRisk {
		risk.Recommendations = append(risk.Recommendations, Recommendation{
			Priority: PriorityCritical,
			Message: fmt.Sprintf("%d of %d services unavailable (%.0f%%): restore %v before admitting new load",
				len(risk.OpenServices), risk.TotalServices, risk.FailureRatio*100, risk.OpenServices),
		})
	}
	if criticalShort {
		risk.Recommendations = append(risk.Recommendations, Recommendation{
			Priority: PriorityCritical,
			Message: fmt.Sprintf("critical availability %.0f%% is below target %.0f%%",
				risk.CriticalAvailability*100, c.policy.CriticalAvailabilityTarget*100),
		})
	}
	for _, name := range c.sortedCapabilitiesLocked() {
		st := c.capabilities[name].status
		switch {
		case !st.Enabled:
			risk.Recommendations = append(risk.Recommendations, Recommendation{
				Capability: name,
				Priority:   st.Priority,
				Message:    fmt.Sprintf("capability %q disabled: restore %v", name, st.MissingDependencies),
			})
		case st.PerformanceLevel < 1.0:
			risk.Recommendations = append(risk.Recommendations, Recommendation{
				Capability: name,
				Priority:   st.Priority,
				Message: fmt.Sprintf("capability %q degraded to %.2f: restore %v",
					name, st.PerformanceLevel, st.MissingDependencies),
			})
		case st.Priority == PriorityLow && risk.HighRisk:
			risk.Recommendations = append(risk.Recommendations, Recommendation{
				Capability: name,
				Priority:   st.Priority,
				Message:    fmt.Sprintf("consider shedding low priority capability %q", name),
			})
		}
	}
	return risk
}

// Status returns the runtime status of a capability.
func (c *Coordinator) Status(capability string) (Status, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cs, ok := c.capabilities[capability]
	if !ok {
		return Status{}, false
	}
	return cs.status, true
}

// Statuses returns every capability's status, ordered by priority then
// name.
func (c *Coordinator) Statuses() []Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := c.sortedCapabilitiesLocked()
	out := make([]Status, 0, len(names))
	for _, name := range names {
		out = append(out, c.capabilities[name].status)
	}
	return out
}

// Healthy reports whether service is registered and currently available.
func (c *Coordinator) Healthy(service string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.healthy[service]
}

// Services returns the registered service names, sorted.
func (c *Coordinator) Services() []string {
	return c.breakers.Services()
}

// Call runs fn through the breaker of service. Breaker transitions caused
// by the outcome update capability status. An unregistered service yields
// NF_005.
func (c *Coordinator) Call(ctx context.Context, service, operation string, fn breaker.Func) error {
	return c.breakers.Call(ctx, service, operation, fn)
}

// Invoke runs fn for capability if it is enabled, passing the status in
// effect so fn can honor fallbacks and the performance level. A disabled
// capability is rejected with UNAVAIL_005 naming the missing dependency.
func (c *Coordinator) Invoke(ctx context.Context, capability string, fn func(ctx context.Context, st Status) error) error {
	ctx, span := c.tracer.Start(ctx, "degradation.Invoke",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("degradation.capability", capability)),
	)
	defer span.End()

	st, ok := c.Status(capability)
	if !ok {
		err := sserr.NotFoundf("degradation: capability %q is not registered", capability)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if !st.Enabled {
		err := sserr.CapabilityUnavailable(capability, st.DownDependency())
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetAttributes(attribute.Float64("degradation.performance_level", st.PerformanceLevel))

	if err := fn(ctx, st); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

func (c *Coordinator) startSpan(ctx context.Context, name, service string) (context.Context, trace.Span) {
	return c.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("degradation.service", service)),
	)
}

func (c *Coordinator) endSpan(span trace.Span, r Report) {
	span.SetAttributes(
		attribute.Bool("degradation.transitioned", r.Transitioned),
		attribute.Int("degradation.affected", len(r.Changes)),
	)
	span.SetStatus(codes.Ok, "")
}
