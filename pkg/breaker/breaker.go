// Package breaker implements per-service circuit breakers.
//
// A [CircuitBreaker] guards calls to one dependency:
//
//	closed    --(failure_threshold consecutive failures)--> open
//	open      --(recovery_timeout since last failure)-----> half_open
//	half_open --(half_open_max_calls successes)-----------> closed
//	half_open --(any failure)-----------------------------> open
//
// The open → half_open step is evaluated lazily, on the next call after the
// timeout. Rejected calls fail fast with an UNAVAIL_004 error matching
// [sserr.ErrCircuitOpen] and never run the guarded function. Errors from
// the guarded function are returned unchanged. Nothing here retries.
//
// Each breaker has its own lock; a [Registry] never holds a lock shared by
// two services while a call is in flight.
package breaker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/StricklySoft/stricklysoft-isolation/pkg/errors"
)

const tracerName = "github.com/StricklySoft/stricklysoft-isolation/pkg/breaker"

// Func is the guarded operation. It receives the caller's context.
type Func func(ctx context.Context) error

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeFailure
	outcomeAbandoned
)

// Option configures a CircuitBreaker or a Registry.
type Option func(*options)

type options struct {
	clock     Clock
	logger    *slog.Logger
	isFailure func(error) bool
	listeners []Listener
}

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithLogger sets the logger for transition messages.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithListener adds a transition listener.
func WithListener(l Listener) Option {
	return func(o *options) { o.listeners = append(o.listeners, l) }
}

// WithFailurePredicate decides which non-nil errors count as failures.
// Errors it rejects are recorded as successes: the dependency answered.
// By default every non-nil error is a failure.
func WithFailurePredicate(fn func(error) bool) Option {
	return func(o *options) { o.isFailure = fn }
}

func buildOptions(opts []Option) options {
	o := options{clock: systemClock{}, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.isFailure == nil {
		o.isFailure = func(error) bool { return true }
	}
	return o
}

// CircuitBreaker guards calls to a single service.
type CircuitBreaker struct {
	service string
	cfg     Config
	opts    options
	tracer  trace.Tracer

	mu                sync.Mutex
	state             State
	generation        uint64
	failureCount      int
	lastFailure       time.Time
	halfOpenCalls     int
	halfOpenSuccesses int
	totalCalls        uint64
	totalFailures     uint64
	totalRejections   uint64
}

// New returns a closed breaker for service.
func New(service string, cfg Config, opts ...Option) (*CircuitBreaker, error) {
	if service == "" {
		return nil, sserr.Required("service")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &CircuitBreaker{
		service: service,
		cfg:     cfg,
		opts:    buildOptions(opts),
		tracer:  otel.Tracer(tracerName),
		state:   StateClosed,
	}, nil
}

// Service returns the guarded service name.
func (b *CircuitBreaker) Service() string { return b.service }

// Config returns the breaker's thresholds.
func (b *CircuitBreaker) Config() Config { return b.cfg }

// State returns the current state without evaluating the recovery timeout.
func (b *CircuitBreaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot copies the breaker's counters.
func (b *CircuitBreaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		Service:           b.service,
		State:             b.state,
		FailureCount:      b.failureCount,
		LastFailureTime:   b.lastFailure,
		HalfOpenCalls:     b.halfOpenCalls,
		HalfOpenSuccesses: b.halfOpenSuccesses,
		Config:            b.cfg,
		TotalCalls:        b.totalCalls,
		TotalFailures:     b.totalFailures,
		TotalRejections:   b.totalRejections,
	}
}

// Call runs fn if the breaker admits it and records exactly one outcome.
//
// A caller whose context is already done is turned away with a
// TIMEOUT_003 error and nothing is recorded. If fn returns
// context.Canceled while the caller's context is canceled, the call is
// treated as abandoned: neither a success nor a failure, and a half-open
// probe slot it held is released. A panic in fn is recorded as a failure
// and re-raised.
func (b *CircuitBreaker) Call(ctx context.Context, operation string, fn Func) (err error) {
	if cerr := ctx.Err(); cerr != nil {
		return sserr.Wrapf(cerr, sserr.CodeTimeoutDependency,
			"breaker: call to %q canceled before admission", b.service)
	}

	ctx, span := b.tracer.Start(ctx, "breaker.Call",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("breaker.service", b.service),
			attribute.String("breaker.operation", operation),
		),
	)
	defer span.End()

	gen, state, admitErr := b.admit()
	span.SetAttributes(attribute.String("breaker.state", state.String()))
	if admitErr != nil {
		span.RecordError(admitErr)
		span.SetStatus(codes.Error, admitErr.Error())
		return admitErr
	}

	defer func() {
		if r := recover(); r != nil {
			b.record(gen, outcomeFailure)
			panic(r)
		}
	}()

	err = fn(ctx)
	b.record(gen, b.classify(ctx, err))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

func (b *CircuitBreaker) classify(ctx context.Context, err error) outcome {
	switch {
	case err == nil:
		return outcomeSuccess
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		return outcomeAbandoned
	case b.opts.isFailure(err):
		return outcomeFailure
	default:
		return outcomeSuccess
	}
}

// admit decides whether a call may run. It returns the generation the
// outcome must be recorded against.
func (b *CircuitBreaker) admit() (uint64, State, error) {
	b.mu.Lock()
	now := b.opts.clock.Now()
	var pending []Transition

	if b.state == StateOpen {
		elapsed := now.Sub(b.lastFailure)
		if elapsed < b.cfg.RecoveryTimeout {
			b.totalRejections++
			b.mu.Unlock()
			return 0, StateOpen, sserr.CircuitOpen(b.service, string(StateOpen), b.cfg.RecoveryTimeout-elapsed)
		}
		pending = append(pending, b.transitionLocked(StateHalfOpen, now, "recovery timeout elapsed"))
	}

	if b.state == StateHalfOpen {
		if b.halfOpenCalls >= b.cfg.HalfOpenMaxCalls {
			b.totalRejections++
			b.mu.Unlock()
			b.emit(pending)
			return 0, StateHalfOpen, sserr.CircuitOpen(b.service, string(StateHalfOpen), 0)
		}
		b.halfOpenCalls++
	}

	b.totalCalls++
	gen, state := b.generation, b.state
	b.mu.Unlock()
	b.emit(pending)
	return gen, state, nil
}

// record applies an outcome. Outcomes from an earlier generation belong to
// a state the breaker has already left and are dropped.
func (b *CircuitBreaker) record(gen uint64, result outcome) {
	b.mu.Lock()
	if result == outcomeFailure {
		b.totalFailures++
	}
	if gen != b.generation {
		b.mu.Unlock()
		return
	}

	now := b.opts.clock.Now()
	var pending []Transition

	switch b.state {
	case StateClosed:
		switch result {
		case outcomeSuccess:
			b.failureCount = 0
		case outcomeFailure:
			b.failureCount++
			b.lastFailure = now
			if b.failureCount >= b.cfg.FailureThreshold {
				pending = append(pending, b.transitionLocked(StateOpen, now, "failure threshold reached"))
			}
		}

	case StateHalfOpen:
		switch result {
		case outcomeSuccess:
			b.halfOpenSuccesses++
			if b.halfOpenSuccesses >= b.cfg.HalfOpenMaxCalls {
				pending = append(pending, b.transitionLocked(StateClosed, now, "half-open probes succeeded"))
			}
		case outcomeFailure:
			b.lastFailure = now
			b.failureCount++
			pending = append(pending, b.transitionLocked(StateOpen, now, "half-open probe failed"))
		case outcomeAbandoned:
			b.halfOpenCalls--
		}
	}

	b.mu.Unlock()
	b.emit(pending)
}

// Trip forces the breaker open, as if the threshold had just been reached.
func (b *CircuitBreaker) Trip(reason string) {
	b.mu.Lock()
	var pending []Transition
	now := b.opts.clock.Now()
	b.lastFailure = now
	if b.state != StateOpen {
		pending = append(pending, b.transitionLocked(StateOpen, now, reason))
	}
	b.mu.Unlock()
	b.emit(pending)
}

// Reset forces the breaker closed and clears its failure count.
func (b *CircuitBreaker) Reset(reason string) {
	b.mu.Lock()
	var pending []Transition
	if b.state != StateClosed {
		pending = append(pending, b.transitionLocked(StateClosed, b.opts.clock.Now(), reason))
	} else {
		b.failureCount = 0
	}
	b.mu.Unlock()
	b.emit(pending)
}

// transitionLocked switches state and starts a new generation. b.mu must be
// held.
func (b *CircuitBreaker) transitionLocked(to State, now time.Time, reason string) Transition {
	t := Transition{Service: b.service, From: b.state, To: to, At: now, Reason: reason}

	b.state = to
	b.generation++
	b.halfOpenCalls = 0
	b.halfOpenSuccesses = 0
	if to == StateClosed {
		b.failureCount = 0
	}
	return t
}

// emit logs and publishes transitions. It must run without b.mu held.
func (b *CircuitBreaker) emit(transitions []Transition) {
	for _, t := range transitions {
		attrs := []any{
			"service", t.Service,
			"from", string(t.From),
			"to", string(t.To),
			"reason", t.Reason,
		}
		if t.To == StateOpen {
			b.opts.logger.Warn("breaker: circuit opened", attrs...)
		} else {
			b.opts.logger.Info("breaker: circuit state changed", attrs...)
		}
		for _, l := range b.opts.listeners {
			b.notify(l, t)
		}
	}
}

func (b *CircuitBreaker) notify(l Listener, t Transition) {
	defer func() {
		if r := recover(); r != nil {
			b.opts.logger.Error("breaker: listener panicked",
				"panic", r,
				"service", t.Service,
				"to", string(t.To),
			)
		}
	}()
	l(t)
}
