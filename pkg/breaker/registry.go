package breaker

import (
	"context"
	"slices"
	"sync"

	sserr "github.com/StricklySoft/stricklysoft-isolation/pkg/errors"
)

// Registry owns one breaker per service. The registry lock guards only the
// name → breaker map; calls run under the individual breaker's lock.
type Registry struct {
	defaults Config
	opts     []Option

	mu        sync.RWMutex
	breakers  map[string]*CircuitBreaker
	listeners []Listener
}

// NewRegistry returns an empty registry. defaults configures breakers made
// by GetOrCreate; opts apply to every breaker the registry creates.
func NewRegistry(defaults Config, opts ...Option) (*Registry, error) {
	if err := defaults.Validate(); err != nil {
		return nil, err
	}
	return &Registry{
		defaults: defaults,
		opts:     opts,
		breakers: make(map[string]*CircuitBreaker),
	}, nil
}

// AddListener registers l for transitions of every breaker, including
// breakers created earlier.
func (r *Registry) AddListener(l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

func (r *Registry) dispatch(t Transition) {
	r.mu.RLock()
	listeners := slices.Clone(r.listeners)
	r.mu.RUnlock()
	for _, l := range listeners {
		l(t)
	}
}

func (r *Registry) newBreaker(service string, cfg Config) (*CircuitBreaker, error) {
	opts := append(slices.Clone(r.opts), WithListener(r.dispatch))
	return New(service, cfg, opts...)
}

// Register creates the breaker for service. A second registration of the
// same name fails with CONF_002.
func (r *Registry) Register(service string, cfg Config) (*CircuitBreaker, error) {
	b, err := r.newBreaker(service, cfg)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.breakers[service]; exists {
		return nil, sserr.AlreadyExistsf("breaker: service %q already registered", service)
	}
	r.breakers[service] = b
	return b, nil
}

// Get returns the breaker for service.
func (r *Registry) Get(service string) (*CircuitBreaker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.breakers[service]
	return b, ok
}

// GetOrCreate returns the breaker for service, creating it with the
// registry defaults on first use.
func (r *Registry) GetOrCreate(service string) (*CircuitBreaker, error) {
	if b, ok := r.Get(service); ok {
		return b, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[service]; ok {
		return b, nil
	}
	b, err := r.newBreaker(service, r.defaults)
	if err != nil {
		return nil, err
	}
	r.breakers[service] = b
	return b, nil
}

// Call runs fn through the breaker of a registered service. An unknown
// service yields NF_005 and fn does not run.
func (r *Registry) Call(ctx context.Context, service, operation string, fn Func) error {
	b, ok := r.Get(service)
	if !ok {
		return sserr.ServiceNotFound(service)
	}
	return b.Call(ctx, operation, fn)
}

// Services returns the registered service names, sorted.
func (r *Registry) Services() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.breakers))
	for name := range r.breakers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Snapshots returns every breaker's snapshot, sorted by service.
func (r *Registry) Snapshots() []Snapshot {
	names := r.Services()
	out := make([]Snapshot, 0, len(names))
	for _, name := range names {
		if b, ok := r.Get(name); ok {
			out = append(out, b.Snapshot())
		}
	}
	return out
}

// OpenServices returns the services whose breaker is open, sorted.
func (r *Registry) OpenServices() []string {
	var open []string
	for _, s := range r.Snapshots() {
		if s.State == StateOpen {
			open = append(open, s.Service)
		}
	}
	return open
}
