// Package health probes the services a coordinator tracks and turns probe
// outcomes into HandleServiceFailure and HandleServiceRecovery calls.
//
// Each service gets a cron schedule (five or six fields, or a
// descriptor such as "@every 15s") and a [Probe]. A service is reported
// failed after FailureThreshold consecutive failed probes and recovered on
// the first success after that.
package health

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/StricklySoft/stricklysoft-isolation/pkg/degradation"
	sserr "github.com/StricklySoft/stricklysoft-isolation/pkg/errors"
)

const (
	DefaultSchedule         = "@every 15s"
	DefaultProbeTimeout     = 5 * time.Second
	DefaultFailureThreshold = 1
)

var scheduleParser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// Probe reports whether a service is reachable. The clients' Health
// methods have this shape.
type Probe func(ctx context.Context) error

// Target receives health changes. *degradation.Coordinator satisfies it.
// Healthy is the target's own view, which breakers may also change; the
// checker reports only where a probe disagrees with it.
type Target interface {
	Healthy(service string) bool
	HandleServiceFailure(ctx context.Context, service string) degradation.DegradationReport
	HandleServiceRecovery(ctx context.Context, service string) degradation.RestorationReport
}

// Result is the last outcome for one service.
type Result struct {
	Service             string    `json:"service"`
	Healthy             bool      `json:"healthy"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastError           string    `json:"last_error,omitempty"`
	LastCheck           time.Time `json:"last_check,omitzero"`
}

type probeState struct {
	service string
	probe   Probe

	run sync.Mutex // one probe at a time per service

	mu     sync.Mutex
	result Result
}

// Checker runs probes on their schedules.
type Checker struct {
	target    Target
	logger    *slog.Logger
	timeout   time.Duration
	threshold int

	mu      sync.RWMutex
	probes  map[string]*probeState
	cron    *cron.Cron
	started bool
}

// Option configures a Checker.
type Option func(*Checker)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Checker) { c.logger = l }
}

// WithProbeTimeout bounds each probe.
func WithProbeTimeout(d time.Duration) Option {
	return func(c *Checker) { c.timeout = d }
}

// WithFailureThreshold sets how many consecutive failures mark a service
// down. Values below 1 are ignored.
func WithFailureThreshold(n int) Option {
	return func(c *Checker) {
		if n >= 1 {
			c.threshold = n
		}
	}
}

// NewChecker returns a checker reporting to target.
func NewChecker(target Target, opts ...Option) *Checker {
	c := &Checker{
		target:    target,
		logger:    slog.Default(),
		timeout:   DefaultProbeTimeout,
		threshold: DefaultFailureThreshold,
		probes:    make(map[string]*probeState),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.cron = cron.New(cron.WithParser(scheduleParser))
	return c
}

// Register adds a probe for service. An empty schedule selects
// DefaultSchedule. Registering after Start schedules the probe at once.
func (c *Checker) Register(service, schedule string, p Probe) error {
	if service == "" {
		return sserr.Required("service")
	}
	if p == nil {
		return sserr.Required("probe")
	}
	if schedule == "" {
		schedule = DefaultSchedule
	}
	sched, err := scheduleParser.Parse(schedule)
	if err != nil {
		return sserr.Wrapf(err, sserr.CodeValidation, "health: invalid schedule %q for %q", schedule, service)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, dup := c.probes[service]; dup {
		return sserr.AlreadyExistsf("health: probe for %q already registered", service)
	}
	ps := &probeState{
		service: service,
		probe:   p,
		result:  Result{Service: service, Healthy: true},
	}
	c.probes[service] = ps
	c.cron.Schedule(sched, c.job(ps))
	return nil
}

func (c *Checker) job(ps *probeState) cron.Job {
	return cron.FuncJob(func() { c.check(context.Background(), ps) })
}

// Start begins running scheduled probes. It is a no-op when running.
func (c *Checker) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return
	}
	c.started = true
	c.cron.Start()
}

// Stop halts scheduling and waits for running probes, or for ctx.
func (c *Checker) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = false
	done := c.cron.Stop()
	c.mu.Unlock()

	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return sserr.Wrap(ctx.Err(), sserr.CodeTimeout, "health: stop timed out")
	}
}

// CheckNow probes service immediately and returns its updated result.
func (c *Checker) CheckNow(ctx context.Context, service string) (Result, error) {
	c.mu.RLock()
	ps, ok := c.probes[service]
	c.mu.RUnlock()
	if !ok {
		return Result{}, sserr.ServiceNotFound(service)
	}
	return c.check(ctx, ps), nil
}

// CheckAll probes every service concurrently.
func (c *Checker) CheckAll(ctx context.Context) []Result {
	c.mu.RLock()
	states := make([]*probeState, 0, len(c.probes))
	for _, ps := range c.probes {
		states = append(states, ps)
	}
	c.mu.RUnlock()

	out := make([]Result, len(states))
	var wg sync.WaitGroup
	for i, ps := range states {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out[i] = c.check(ctx, ps)
		}()
	}
	wg.Wait()
	sortResults(out)
	return out
}

// Results returns the last result per service, sorted by name.
func (c *Checker) Results() []Result {
	c.mu.RLock()
	out := make([]Result, 0, len(c.probes))
	for _, ps := range c.probes {
		ps.mu.Lock()
		out = append(out, ps.result)
		ps.mu.Unlock()
	}
	c.mu.RUnlock()
	sortResults(out)
	return out
}

func sortResults(rs []Result) {
	slices.SortFunc(rs, func(a, b Result) int {
		switch {
		case a.Service < b.Service:
			return -1
		case a.Service > b.Service:
			return 1
		}
		return 0
	})
}

func (c *Checker) check(ctx context.Context, ps *probeState) Result {
	ps.run.Lock()
	defer ps.run.Unlock()

	pctx, cancel := context.WithTimeout(ctx, c.timeout)
	err := c.runProbe(pctx, ps)
	cancel()

	targetHealthy := c.target.Healthy(ps.service)

	ps.mu.Lock()
	r := &ps.result
	r.LastCheck = time.Now().UTC()
	var failed, restored bool
	if err != nil {
		r.ConsecutiveFailures++
		r.LastError = err.Error()
		if r.ConsecutiveFailures >= c.threshold {
			r.Healthy = false
			failed = targetHealthy
		}
	} else {
		r.ConsecutiveFailures = 0
		r.LastError = ""
		r.Healthy = true
		restored = !targetHealthy
	}
	result := *r
	ps.mu.Unlock()

	switch {
	case failed:
		c.logger.WarnContext(ctx, "health: service failed probe",
			"service", ps.service, "failures", result.ConsecutiveFailures, "error", err)
		c.target.HandleServiceFailure(ctx, ps.service)
	case restored:
		c.logger.InfoContext(ctx, "health: service recovered", "service", ps.service)
		c.target.HandleServiceRecovery(ctx, ps.service)
	case err != nil:
		c.logger.DebugContext(ctx, "health: probe failed", "service", ps.service, "error", err)
	}
	return result
}

// runProbe converts a panicking probe into a failure.
func (c *Checker) runProbe(ctx context.Context, ps *probeState) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = sserr.Newf(sserr.CodeInternal, "health: probe for %q panicked: %v", ps.service, p)
		}
	}()
	return ps.probe(ctx)
}

// HTTPProbe GETs url and treats any 2xx response as healthy.
func HTTPProbe(client *http.Client, url string) Probe {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return sserr.Wrap(err, sserr.CodeValidation, "health: invalid probe URL")
		}
		resp, err := client.Do(req)
		if err != nil {
			return sserr.Wrap(err, sserr.CodeUnavailableDependency, "health: probe request failed")
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return sserr.Newf(sserr.CodeUnavailableDependency, "health: probe %s returned %d", url, resp.StatusCode)
		}
		return nil
	}
}
