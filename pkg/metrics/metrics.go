// Package metrics exports Prometheus collectors for the isolation layer,
// the event router, circuit breakers and the degradation coordinator.
//
// A [Metrics] value satisfies isolation.Observer and events.Observer
// directly and supplies a breaker listener and a degradation sink:
//
//	m := metrics.New(prometheus.DefaultRegisterer)
//	reg := isolation.NewRegistry(isolation.WithObserver(m))
//	router := events.NewRouter(events.WithObserver(m))
//	m.Attach(coordinator)
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/StricklySoft/stricklysoft-isolation/pkg/breaker"
	"github.com/StricklySoft/stricklysoft-isolation/pkg/degradation"
	"github.com/StricklySoft/stricklysoft-isolation/pkg/events"
	"github.com/StricklySoft/stricklysoft-isolation/pkg/isolation"
	"github.com/StricklySoft/stricklysoft-isolation/pkg/models"
)

const namespace = "isolation"

var breakerStates = []breaker.State{breaker.StateClosed, breaker.StateOpen, breaker.StateHalfOpen}

// Metrics holds every collector. Create one per registerer.
type Metrics struct {
	ContextsActive   prometheus.Gauge
	ContextsCreated  prometheus.Counter
	AgentsActive     *prometheus.GaugeVec
	AgentsCreated    *prometheus.CounterVec
	EventsRouted     *prometheus.CounterVec
	EventsDropped    *prometheus.CounterVec
	EventSubscribers prometheus.Gauge

	BreakerState       *prometheus.GaugeVec
	BreakerTransitions *prometheus.CounterVec

	Reports           *prometheus.CounterVec
	CapabilityActions *prometheus.CounterVec
	CapabilityEnabled *prometheus.GaugeVec
	CapabilityLevel   *prometheus.GaugeVec
}

var (
	_ isolation.Observer = (*Metrics)(nil)
	_ events.Observer    = (*Metrics)(nil)
)

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ContextsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "contexts_active",
			Help: "Execution contexts currently registered.",
		}),
		ContextsCreated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "contexts_created_total",
			Help: "Execution contexts created.",
		}),
		AgentsActive: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "agents_active",
			Help: "Live agent instances by agent name.",
		}, []string{"agent"}),
		AgentsCreated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "agents_created_total",
			Help: "Agent instances constructed by agent name.",
		}, []string{"agent"}),
		EventsRouted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_delivered_total",
			Help: "Event deliveries to run subscribers by event type.",
		}, []string{"event_type"}),
		EventsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_dropped_total",
			Help: "Events dropped on full subscriber buffers by event type.",
		}, []string{"event_type"}),
		EventSubscribers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "event_subscribers",
			Help: "Open run subscriptions.",
		}),
		BreakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "breaker", Name: "state",
			Help: "1 for the breaker's current state, 0 otherwise.",
		}, []string{"service", "state"}),
		BreakerTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "breaker", Name: "transitions_total",
			Help: "Breaker state transitions.",
		}, []string{"service", "from", "to"}),
		Reports: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "degradation", Name: "reports_total",
			Help: "Degradation and restoration reports by kind and service.",
		}, []string{"kind", "service"}),
		CapabilityActions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "degradation", Name: "capability_actions_total",
			Help: "Capability changes by action.",
		}, []string{"capability", "action"}),
		CapabilityEnabled: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "degradation", Name: "capability_enabled",
			Help: "1 when the capability is enabled.",
		}, []string{"capability"}),
		CapabilityLevel: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "degradation", Name: "capability_performance_level",
			Help: "Current performance level of the capability.",
		}, []string{"capability"}),
	}
}

func (m *Metrics) ContextCreated() {
	m.ContextsActive.Inc()
	m.ContextsCreated.Inc()
}

func (m *Metrics) ContextCleaned() { m.ContextsActive.Dec() }

func (m *Metrics) AgentCreated(name string) {
	m.AgentsActive.WithLabelValues(name).Inc()
	m.AgentsCreated.WithLabelValues(name).Inc()
}

func (m *Metrics) AgentReleased(name string) { m.AgentsActive.WithLabelValues(name).Dec() }

func (m *Metrics) EventRouted(t models.EventType, d events.Delivery) {
	m.EventsRouted.WithLabelValues(string(t)).Add(float64(d.Delivered))
	if d.Dropped > 0 {
		m.EventsDropped.WithLabelValues(string(t)).Add(float64(d.Dropped))
	}
}

func (m *Metrics) SubscribersChanged(delta int) { m.EventSubscribers.Add(float64(delta)) }

// ObserveBreaker records t. Use it as a breaker.Listener.
func (m *Metrics) ObserveBreaker(t breaker.Transition) {
	m.BreakerTransitions.WithLabelValues(t.Service, string(t.From), string(t.To)).Inc()
	m.setBreakerState(t.Service, t.To)
}

func (m *Metrics) setBreakerState(service string, current breaker.State) {
	for _, s := range breakerStates {
		v := 0.0
		if s == current {
			v = 1
		}
		m.BreakerState.WithLabelValues(service, string(s)).Set(v)
	}
}

// ObserveReport records r. Use it as a degradation.Sink.
func (m *Metrics) ObserveReport(_ context.Context, r degradation.Report) {
	m.Reports.WithLabelValues(string(r.Kind), r.Service).Inc()
	for _, c := range r.Changes {
		if c.Action != degradation.ActionUnchanged {
			m.CapabilityActions.WithLabelValues(c.Capability, string(c.Action)).Inc()
		}
		m.setCapability(c.After)
	}
}

func (m *Metrics) setCapability(st degradation.Status) {
	enabled := 0.0
	if st.Enabled {
		enabled = 1
	}
	m.CapabilityEnabled.WithLabelValues(st.Name).Set(enabled)
	m.CapabilityLevel.WithLabelValues(st.Name).Set(st.PerformanceLevel)
}

// Attach seeds the gauges from c's current state and subscribes to its
// breakers and reports.
func (m *Metrics) Attach(c *degradation.Coordinator) {
	for _, snap := range c.Breakers().Snapshots() {
		m.setBreakerState(snap.Service, snap.State)
	}
	for _, st := range c.Statuses() {
		m.setCapability(st)
	}
	c.Breakers().AddListener(m.ObserveBreaker)
	c.AddSink(m.ObserveReport)
}
