// Package events routes run events to the subscribers of exactly one run.
//
// Every subscription is registered under a single run ID, and [Router.Route]
// delivers only to the subscriptions of the run ID it is given. There is no
// broadcast and no default channel: an event for a run nobody is watching
// is dropped and reported as not found.
//
// Delivery never blocks. Each subscription has a bounded buffer; when it is
// full the event is dropped for that subscriber and counted in the returned
// [Delivery]. Runs are locked independently, so delivery to one run never
// waits on another beyond a read-locked map lookup.
package events

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	sserr "github.com/StricklySoft/stricklysoft-isolation/pkg/errors"
	"github.com/StricklySoft/stricklysoft-isolation/pkg/models"
)

// DefaultBuffer is the subscription buffer used when Subscribe is given a
// non-positive size.
const DefaultBuffer = 64

// Delivery is the outcome of one Route call.
type Delivery struct {
	RunID     string `json:"run_id"`
	Delivered int    `json:"delivered"`
	Dropped   int    `json:"dropped"`
}

// Observer receives routing counts. Implementations must be safe for
// concurrent use and must not block.
type Observer interface {
	EventRouted(eventType models.EventType, d Delivery)
	SubscribersChanged(delta int)
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithObserver reports routing counts to o.
func WithObserver(o Observer) Option {
	return func(r *Router) { r.observer = o }
}

// Router maps run IDs to their subscriptions.
type Router struct {
	logger   *slog.Logger
	observer Observer
	nextID   atomic.Uint64

	mu   sync.RWMutex
	runs map[string]*run
}

type run struct {
	id   string
	mu   sync.Mutex
	subs map[uint64]*Subscription
}

// NewRouter returns an empty router.
func NewRouter(opts ...Option) *Router {
	r := &Router{
		logger: slog.Default(),
		runs:   make(map[string]*run),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Subscribe registers a subscription under runID with the given buffer
// size.
func (r *Router) Subscribe(runID string, buffer int) (*Subscription, error) {
	if runID == "" {
		return nil, sserr.Required("run_id")
	}
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	sub := &Subscription{
		id:     r.nextID.Add(1),
		runID:  runID,
		ch:     make(chan models.Event, buffer),
		router: r,
	}

	r.mu.Lock()
	rn, ok := r.runs[runID]
	if !ok {
		rn = &run{id: runID, subs: make(map[uint64]*Subscription)}
		r.runs[runID] = rn
	}
	rn.mu.Lock()
	rn.subs[sub.id] = sub
	rn.mu.Unlock()
	r.mu.Unlock()

	if r.observer != nil {
		r.observer.SubscribersChanged(1)
	}
	r.logger.Debug("events: subscribed", "run_id", runID, "subscription", sub.id)
	return sub, nil
}

// Route delivers ev to the subscribers of runID. The event's own RunID
// must equal runID. When the run has no subscribers the event is dropped
// and a not-found error is returned alongside the Delivery.
func (r *Router) Route(ctx context.Context, runID string, ev models.Event) (Delivery, error) {
	d := Delivery{RunID: runID}
	if err := ctx.Err(); err != nil {
		return d, sserr.Wrap(err, sserr.CodeTimeout, "events: route cancelled")
	}
	if runID == "" {
		return d, sserr.Required("run_id")
	}
	if ev.RunID != runID {
		return d, sserr.Newf(sserr.CodeValidation,
			"events: event for run %q routed under run %q", ev.RunID, runID).
			WithDetail("run_id", runID)
	}
	if err := ev.Validate(); err != nil {
		return d, err
	}

	r.mu.RLock()
	rn := r.runs[runID]
	r.mu.RUnlock()

	if rn != nil {
		rn.mu.Lock()
		for _, sub := range rn.subs {
			select {
			case sub.ch <- ev:
				d.Delivered++
			default:
				sub.dropped.Add(1)
				d.Dropped++
			}
		}
		rn.mu.Unlock()
	}

	if r.observer != nil {
		r.observer.EventRouted(ev.Type, d)
	}
	if d.Delivered == 0 && d.Dropped == 0 {
		return d, sserr.NotFoundf("events: no subscribers for run %q", runID)
	}
	if d.Dropped > 0 {
		r.logger.Debug("events: subscriber buffer full, event dropped",
			"run_id", runID,
			"event_type", ev.Type,
			"dropped", d.Dropped,
		)
	}
	return d, nil
}

// CloseRun closes every subscription of runID and returns how many were
// closed.
func (r *Router) CloseRun(runID string) int {
	r.mu.Lock()
	rn, ok := r.runs[runID]
	delete(r.runs, runID)
	r.mu.Unlock()
	if !ok {
		return 0
	}

	rn.mu.Lock()
	subs := rn.subs
	rn.subs = make(map[uint64]*Subscription)
	for _, sub := range subs {
		sub.closeChannel()
	}
	rn.mu.Unlock()

	if r.observer != nil && len(subs) > 0 {
		r.observer.SubscribersChanged(-len(subs))
	}
	return len(subs)
}

// Subscribers returns the number of live subscriptions under runID.
func (r *Router) Subscribers(runID string) int {
	r.mu.RLock()
	rn := r.runs[runID]
	r.mu.RUnlock()
	if rn == nil {
		return 0
	}
	rn.mu.Lock()
	defer rn.mu.Unlock()
	return len(rn.subs)
}

// Runs returns the number of runs with at least one subscription.
func (r *Router) Runs() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.runs)
}

func (r *Router) unsubscribe(sub *Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rn, ok := r.runs[sub.runID]
	if !ok {
		return
	}
	rn.mu.Lock()
	_, live := rn.subs[sub.id]
	if live {
		delete(rn.subs, sub.id)
		sub.closeChannel()
	}
	if len(rn.subs) == 0 {
		delete(r.runs, sub.runID)
	}
	rn.mu.Unlock()

	if live && r.observer != nil {
		r.observer.SubscribersChanged(-1)
	}
}

// Subscription receives the events of one run.
type Subscription struct {
	id      uint64
	runID   string
	ch      chan models.Event
	router  *Router
	dropped atomic.Int64
	once    sync.Once
}

// RunID returns the run this subscription is bound to.
func (s *Subscription) RunID() string { return s.runID }

// Events returns the delivery channel. It is closed by Close or CloseRun.
func (s *Subscription) Events() <-chan models.Event { return s.ch }

// Dropped returns how many events were dropped because the buffer was
// full.
func (s *Subscription) Dropped() int64 { return s.dropped.Load() }

// Close unregisters the subscription and closes its channel. Idempotent.
func (s *Subscription) Close() {
	s.router.unsubscribe(s)
}

// closeChannel must be called with the run lock held.
func (s *Subscription) closeChannel() {
	s.once.Do(func() { close(s.ch) })
}
