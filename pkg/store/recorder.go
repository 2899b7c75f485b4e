package store

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/StricklySoft/stricklysoft-isolation/pkg/breaker"
	"github.com/StricklySoft/stricklysoft-isolation/pkg/degradation"
)

const (
	DefaultQueueSize    = 256
	DefaultWriteTimeout = 5 * time.Second
)

type write struct {
	what string
	fn   func(ctx context.Context) error
}

// Recorder feeds a Store from coordinator reports and breaker transitions.
// Both hooks only enqueue; Run performs the writes. A full queue drops the
// write and counts it.
type Recorder struct {
	store   Store
	logger  *slog.Logger
	timeout time.Duration
	queue   chan write
	dropped atomic.Uint64
	written atomic.Uint64
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithRecorderLogger sets the logger for failed writes.
func WithRecorderLogger(l *slog.Logger) RecorderOption {
	return func(r *Recorder) { r.logger = l }
}

// WithQueueSize sets the number of pending writes held before dropping.
func WithQueueSize(n int) RecorderOption {
	return func(r *Recorder) {
		if n > 0 {
			r.queue = make(chan write, n)
		}
	}
}

// WithWriteTimeout bounds each store call.
func WithWriteTimeout(d time.Duration) RecorderOption {
	return func(r *Recorder) { r.timeout = d }
}

// NewRecorder returns a recorder writing to s.
func NewRecorder(s Store, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		store:   s,
		logger:  slog.Default(),
		timeout: DefaultWriteTimeout,
		queue:   make(chan write, DefaultQueueSize),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Attach registers the recorder as a report sink and a breaker listener on
// c.
func (r *Recorder) Attach(c *degradation.Coordinator) {
	c.AddSink(r.Sink())
	c.Breakers().AddListener(r.Listener(c.Breakers()))
}

// Sink returns a degradation sink that persists each report.
func (r *Recorder) Sink() degradation.Sink {
	return func(_ context.Context, rep degradation.Report) {
		r.enqueue(write{
			what: "report " + string(rep.Kind) + " " + rep.Service,
			fn:   func(ctx context.Context) error { return r.store.SaveReport(ctx, rep) },
		})
	}
}

// Listener returns a breaker listener that persists the transitioned
// breaker's snapshot, read from reg at transition time.
func (r *Recorder) Listener(reg *breaker.Registry) breaker.Listener {
	return func(t breaker.Transition) {
		b, ok := reg.Get(t.Service)
		if !ok {
			return
		}
		snap := b.Snapshot()
		r.enqueue(write{
			what: "snapshot " + t.Service,
			fn:   func(ctx context.Context) error { return r.store.SaveSnapshot(ctx, snap) },
		})
	}
}

func (r *Recorder) enqueue(w write) {
	select {
	case r.queue <- w:
	default:
		r.dropped.Add(1)
		r.logger.Warn("store: write queue full, dropping", "write", w.what)
	}
}

// Run performs queued writes until ctx is done, then flushes what is left
// with a fresh deadline per write.
func (r *Recorder) Run(ctx context.Context) error {
	for {
		select {
		case w := <-r.queue:
			r.perform(ctx, w)
		case <-ctx.Done():
			r.flush()
			return nil
		}
	}
}

func (r *Recorder) flush() {
	for {
		select {
		case w := <-r.queue:
			r.perform(context.Background(), w)
		default:
			return
		}
	}
}

func (r *Recorder) perform(ctx context.Context, w write) {
	if ctx.Err() != nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := w.fn(ctx); err != nil {
		r.logger.WarnContext(ctx, "store: write failed", "write", w.what, "error", err)
		return
	}
	r.written.Add(1)
}

// Dropped returns how many writes were discarded on a full queue.
func (r *Recorder) Dropped() uint64 { return r.dropped.Load() }

// Written returns how many writes succeeded.
func (r *Recorder) Written() uint64 { return r.written.Load() }
