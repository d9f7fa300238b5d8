package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// DefaultMailboxSize is the number of frames buffered per sink.
const DefaultMailboxSize = 8

// SinkID identifies a registered sink.
type SinkID string

// Sink consumes frames on its own goroutine.
//
// Accepts is called from the routing goroutine and must be cheap and safe to
// call concurrently with Consume. Start runs once during registration; Consume
// and Stop run on the sink's goroutine. Returning ErrSinkComplete from Consume
// unregisters the sink.
type Sink interface {
	Name() string
	Accepts(f *Frame) bool
	Start() error
	Consume(f *Frame) error
	Stop() error
}

// Router fans frames out to registered sinks. Each sink has a bounded mailbox
// and a goroutine; a slow or failing sink never affects the others.
type Router struct {
	logger   *slog.Logger
	notifier *Notifier
	mailbox  int

	mu      sync.RWMutex
	workers map[SinkID]*sinkWorker
	closed  bool

	routed atomic.Uint64
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithMailboxSize sets the per-sink mailbox capacity.
func WithMailboxSize(n int) RouterOption {
	return func(r *Router) {
		if n > 0 {
			r.mailbox = n
		}
	}
}

// WithRouterLogger sets the router's logger.
func WithRouterLogger(logger *slog.Logger) RouterOption {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

type sinkWorker struct {
	id    SinkID
	sink  Sink
	queue chan *Frame
	done  chan struct{}
	added time.Time

	// Guarded by mu; touched only by Route.
	mu      sync.Mutex
	lastTS  time.Duration
	hasLast bool
	inDrop  bool

	closeOnce sync.Once
	finished  bool // worker goroutine only

	consumed atomic.Uint64
	dropped  atomic.Uint64
	skipped  atomic.Uint64
	failures atomic.Uint64
}

// SinkStats reports per-sink counters.
type SinkStats struct {
	ID       SinkID    `json:"id"`
	Name     string    `json:"name"`
	Consumed uint64    `json:"consumed"`
	Dropped  uint64    `json:"dropped"`
	Skipped  uint64    `json:"skipped"`
	Failures uint64    `json:"failures"`
	Queued   int       `json:"queued"`
	Added    time.Time `json:"added"`
}

// RouterStats reports router counters.
type RouterStats struct {
	Routed uint64      `json:"routed"`
	Sinks  []SinkStats `json:"sinks"`
}

// NewRouter creates a router that reports sink errors through n.
// n may be nil, in which case errors are only logged.
func NewRouter(n *Notifier, opts ...RouterOption) *Router {
	r := &Router{
		logger:   slog.Default(),
		notifier: n,
		mailbox:  DefaultMailboxSize,
		workers:  make(map[SinkID]*sinkWorker),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "capture.router")
	return r
}

// Register starts s and begins routing frames to it.
func (r *Router) Register(s Sink) (SinkID, error) {
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return "", ErrRouterClosed
	}

	if err := s.Start(); err != nil {
		return "", fmt.Errorf("start sink %s: %w", s.Name(), err)
	}

	w := &sinkWorker{
		id:    SinkID(uuid.New().String()),
		sink:  s,
		queue: make(chan *Frame, r.mailbox),
		done:  make(chan struct{}),
		added: time.Now(),
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		s.Stop()
		return "", ErrRouterClosed
	}
	r.workers[w.id] = w
	r.mu.Unlock()

	go r.run(w)

	r.logger.Debug("sink registered", "sink", s.Name(), "id", w.id)
	return w.id, nil
}

// Unregister removes a sink. Frames already in its mailbox are consumed,
// then Stop is called. When Unregister returns no further frame reaches it.
func (r *Router) Unregister(ctx context.Context, id SinkID) error {
	w := r.detach(id)
	if w == nil {
		return ErrSinkNotFound
	}
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// detach removes the worker from the routing table and closes its mailbox.
func (r *Router) detach(id SinkID) *sinkWorker {
	r.mu.Lock()
	w, ok := r.workers[id]
	if ok {
		delete(r.workers, id)
	}
	r.mu.Unlock()
	if !ok {
		return nil
	}
	w.closeOnce.Do(func() { close(w.queue) })
	return w
}

// Route offers f to every sink that accepts it. It never blocks: a sink with
// a full mailbox misses the frame. The caller keeps its own reference.
func (r *Router) Route(f *Frame) {
	r.routed.Add(1)

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, w := range r.workers {
		r.offer(w, f)
	}
}

func (r *Router) offer(w *sinkWorker, f *Frame) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.hasLast && f.Timestamp <= w.lastTS {
		w.skipped.Add(1)
		return
	}
	if !w.sink.Accepts(f) {
		return
	}

	f.Retain()
	select {
	case w.queue <- f:
		w.lastTS = f.Timestamp
		w.hasLast = true
		w.inDrop = false
	default:
		f.Release()
		w.dropped.Add(1)
		if !w.inDrop {
			w.inDrop = true
			r.report(&DroppedFrameError{Sink: w.sink.Name(), Seq: f.Seq})
		}
	}
}

func (r *Router) run(w *sinkWorker) {
	defer close(w.done)

	for f := range w.queue {
		if w.finished {
			f.Release()
			continue
		}
		err := r.consume(w, f)
		f.Release()

		switch {
		case err == nil:
			w.consumed.Add(1)
		case errors.Is(err, ErrSinkComplete):
			w.consumed.Add(1)
			w.finished = true
			r.detach(w.id)
		default:
			w.failures.Add(1)
			r.report(err)
		}
	}

	if err := r.stop(w); err != nil {
		w.failures.Add(1)
		r.report(err)
	}
	r.logger.Debug("sink stopped", "sink", w.sink.Name(), "id", w.id, "consumed", w.consumed.Load())
}

func (r *Router) consume(w *sinkWorker, f *Frame) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &SinkError{Sink: w.sink.Name(), Err: fmt.Errorf("panic: %v", p)}
		}
	}()
	if err := w.sink.Consume(f); err != nil {
		if errors.Is(err, ErrSinkComplete) {
			return err
		}
		return &SinkError{Sink: w.sink.Name(), Err: err}
	}
	return nil
}

func (r *Router) stop(w *sinkWorker) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &SinkError{Sink: w.sink.Name(), Err: fmt.Errorf("panic in stop: %v", p)}
		}
	}()
	if err := w.sink.Stop(); err != nil {
		return &SinkError{Sink: w.sink.Name(), Err: err}
	}
	return nil
}

func (r *Router) report(err error) {
	kind := Kind(err)
	if kind == KindDropped {
		r.logger.Debug("sink congested", "error", err)
	} else {
		r.logger.Warn("sink error", "kind", kind, "error", err)
	}
	if r.notifier != nil {
		r.notifier.Post(Event{Type: EventError, Kind: kind, Err: err})
	}
}

// Close unregisters every sink and waits for them to stop. Later
// registrations fail with ErrRouterClosed.
func (r *Router) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	ids := make([]SinkID, 0, len(r.workers))
	for id := range r.workers {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	var workers []*sinkWorker
	for _, id := range ids {
		if w := r.detach(id); w != nil {
			workers = append(workers, w)
		}
	}
	for _, w := range workers {
		select {
		case <-w.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Len returns the number of registered sinks.
func (r *Router) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.workers)
}

// Stats returns current counters.
func (r *Router) Stats() RouterStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := RouterStats{Routed: r.routed.Load()}
	for _, w := range r.workers {
		stats.Sinks = append(stats.Sinks, SinkStats{
			ID:       w.id,
			Name:     w.sink.Name(),
			Consumed: w.consumed.Load(),
			Dropped:  w.dropped.Load(),
			Skipped:  w.skipped.Load(),
			Failures: w.failures.Load(),
			Queued:   len(w.queue),
			Added:    w.added,
		})
	}
	sort.Slice(stats.Sinks, func(i, j int) bool {
		return stats.Sinks[i].Added.Before(stats.Sinks[j].Added)
	})
	return stats
}
