package capture

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Notifier delivers events to subscribers from a single goroutine in the
// order they were posted. Post never blocks; the queue is unbounded.
type Notifier struct {
	logger *slog.Logger

	mu       sync.Mutex
	cond     *sync.Cond
	queue    []queued
	handlers []handlerEntry
	nextID   int
	seq      uint64
	closed   bool
	done     chan struct{}

	posted    atomic.Uint64
	delivered atomic.Uint64
	discarded atomic.Uint64
	panics    atomic.Uint64
}

type queued struct {
	ev      Event
	guard   func() bool
	barrier chan struct{}
}

type handlerEntry struct {
	id int
	fn func(Event)
}

// NotifierStats reports notifier counters.
type NotifierStats struct {
	Posted         uint64 `json:"posted"`
	Delivered      uint64 `json:"delivered"`
	Discarded      uint64 `json:"discarded"`
	ObserverPanics uint64 `json:"observer_panics"`
	Pending        int    `json:"pending"`
	Subscribers    int    `json:"subscribers"`
}

// NewNotifier creates a notifier and starts its delivery goroutine.
func NewNotifier(logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	n := &Notifier{
		logger: logger.With("component", "capture.notifier"),
		done:   make(chan struct{}),
	}
	n.cond = sync.NewCond(&n.mu)
	go n.run()
	return n
}

// Subscribe registers an observer and returns a function that removes it.
func (n *Notifier) Subscribe(o Observer) func() {
	return n.SubscribeFunc(func(ev Event) { Dispatch(o, ev) })
}

// SubscribeFunc registers a raw event handler and returns a function that removes it.
func (n *Notifier) SubscribeFunc(fn func(Event)) func() {
	n.mu.Lock()
	n.nextID++
	id := n.nextID
	n.handlers = append(n.handlers, handlerEntry{id: id, fn: fn})
	n.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			for i, h := range n.handlers {
				if h.id == id {
					n.handlers = append(n.handlers[:i:i], n.handlers[i+1:]...)
					return
				}
			}
		})
	}
}

// Post queues ev for delivery and returns its sequence number. If ev.Frame is
// set, the notifier takes over one reference and releases it after delivery.
// Posting to a closed notifier discards the event and returns 0.
func (n *Notifier) Post(ev Event) uint64 {
	return n.PostIf(ev, nil)
}

// PostIf is like Post but guard is evaluated on the delivery goroutine just
// before delivery; if it returns false the event is discarded.
func (n *Notifier) PostIf(ev Event, guard func() bool) uint64 {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		n.discarded.Add(1)
		if ev.Frame != nil {
			ev.Frame.Release()
		}
		return 0
	}
	n.seq++
	ev.Seq = n.seq
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	n.queue = append(n.queue, queued{ev: ev, guard: guard})
	n.cond.Signal()
	n.mu.Unlock()

	n.posted.Add(1)
	return ev.Seq
}

// Flush waits until every event posted before the call has been delivered or
// discarded. It must not be called from an observer.
func (n *Notifier) Flush(ctx context.Context) error {
	barrier := make(chan struct{})

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		select {
		case <-n.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	n.queue = append(n.queue, queued{barrier: barrier})
	n.cond.Signal()
	n.mu.Unlock()

	select {
	case <-barrier:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting events, delivers what is already queued and waits
// for the delivery goroutine to exit.
func (n *Notifier) Close() {
	n.mu.Lock()
	n.closed = true
	n.cond.Broadcast()
	n.mu.Unlock()
	<-n.done
}

// Done is closed once the delivery goroutine has exited.
func (n *Notifier) Done() <-chan struct{} {
	return n.done
}

// Stats returns current counters.
func (n *Notifier) Stats() NotifierStats {
	n.mu.Lock()
	pending := len(n.queue)
	subs := len(n.handlers)
	n.mu.Unlock()
	return NotifierStats{
		Posted:         n.posted.Load(),
		Delivered:      n.delivered.Load(),
		Discarded:      n.discarded.Load(),
		ObserverPanics: n.panics.Load(),
		Pending:        pending,
		Subscribers:    subs,
	}
}

func (n *Notifier) run() {
	defer close(n.done)

	for {
		n.mu.Lock()
		for len(n.queue) == 0 && !n.closed {
			n.cond.Wait()
		}
		if len(n.queue) == 0 {
			n.mu.Unlock()
			return
		}
		q := n.queue[0]
		n.queue[0] = queued{}
		n.queue = n.queue[1:]
		handlers := make([]handlerEntry, len(n.handlers))
		copy(handlers, n.handlers)
		n.mu.Unlock()

		if q.barrier != nil {
			close(q.barrier)
			continue
		}

		if q.guard != nil && !q.guard() {
			n.discarded.Add(1)
		} else {
			for _, h := range handlers {
				n.deliver(h.fn, q.ev)
			}
			n.delivered.Add(1)
		}

		if q.ev.Frame != nil {
			q.ev.Frame.Release()
		}
	}
}

func (n *Notifier) deliver(fn func(Event), ev Event) {
	defer func() {
		if r := recover(); r != nil {
			n.panics.Add(1)
			n.logger.Error("observer panic", "event", ev.Type, "seq", ev.Seq, "panic", r)
		}
	}()
	fn(ev)
}
