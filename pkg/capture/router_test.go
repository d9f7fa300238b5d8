package capture

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/teslashibe/go-lumina/pkg/camera"
)

// testSink records the timestamps it consumes.
type testSink struct {
	name    string
	block   chan struct{}
	failErr error
	panics  bool

	mu       sync.Mutex
	consumed []time.Duration
	stops    int
}

func (s *testSink) Name() string {
	if s.name == "" {
		return "test"
	}
	return s.name
}

func (s *testSink) Accepts(f *Frame) bool { return true }

func (s *testSink) Start() error { return nil }

func (s *testSink) Consume(f *Frame) error {
	if s.block != nil {
		<-s.block
	}
	if s.panics {
		panic("sink exploded")
	}
	s.mu.Lock()
	s.consumed = append(s.consumed, f.Timestamp)
	s.mu.Unlock()
	return s.failErr
}

func (s *testSink) Stop() error {
	s.mu.Lock()
	s.stops++
	s.mu.Unlock()
	return nil
}

func (s *testSink) timestamps() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Duration, len(s.consumed))
	copy(out, s.consumed)
	return out
}

func (s *testSink) stopCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stops
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before timeout")
		}
		time.Sleep(time.Millisecond)
	}
}

func closeRouter(t *testing.T, r *Router) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.Close(ctx); err != nil {
		t.Fatalf("Close() = %v", err)
	}
}

func frameAt(ts int, released *atomic.Int64) *Frame {
	f := &Frame{Timestamp: time.Duration(ts) * time.Millisecond, Seq: uint64(ts), Width: 640, Height: 480}
	if released != nil {
		f.OnRelease(func() { released.Add(1) })
	}
	return f
}

func route(r *Router, f *Frame) {
	r.Route(f)
	f.Release()
}

func TestRouterStillSinkIsOneShot(t *testing.T) {
	n := NewNotifier(nil)
	defer n.Close()
	rec := NewRecordingObserver()
	n.SubscribeFunc(rec.Handle)

	r := NewRouter(n)
	defer closeRouter(t, r)

	id, err := r.Register(NewStillImageSink(camera.DefaultConfig(), FullCapabilities(), n, t.TempDir()))
	if err != nil {
		t.Fatalf("Register() = %v", err)
	}

	route(r, frameAt(1, nil))
	if !rec.WaitFor(EventStillCaptured, 1, time.Second) {
		t.Fatal("no StillCaptured event")
	}
	waitUntil(t, time.Second, func() bool { return r.Len() == 0 })

	route(r, frameAt(2, nil))
	flush(t, n)

	stills := rec.OfType(EventStillCaptured)
	if len(stills) != 1 {
		t.Fatalf("got %d StillCaptured events, want 1", len(stills))
	}
	if stills[0].Frame.Timestamp != time.Millisecond {
		t.Errorf("still frame timestamp = %v, want 1ms", stills[0].Frame.Timestamp)
	}
	if err := r.Unregister(context.Background(), id); !errors.Is(err, ErrSinkNotFound) {
		t.Errorf("Unregister after completion = %v, want ErrSinkNotFound", err)
	}
}

func TestRouterPerSinkTimestampOrder(t *testing.T) {
	r := NewRouter(nil)
	sink := &testSink{}
	if _, err := r.Register(sink); err != nil {
		t.Fatalf("Register() = %v", err)
	}

	for _, ts := range []int{1, 2, 2, 1, 3, 5, 4, 6} {
		route(r, frameAt(ts, nil))
	}
	closeRouter(t, r)

	got := sink.timestamps()
	want := []time.Duration{1, 2, 3, 5, 6}
	if len(got) != len(want) {
		t.Fatalf("consumed %v, want %v ms", got, want)
	}
	for i := range want {
		if got[i] != want[i]*time.Millisecond {
			t.Errorf("consumed[%d] = %v, want %v", i, got[i], want[i]*time.Millisecond)
		}
	}
}

func TestRouterIsolatesFailingSinks(t *testing.T) {
	n := NewNotifier(nil)
	defer n.Close()
	rec := NewRecordingObserver()
	n.SubscribeFunc(rec.Handle)

	r := NewRouter(n)
	good := &testSink{name: "good"}
	failing := &testSink{name: "failing", failErr: errors.New("write failed")}
	panicking := &testSink{name: "panicking", panics: true}
	for _, s := range []Sink{good, failing, panicking} {
		if _, err := r.Register(s); err != nil {
			t.Fatalf("Register(%s) = %v", s.Name(), err)
		}
	}

	const frames = 5
	for i := 1; i <= frames; i++ {
		route(r, frameAt(i, nil))
		// Let every mailbox drain so no frame is dropped.
		waitUntil(t, time.Second, func() bool { return len(good.timestamps()) == i })
	}
	closeRouter(t, r)
	flush(t, n)

	if got := len(good.timestamps()); got != frames {
		t.Errorf("good sink consumed %d frames, want %d", got, frames)
	}
	errs := rec.OfType(EventError)
	if len(errs) != 2*frames {
		t.Fatalf("got %d error events, want %d", len(errs), 2*frames)
	}
	for _, ev := range errs {
		if ev.Kind != KindSink {
			t.Errorf("error kind = %s, want %s", ev.Kind, KindSink)
		}
		var se *SinkError
		if !errors.As(ev.Err, &se) {
			t.Errorf("error %v is not a SinkError", ev.Err)
		}
	}
	if good.stopCount() != 1 || failing.stopCount() != 1 || panicking.stopCount() != 1 {
		t.Error("every sink should be stopped exactly once")
	}
}

func TestRouterDropsWhenMailboxFull(t *testing.T) {
	n := NewNotifier(nil)
	defer n.Close()
	rec := NewRecordingObserver()
	n.SubscribeFunc(rec.Handle)

	var released atomic.Int64
	r := NewRouter(n, WithMailboxSize(2))
	slow := &testSink{name: "slow", block: make(chan struct{})}
	fast := &testSink{name: "fast"}
	r.Register(slow)
	r.Register(fast)

	// Park the slow sink inside Consume with an empty mailbox.
	route(r, frameAt(1, &released))
	waitUntil(t, time.Second, func() bool {
		for _, s := range r.Stats().Sinks {
			if s.Name == "slow" {
				return s.Queued == 0
			}
		}
		return false
	})

	const frames = 10
	start := time.Now()
	for i := 2; i <= frames; i++ {
		route(r, frameAt(i, &released))
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Route blocked for %v", elapsed)
	}

	close(slow.block)
	closeRouter(t, r)
	flush(t, n)

	// The slow sink held one frame in Consume and two in its mailbox.
	if got := len(slow.timestamps()); got != 3 {
		t.Errorf("slow sink consumed %d frames, want 3", got)
	}
	if got := len(fast.timestamps()); got == 0 {
		t.Error("fast sink starved by slow sink")
	}

	slowDrops := 0
	for _, ev := range rec.OfType(EventError) {
		var de *DroppedFrameError
		if !errors.As(ev.Err, &de) {
			t.Errorf("unexpected error event %v", ev.Err)
			continue
		}
		if de.Sink == "slow" {
			slowDrops++
		}
	}
	if slowDrops != 1 {
		t.Errorf("got %d drop notifications for slow sink, want 1 per streak", slowDrops)
	}
	for _, s := range r.Stats().Sinks {
		t.Errorf("sink %s still registered after Close", s.Name)
	}
	if released.Load() != frames {
		t.Errorf("released %d frames, want %d", released.Load(), frames)
	}
}

func TestRouterUnregisterStopsDelivery(t *testing.T) {
	r := NewRouter(nil)
	defer closeRouter(t, r)

	sink := &testSink{}
	id, _ := r.Register(sink)

	route(r, frameAt(1, nil))
	route(r, frameAt(2, nil))
	if err := r.Unregister(context.Background(), id); err != nil {
		t.Fatalf("Unregister() = %v", err)
	}
	// Queued frames are drained before Stop.
	if got := len(sink.timestamps()); got != 2 {
		t.Errorf("consumed %d frames before unregister returned, want 2", got)
	}
	if sink.stopCount() != 1 {
		t.Errorf("Stop called %d times, want 1", sink.stopCount())
	}

	route(r, frameAt(3, nil))
	time.Sleep(10 * time.Millisecond)
	if got := len(sink.timestamps()); got != 2 {
		t.Errorf("sink received %d frames after unregister, want 2", got)
	}
	if err := r.Unregister(context.Background(), id); !errors.Is(err, ErrSinkNotFound) {
		t.Errorf("second Unregister = %v, want ErrSinkNotFound", err)
	}
}

func TestRouterCloseRejectsRegistration(t *testing.T) {
	r := NewRouter(nil)
	closeRouter(t, r)
	if _, err := r.Register(&testSink{}); !errors.Is(err, ErrRouterClosed) {
		t.Errorf("Register after Close = %v, want ErrRouterClosed", err)
	}
}

func TestRouterStats(t *testing.T) {
	r := NewRouter(nil)
	sink := &testSink{name: "counted"}
	r.Register(sink)
	route(r, frameAt(1, nil))
	route(r, frameAt(1, nil))
	waitUntil(t, time.Second, func() bool { return len(sink.timestamps()) == 1 })

	stats := r.Stats()
	if stats.Routed != 2 {
		t.Errorf("Routed = %d, want 2", stats.Routed)
	}
	if len(stats.Sinks) != 1 {
		t.Fatalf("Sinks = %d, want 1", len(stats.Sinks))
	}
	if s := stats.Sinks[0]; s.Name != "counted" || s.Skipped != 1 {
		t.Errorf("sink stats = %+v", s)
	}
	closeRouter(t, r)
}
