package hub

import (
	"context"
	"testing"
	"time"
)

func startHub(t *testing.T) (*Hub, context.CancelFunc) {
	t.Helper()
	h := New("test", nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h, cancel
}

// attach registers a connectionless client so tests can read its queue.
func attach(t *testing.T, h *Hub, buffer int) *Client {
	t.Helper()
	c := &Client{hub: h, send: make(chan Message, buffer)}
	if !h.join(c) {
		t.Fatal("hub refused client")
	}
	return c
}

func receive(t *testing.T, c *Client) (Message, bool) {
	t.Helper()
	select {
	case msg, ok := <-c.send:
		return msg, ok
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
		return Message{}, false
	}
}

func TestBroadcastReachesEveryClient(t *testing.T) {
	h, _ := startHub(t)
	a := attach(t, h, 4)
	b := attach(t, h, 4)

	if got := h.ClientCount(); got != 2 {
		t.Fatalf("ClientCount() = %d, want 2", got)
	}
	if err := h.BroadcastJSON(map[string]int{"seq": 1}); err != nil {
		t.Fatalf("BroadcastJSON() = %v", err)
	}
	h.BroadcastBinary([]byte{0xff, 0xd8})

	for _, c := range []*Client{a, b} {
		msg, _ := receive(t, c)
		if msg.Type != JSONMessage || string(msg.Data) != `{"seq":1}` {
			t.Errorf("first message = %v %q", msg.Type, msg.Data)
		}
		msg, _ = receive(t, c)
		if msg.Type != BinaryMessage || len(msg.Data) != 2 {
			t.Errorf("second message = %v %v", msg.Type, msg.Data)
		}
	}
}

func TestSlowClientEvicted(t *testing.T) {
	h, _ := startHub(t)
	slow := attach(t, h, 1)
	fast := attach(t, h, 8)

	for i := 0; i < 3; i++ {
		h.BroadcastBinary([]byte{byte(i)})
		receive(t, fast)
	}

	if _, ok := receive(t, slow); !ok {
		t.Fatal("slow client lost its first message")
	}
	if _, ok := receive(t, slow); ok {
		t.Error("slow client queue still open")
	}
	if got := h.Stats().Evicted; got != 1 {
		t.Errorf("Evicted = %d, want 1", got)
	}
	if got := h.ClientCount(); got != 1 {
		t.Errorf("ClientCount() = %d, want 1", got)
	}
}

func TestLeave(t *testing.T) {
	h, _ := startHub(t)
	c := attach(t, h, 1)
	h.leave(c)
	if _, ok := receive(t, c); ok {
		t.Error("queue open after leave")
	}
	if h.ClientCount() != 0 {
		t.Error("client still counted")
	}
}

func TestStopClosesClients(t *testing.T) {
	h, cancel := startHub(t)
	c := attach(t, h, 1)
	cancel()

	if _, ok := receive(t, c); ok {
		t.Error("queue open after hub stopped")
	}
	<-h.done
	if h.Broadcast(NewJSONMessage([]byte("{}"))) {
		t.Error("Broadcast() accepted after stop")
	}
	if h.join(&Client{hub: h, send: make(chan Message, 1)}) {
		t.Error("join() succeeded after stop")
	}
}

func TestBroadcastJSONError(t *testing.T) {
	h := New("test", nil)
	if err := h.BroadcastJSON(make(chan int)); err == nil {
		t.Error("BroadcastJSON() encoded a channel")
	}
}
