package source

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/rtp"

	"github.com/teslashibe/go-lumina/pkg/camera"
	"github.com/teslashibe/go-lumina/pkg/capture"
)

func solid(w, h int, c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestStamperStrictlyIncreasing(t *testing.T) {
	var s stamper
	base := time.Unix(1000, 0)
	s.reset(base)

	steps := []time.Time{
		base.Add(33 * time.Millisecond),
		base.Add(33 * time.Millisecond), // clock did not move
		base.Add(20 * time.Millisecond), // clock went back
		base.Add(100 * time.Millisecond),
	}
	var last time.Duration
	for i, now := range steps {
		ts := s.next(now)
		if ts <= last {
			t.Fatalf("step %d: timestamp %v not after %v", i, ts, last)
		}
		last = ts
	}

	// A reopen later keeps counting from the previous value.
	s.reset(base.Add(time.Hour))
	if ts := s.next(base.Add(time.Hour + time.Millisecond)); ts <= last {
		t.Errorf("timestamp after reset = %v, want > %v", ts, last)
	}
}

func TestBrightness(t *testing.T) {
	tests := []struct {
		name string
		img  image.Image
		min  float64
		max  float64
	}{
		{"black", solid(32, 32, color.Black), 0, 0.01},
		{"white", solid(32, 32, color.White), 0.99, 1},
		{"mid gray", solid(32, 32, color.Gray{Y: 128}), 0.45, 0.55},
		{"tiny", solid(3, 3, color.White), 0.99, 1},
		{"empty", image.NewRGBA(image.Rectangle{}), 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Brightness(tt.img)
			if got < tt.min || got > tt.max {
				t.Errorf("Brightness() = %.3f, want [%.2f, %.2f]", got, tt.min, tt.max)
			}
		})
	}
}

func TestIsBlank(t *testing.T) {
	tests := []struct {
		name string
		img  image.Image
		want bool
	}{
		{"black", solid(64, 64, color.Black), true},
		{"decoder gray", solid(64, 64, color.RGBA{R: 128, G: 128, B: 128, A: 255}), true},
		{"too small", solid(8, 8, color.White), true},
		{"colorful", solid(64, 64, color.RGBA{R: 200, G: 80, B: 40, A: 255}), false},
		{"white", solid(64, 64, color.White), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsBlank(tt.img); got != tt.want {
				t.Errorf("IsBlank() = %v, want %v", got, tt.want)
			}
		})
	}
}

func encodeJPEG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestLastJPEG(t *testing.T) {
	first := encodeJPEG(t, solid(16, 16, color.White))
	second := encodeJPEG(t, solid(24, 8, color.Black))

	stream := append(append([]byte{}, first...), second...)
	got := lastJPEG(stream)
	if !bytes.Equal(got, second) {
		t.Fatalf("lastJPEG() returned %d bytes, want the second image (%d bytes)", len(got), len(second))
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(got))
	if err != nil || cfg.Width != 24 {
		t.Errorf("decoded config = %+v, %v", cfg, err)
	}

	if lastJPEG(nil) != nil || lastJPEG([]byte{1, 2, 3}) != nil {
		t.Error("lastJPEG() found an image in garbage")
	}
	if lastJPEG(first[:len(first)-2]) != nil {
		t.Error("lastJPEG() returned a truncated image")
	}
}

func TestNALTypes(t *testing.T) {
	stream := []byte{
		0, 0, 0, 1, 0x67, 0xaa, // SPS, 4-byte start code
		0, 0, 1, 0x68, 0xbb, // PPS
		0, 0, 1, 0x65, 0xcc, // IDR
	}
	got := nalTypes(stream)
	want := []byte{7, 8, 5}
	if !bytes.Equal(got, want) {
		t.Errorf("nalTypes() = %v, want %v", got, want)
	}
	if !startsGOP(stream) {
		t.Error("startsGOP() = false for SPS+IDR")
	}
	if startsGOP([]byte{0, 0, 1, 0x41, 0x01}) {
		t.Error("startsGOP() = true for a P slice")
	}
}

func TestGOPAssembler(t *testing.T) {
	a := &gopAssembler{maxBytes: 64}
	pkt := func(nal byte, marker bool) *rtp.Packet {
		return &rtp.Packet{Header: rtp.Header{Marker: marker}, Payload: []byte{nal, 0x01, 0x02}}
	}

	// P frames before any keyframe are ignored.
	if a.push(pkt(0x41, true)) {
		t.Error("access unit accepted before a keyframe")
	}

	a.push(pkt(0x67, false))
	if !a.push(pkt(0x65, true)) {
		t.Fatal("keyframe access unit not completed")
	}
	types := nalTypes(a.gop())
	if len(types) != 2 || types[0] != 7 || types[1] != 5 {
		t.Errorf("gop types = %v, want [7 5]", types)
	}

	if !a.push(pkt(0x41, true)) {
		t.Fatal("P frame after keyframe not accepted")
	}
	if got := len(nalTypes(a.gop())); got != 3 {
		t.Errorf("gop holds %d NAL units, want 3", got)
	}

	// A new keyframe starts a new group.
	a.push(pkt(0x65, true))
	if got := nalTypes(a.gop()); len(got) != 1 || got[0] != 5 {
		t.Errorf("gop after new keyframe = %v, want [5]", got)
	}

	// Overflow drops the group until the next keyframe.
	for i := 0; i < 20; i++ {
		a.push(pkt(0x41, true))
	}
	if a.synced || len(a.gop()) != 0 {
		t.Error("oversized gop not dropped")
	}
}

func TestPickProducer(t *testing.T) {
	producers := []producerInfo{
		{ID: "a", Meta: map[string]string{"name": "desk"}},
		{ID: "b", Meta: map[string]string{"name": "Garage"}},
	}
	tests := []struct {
		want    string
		id      string
		wantErr bool
	}{
		{"", "a", false},
		{"garage", "b", false},
		{"attic", "", true},
	}
	for _, tt := range tests {
		id, err := pickProducer(producers, tt.want)
		if (err != nil) != tt.wantErr || id != tt.id {
			t.Errorf("pickProducer(%q) = %q, %v", tt.want, id, err)
		}
	}
	if _, err := pickProducer(nil, ""); err == nil {
		t.Error("pickProducer(nil) should fail")
	}
}

func TestWebRTCOpenWithoutProducer(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteJSON(map[string]string{"type": "welcome", "peerId": "me"})
		var msg map[string]string
		if err := conn.ReadJSON(&msg); err != nil || msg["type"] != "list" {
			return
		}
		conn.WriteJSON(map[string]any{"type": "list", "producers": []any{}})
		conn.ReadMessage()
	}))
	defer srv.Close()

	src := NewWebRTC("ws"+strings.TrimPrefix(srv.URL, "http"), WithConnectTimeout(2*time.Second))
	err := src.Open(context.Background())
	if err == nil || !strings.Contains(err.Error(), "no producers") {
		t.Fatalf("Open() = %v, want no producers error", err)
	}
	if _, err := src.NextFrame(context.Background()); !errors.Is(err, capture.ErrSourceClosed) {
		t.Errorf("NextFrame() after failed open = %v, want ErrSourceClosed", err)
	}
}

func TestWebcamCapabilities(t *testing.T) {
	caps := WebcamCapabilities()
	ok := camera.HD720Config()
	if err := camera.Check(ok, caps); err != nil {
		t.Errorf("Check(720p30) = %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*camera.Config)
	}{
		{"high frame rate", func(c *camera.Config) { c.FrameRate = 60 }},
		{"4k", func(c *camera.Config) { c.Resolution = camera.Resolution3840x2160; c.FrameRate = 15 }},
		{"torch", func(c *camera.Config) { c.Torch = camera.TorchOn }},
		{"depth", func(c *camera.Config) { c.CapturesDepth = true }},
	}
	for _, tt := range tests {
		cfg := ok
		tt.mutate(&cfg)
		if err := camera.Check(cfg, caps); err == nil {
			t.Errorf("%s: Check() = nil, want error", tt.name)
		}
	}

	c := NewCamera()
	if _, err := c.NextFrame(context.Background()); !errors.Is(err, capture.ErrSourceClosed) {
		t.Errorf("NextFrame() before Open = %v, want ErrSourceClosed", err)
	}
}

// Compile-time interface checks.
var (
	_ capture.Source = (*Camera)(nil)
	_ capture.Source = (*WebRTC)(nil)
	_ Decoder        = (*FFmpegDecoder)(nil)
)
