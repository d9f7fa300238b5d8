package capture

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-lumina/pkg/camera"
)

// MockSource is a synthetic frame source for testing and demos. Frames carry
// a JPEG gradient sized to the applied resolution; depth and metadata are
// attached when the configuration asks for them.
type MockSource struct {
	caps     camera.CapabilitySet
	interval time.Duration
	limit    int
	orient   Orientation

	mu       sync.Mutex
	cfg      camera.Config
	open     bool
	ts       time.Duration
	produced int
	data     []byte
	dataW    int
	dataH    int

	// OpenErr, if set, is returned by Open.
	OpenErr error
	// ApplyErr, if set, is returned by ApplyConfiguration.
	ApplyErr error
	// NextErr, if set, returns an error for frame n (1-based) instead of a frame.
	NextErr func(n int) error

	opens       atomic.Int64
	applies     atomic.Int64
	outstanding atomic.Int64
	released    atomic.Int64
}

// MockSourceOption configures a MockSource.
type MockSourceOption func(*MockSource)

// WithCapabilities replaces the default capability set.
func WithCapabilities(caps camera.CapabilitySet) MockSourceOption {
	return func(m *MockSource) { m.caps = caps }
}

// WithFrameInterval sets the delay between frames. Zero produces frames as
// fast as they are read.
func WithFrameInterval(d time.Duration) MockSourceOption {
	return func(m *MockSource) { m.interval = d }
}

// WithFrameLimit makes the source return io.EOF after n frames.
func WithFrameLimit(n int) MockSourceOption {
	return func(m *MockSource) { m.limit = n }
}

// WithOrientation sets the orientation stamped on every frame.
func WithOrientation(o Orientation) MockSourceOption {
	return func(m *MockSource) { m.orient = o }
}

// FullCapabilities supports every feature at every resolution.
func FullCapabilities() camera.CapabilitySet {
	return camera.CapabilitySet{Features: map[camera.Capability]bool{
		camera.CapabilityTorch:       true,
		camera.CapabilityDepth:       true,
		camera.CapabilityLivePhoto:   true,
		camera.CapabilityHEVC:        true,
		camera.CapabilityMetadata:    true,
		camera.CapabilityFrontCamera: true,
		camera.CapabilityZoom:        true,
	}}
}

// NewMockSource creates a mock source with full capabilities and a 1ms frame interval.
func NewMockSource(opts ...MockSourceOption) *MockSource {
	m := &MockSource{
		caps:     FullCapabilities(),
		interval: time.Millisecond,
		orient:   OrientationUp,
		cfg:      camera.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *MockSource) Supports(c camera.Capability) bool { return m.caps.Supports(c) }

func (m *MockSource) SupportsFormat(r camera.Resolution, fps int) bool {
	return m.caps.SupportsFormat(r, fps)
}

// Open starts frame production. A closed mock can be opened again; timestamps
// keep increasing across opens.
func (m *MockSource) Open(ctx context.Context) error {
	if m.OpenErr != nil {
		return m.OpenErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.open = true
	m.opens.Add(1)
	return nil
}

// ApplyConfiguration changes the size and extras of subsequent frames.
func (m *MockSource) ApplyConfiguration(cfg camera.Config) error {
	if m.ApplyErr != nil {
		return m.ApplyErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg = cfg
	m.applies.Add(1)
	return nil
}

// NextFrame returns the next synthetic frame.
func (m *MockSource) NextFrame(ctx context.Context) (*Frame, error) {
	if m.interval > 0 {
		t := time.NewTimer(m.interval)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		}
	} else if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.open {
		return nil, ErrSourceClosed
	}
	if m.limit > 0 && m.produced >= m.limit {
		return nil, io.EOF
	}
	m.produced++
	n := m.produced
	if m.NextErr != nil {
		if err := m.NextErr(n); err != nil {
			return nil, err
		}
	}

	fps := m.cfg.FrameRate
	if fps <= 0 {
		fps = 30
	}
	m.ts += time.Second / time.Duration(fps)

	w, h := m.cfg.Resolution.Dimensions()
	brightness := 0.5
	f := &Frame{
		Data:        m.frameData(w, h),
		Format:      FormatJPEG,
		Width:       w,
		Height:      h,
		Timestamp:   m.ts,
		Orientation: m.orient,
		Brightness:  &brightness,
	}
	if m.cfg.CapturesDepth && m.caps.Supports(camera.CapabilityDepth) {
		f.Depth = &DepthMap{Width: 4, Height: 3, Data: make([]float32, 12)}
	}
	if m.cfg.TrackMetadata && m.caps.Supports(camera.CapabilityMetadata) && n%10 == 0 {
		f.Metadata = []MetadataObject{{
			Type:    "qr",
			Payload: fmt.Sprintf("frame-%d", n),
			Bounds:  image.Rect(w/4, h/4, w/2, h/2),
		}}
	}

	m.outstanding.Add(1)
	f.OnRelease(func() {
		m.outstanding.Add(-1)
		m.released.Add(1)
	})
	return f, nil
}

// frameData returns a cached JPEG for the current size. Called with mu held.
func (m *MockSource) frameData(w, h int) []byte {
	if m.data != nil && m.dataW == w && m.dataH == h {
		return m.data
	}
	// A small image keeps encoding cheap; the declared size is what matters.
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 4), G: uint8(y * 5), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	jpeg.Encode(&buf, img, &jpeg.Options{Quality: 75})
	m.data, m.dataW, m.dataH = buf.Bytes(), w, h
	return m.data
}

// Close stops frame production.
func (m *MockSource) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.open = false
	return nil
}

// AppliedConfig returns the last configuration applied to the source.
func (m *MockSource) AppliedConfig() camera.Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// Produced returns the number of frames produced.
func (m *MockSource) Produced() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.produced
}

// Outstanding returns the number of produced frames not yet released.
func (m *MockSource) Outstanding() int64 { return m.outstanding.Load() }

// Opens returns how many times Open succeeded.
func (m *MockSource) Opens() int64 { return m.opens.Load() }

// MockRecorder records segments in memory.
type MockRecorder struct {
	mu       sync.Mutex
	active   bool
	path     string
	spec     SegmentSpec
	frames   int
	first    time.Duration
	last     time.Duration
	segments []VideoSegment
	aborted  int

	// StartErr, if set, is returned by StartSegment.
	StartErr error
	// FailAfter makes AppendFrame fail once this many frames were appended. Zero disables.
	FailAfter int
	// AppendDelay slows every append.
	AppendDelay time.Duration
	// AbortErr, if set, is returned by AbortSegment.
	AbortErr error
}

// NewMockRecorder creates a mock recorder.
func NewMockRecorder() *MockRecorder {
	return &MockRecorder{}
}

func (r *MockRecorder) StartSegment(path string, spec SegmentSpec) error {
	if r.StartErr != nil {
		return r.StartErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active {
		return fmt.Errorf("segment %s already active", r.path)
	}
	r.active, r.path, r.spec, r.frames = true, path, spec, 0
	return nil
}

func (r *MockRecorder) AppendFrame(f *Frame) error {
	if r.AppendDelay > 0 {
		time.Sleep(r.AppendDelay)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active {
		return fmt.Errorf("no active segment")
	}
	if r.FailAfter > 0 && r.frames >= r.FailAfter {
		return fmt.Errorf("disk full")
	}
	if r.frames == 0 {
		r.first = f.Timestamp
	}
	r.last = f.Timestamp
	r.frames++
	return nil
}

func (r *MockRecorder) FinishSegment() (VideoSegment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active {
		return VideoSegment{}, fmt.Errorf("no active segment")
	}
	r.active = false
	w, h := r.spec.OutputSize()
	seg := VideoSegment{
		Path:     r.path,
		Frames:   r.frames,
		Duration: r.last - r.first,
		Width:    w,
		Height:   h,
		Mirrored: r.spec.Mirrored,

		Orientation: r.spec.Orientation,
	}
	r.segments = append(r.segments, seg)
	return seg, nil
}

func (r *MockRecorder) AbortSegment() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = false
	r.aborted++
	return r.AbortErr
}

// Segments returns every finished segment.
func (r *MockRecorder) Segments() []VideoSegment {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]VideoSegment, len(r.segments))
	copy(out, r.segments)
	return out
}

// Aborted returns how many segments were abandoned.
func (r *MockRecorder) Aborted() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.aborted
}

// MockModel is a Model whose behavior is set by InferFunc.
type MockModel struct {
	NameValue string
	InferFunc func(ctx context.Context, f *Frame) ([]Prediction, error)

	calls    atomic.Int64
	inFlight atomic.Int64
	maxSeen  atomic.Int64
}

// NewMockModel returns a model that labels every frame "object".
func NewMockModel() *MockModel {
	return &MockModel{NameValue: "mock"}
}

func (m *MockModel) Name() string {
	if m.NameValue == "" {
		return "mock"
	}
	return m.NameValue
}

func (m *MockModel) Infer(ctx context.Context, f *Frame) ([]Prediction, error) {
	m.calls.Add(1)
	n := m.inFlight.Add(1)
	defer m.inFlight.Add(-1)
	for {
		max := m.maxSeen.Load()
		if n <= max || m.maxSeen.CompareAndSwap(max, n) {
			break
		}
	}

	if m.InferFunc != nil {
		return m.InferFunc(ctx, f)
	}
	return []Prediction{{Label: "object", Confidence: 0.9, X: 0.25, Y: 0.25, W: 0.5, H: 0.5}}, nil
}

// Calls returns the number of Infer calls.
func (m *MockModel) Calls() int64 { return m.calls.Load() }

// MaxConcurrent returns the highest number of simultaneous Infer calls seen.
func (m *MockModel) MaxConcurrent() int64 { return m.maxSeen.Load() }

// RecordingObserver stores every event it receives. Frames are not retained.
type RecordingObserver struct {
	mu     sync.Mutex
	cond   *sync.Cond
	events []Event
}

// NewRecordingObserver creates an empty recorder. Subscribe its Handle method.
func NewRecordingObserver() *RecordingObserver {
	o := &RecordingObserver{}
	o.cond = sync.NewCond(&o.mu)
	return o
}

// Handle records ev.
func (o *RecordingObserver) Handle(ev Event) {
	o.mu.Lock()
	o.events = append(o.events, ev)
	o.cond.Broadcast()
	o.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (o *RecordingObserver) Events() []Event {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Event, len(o.events))
	copy(out, o.events)
	return out
}

// OfType returns recorded events of type t.
func (o *RecordingObserver) OfType(t EventType) []Event {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []Event
	for _, ev := range o.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// Count returns the number of recorded events of type t.
func (o *RecordingObserver) Count(t EventType) int {
	return len(o.OfType(t))
}

// WaitFor blocks until at least n events of type t were recorded or timeout
// elapses, and reports whether the count was reached.
func (o *RecordingObserver) WaitFor(t EventType, n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	timer := time.AfterFunc(timeout, func() {
		o.mu.Lock()
		o.cond.Broadcast()
		o.mu.Unlock()
	})
	defer timer.Stop()

	o.mu.Lock()
	defer o.mu.Unlock()
	for {
		count := 0
		for _, ev := range o.events {
			if ev.Type == t {
				count++
			}
		}
		if count >= n {
			return true
		}
		if !time.Now().Before(deadline) {
			return false
		}
		o.cond.Wait()
	}
}
