package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-lumina/pkg/camera"
)

// State is the session lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateConfiguring
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConfiguring:
		return "configuring"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(b []byte) error {
	for st := StateIdle; st <= StateStopping; st++ {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("capture: unknown state %q", b)
}

// Managed sink kinds follow the applied configuration.
const (
	managedStream   = "stream"
	managedDepth    = "depth"
	managedMetadata = "metadata"
)

// Defaults for source read failures.
const (
	DefaultMaxSourceErrors = 5
	DefaultSourceBackoff   = 20 * time.Millisecond
)

// Session pulls frames from a Source, applies the current configuration and
// routes frames to sinks. Every outward event goes through one Notifier.
//
// Configuration is swapped atomically between frames: a Configure while
// running is validated at once, then applied by the capture goroutine before
// the next frame is routed.
type Session struct {
	id       string
	source   Source
	recorder Recorder
	notifier *Notifier
	pipeline *Pipeline
	logger   *slog.Logger

	mailbox         int
	recordDir       string
	recordExt       string
	tempDir         string
	maxSourceErrors int
	sourceBackoff   time.Duration

	// pipeline options collected before construction
	model        Model
	concurrency  int
	inferTimeout time.Duration

	current atomic.Pointer[camera.Config]
	pending atomic.Pointer[camera.Config]

	mu         sync.Mutex
	state      State
	configured bool
	closed     bool
	opening    bool // Start is waiting on source.Open without holding mu
	router     *Router
	cancel     context.CancelFunc
	loopDone   chan struct{}
	recording  SinkID
	startedAt  time.Time

	// managed is owned by Start before the loop begins, then by the loop.
	managed map[string]SinkID

	// orientation of the most recently routed frame
	orientation atomic.Value

	seq          atomic.Uint64
	captured     atomic.Uint64
	discarded    atomic.Uint64
	sourceErrors atomic.Uint64
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithRecorder sets the recorder used by StartRecording.
func WithRecorder(r Recorder) SessionOption {
	return func(s *Session) { s.recorder = r }
}

// WithModel enables annotation of streamed frames.
func WithModel(m Model) SessionOption {
	return func(s *Session) { s.model = m }
}

// WithAnnotationConcurrency sets the number of frames annotated at once.
func WithAnnotationConcurrency(n int) SessionOption {
	return func(s *Session) { s.concurrency = n }
}

// WithAnnotationTimeout bounds each model call.
func WithAnnotationTimeout(d time.Duration) SessionOption {
	return func(s *Session) { s.inferTimeout = d }
}

// WithLogger sets the session's logger.
func WithLogger(logger *slog.Logger) SessionOption {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithSinkMailbox sets the per-sink mailbox capacity.
func WithSinkMailbox(n int) SessionOption {
	return func(s *Session) { s.mailbox = n }
}

// WithRecordDir sets where recordings are written.
func WithRecordDir(dir string) SessionOption {
	return func(s *Session) { s.recordDir = dir }
}

// WithRecordExtension sets the file extension of recordings, ".mp4" by default.
func WithRecordExtension(ext string) SessionOption {
	return func(s *Session) {
		if ext != "" && ext[0] != '.' {
			ext = "." + ext
		}
		if ext != "" {
			s.recordExt = ext
		}
	}
}

// WithTempDir sets where live photo movies are placed.
func WithTempDir(dir string) SessionOption {
	return func(s *Session) { s.tempDir = dir }
}

// WithSourceRetry sets how many consecutive read failures end the session
// and the base backoff between them.
func WithSourceRetry(maxErrors int, backoff time.Duration) SessionOption {
	return func(s *Session) {
		if maxErrors > 0 {
			s.maxSourceErrors = maxErrors
		}
		if backoff > 0 {
			s.sourceBackoff = backoff
		}
	}
}

// SessionStats is a point-in-time view of the session.
type SessionStats struct {
	ID              string         `json:"id"`
	State           State          `json:"state"`
	Configured      bool           `json:"configured"`
	Config          camera.Config  `json:"config"`
	Recording       bool           `json:"recording"`
	FramesCaptured  uint64         `json:"frames_captured"`
	FramesDiscarded uint64         `json:"frames_discarded"`
	SourceErrors    uint64         `json:"source_errors"`
	StartedAt       time.Time      `json:"started_at,omitempty"`
	Uptime          time.Duration  `json:"uptime"`
	Router          *RouterStats   `json:"router,omitempty"`
	Pipeline        *PipelineStats `json:"pipeline,omitempty"`
	Notifier        NotifierStats  `json:"notifier"`
}

// NewSession creates an idle session reading from src.
func NewSession(src Source, opts ...SessionOption) *Session {
	s := &Session{
		id:              uuid.New().String(),
		source:          src,
		logger:          slog.Default(),
		mailbox:         DefaultMailboxSize,
		recordDir:       os.TempDir(),
		recordExt:       ".mp4",
		maxSourceErrors: DefaultMaxSourceErrors,
		sourceBackoff:   DefaultSourceBackoff,
		concurrency:     DefaultAnnotationConcurrency,
		managed:         make(map[string]SinkID),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "capture.session", "session", s.id[:8])
	s.notifier = NewNotifier(s.logger)
	if s.model != nil {
		s.pipeline = NewPipeline(s.model, s.notifier,
			WithConcurrency(s.concurrency),
			WithInferTimeout(s.inferTimeout),
			WithPipelineLogger(s.logger),
		)
	}
	return s
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// Subscribe registers an observer for all session events.
func (s *Session) Subscribe(o Observer) func() { return s.notifier.Subscribe(o) }

// SubscribeFunc registers a raw event handler.
func (s *Session) SubscribeFunc(fn func(Event)) func() { return s.notifier.SubscribeFunc(fn) }

// Flush waits until every event posted so far has been delivered.
func (s *Session) Flush(ctx context.Context) error { return s.notifier.Flush(ctx) }

// State returns the lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Config returns the configuration most recently accepted by Configure,
// including one still waiting to be applied. Before any Configure it returns
// camera.DefaultConfig().
func (s *Session) Config() camera.Config {
	if p := s.pending.Load(); p != nil {
		return *p
	}
	if c := s.current.Load(); c != nil {
		return *c
	}
	return camera.DefaultConfig()
}

func (s *Session) appliedConfig() camera.Config {
	if c := s.current.Load(); c != nil {
		return *c
	}
	return camera.DefaultConfig()
}

// Configure validates cfg and checks it against the source's capabilities.
// When idle or configuring it is applied to the source immediately. When
// running it is queued and swapped in before the next frame is routed. On
// error the session state and configuration are unchanged.
func (s *Session) Configure(cfg camera.Config) error {
	if err := cfg.Validate(); err != nil {
		return &ConfigError{Reason: "invalid", Err: err}
	}
	if err := camera.Check(cfg, s.source); err != nil {
		return &ConfigError{Reason: "unsupported by source", Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return &ConfigError{Reason: "session closed", Err: ErrInvalidState}
	}
	if s.opening {
		return &ConfigError{Reason: "source is opening", Err: ErrInvalidState}
	}

	switch s.state {
	case StateIdle, StateConfiguring:
		if err := s.source.ApplyConfiguration(cfg); err != nil {
			return &ConfigError{Field: "source", Reason: "apply failed", Err: err}
		}
		c := cfg
		s.current.Store(&c)
		s.pending.Store(nil)
		s.configured = true
		s.state = StateConfiguring
	case StateRunning:
		c := cfg
		s.pending.Store(&c)
	default:
		return &ConfigError{Reason: "session is " + s.state.String(), Err: ErrInvalidState}
	}

	s.logger.Info("configuration accepted",
		"state", s.state,
		"resolution", cfg.Resolution,
		"frame_rate", cfg.FrameRate,
		"position", cfg.Position,
	)
	return nil
}

// Start opens the source and begins capturing. The last Configure must have
// succeeded. If the source fails to open the session returns to Idle and must
// be configured again. The session lock is not held while the source opens,
// so State and Stats stay responsive; Configure and Start are refused until
// the open completes.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return &SessionError{Op: "start", Err: ErrInvalidState}
	}
	if s.opening || s.state == StateRunning || s.state == StateStopping {
		s.mu.Unlock()
		return &SessionError{Op: "start", Err: ErrInvalidState}
	}
	if s.state != StateConfiguring || !s.configured {
		s.mu.Unlock()
		return &SessionError{Op: "start", Err: ErrNotConfigured}
	}
	s.opening = true
	s.mu.Unlock()

	openErr := s.source.Open(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.opening = false

	if openErr == nil && s.closed {
		s.source.Close()
		openErr = ErrInvalidState
	}
	if openErr != nil {
		s.state = StateIdle
		s.configured = false
		serr := &SessionError{Op: "open source", Err: openErr}
		s.notifier.Post(Event{Type: EventError, Kind: KindSession, Err: serr})
		s.logger.Error("start failed", "error", openErr)
		return serr
	}

	if s.pipeline != nil {
		s.pipeline.Resume()
	}
	router := NewRouter(s.notifier, WithMailboxSize(s.mailbox), WithRouterLogger(s.logger))
	s.router = router
	s.managed = make(map[string]SinkID)
	s.reconcile(router, s.appliedConfig())

	loopCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.loopDone = make(chan struct{})
	s.startedAt = time.Now()
	s.state = StateRunning

	go s.loop(loopCtx, router, s.loopDone)

	s.logger.Info("session started", "sinks", router.Len())
	return nil
}

func (s *Session) loop(ctx context.Context, router *Router, done chan struct{}) {
	defer close(done)

	failures := 0
	for {
		s.applyPending(router)

		f, err := s.source.NextFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, io.EOF) || errors.Is(err, ErrSourceExhausted) {
				s.fail(&SessionError{Op: "read", Err: ErrSourceExhausted})
				return
			}
			failures++
			s.sourceErrors.Add(1)
			s.notifier.Post(Event{Type: EventError, Kind: KindSource, Err: &SessionError{Op: "read", Err: err}})
			if failures >= s.maxSourceErrors {
				s.fail(&SessionError{Op: "read", Err: fmt.Errorf("%d consecutive failures: %w", failures, err)})
				return
			}
			select {
			case <-time.After(time.Duration(failures) * s.sourceBackoff):
				continue
			case <-ctx.Done():
				return
			}
		}
		failures = 0

		if ctx.Err() != nil {
			f.Release()
			return
		}

		// A configuration queued while the source was producing this frame
		// wins: the frame belongs to the old configuration.
		if s.pending.Load() != nil {
			f.Release()
			s.discarded.Add(1)
			continue
		}

		if f.Orientation != "" {
			s.orientation.Store(f.Orientation)
		}
		f.Seq = s.seq.Add(1)
		s.captured.Add(1)
		router.Route(f)
		f.Release()
	}
}

// fail reports a fatal capture error and stops the session in the background.
func (s *Session) fail(err error) {
	s.logger.Error("capture loop ended", "error", err)
	s.notifier.Post(Event{Type: EventError, Kind: Kind(err), Err: err})
	go s.Stop(context.Background())
}

// applyPending applies a queued configuration. The pending slot is cleared
// only after the new configuration is current, so Config never goes back.
func (s *Session) applyPending(router *Router) {
	p := s.pending.Load()
	if p == nil {
		return
	}
	s.apply(router, *p)
	s.pending.CompareAndSwap(p, nil)
}

// apply swaps in cfg on the capture goroutine.
func (s *Session) apply(router *Router, cfg camera.Config) {
	if err := s.source.ApplyConfiguration(cfg); err != nil {
		cerr := &ConfigError{Field: "source", Reason: "apply failed", Err: err}
		s.logger.Warn("reconfiguration failed", "error", err)
		s.notifier.Post(Event{Type: EventError, Kind: KindConfig, Err: cerr})
		return
	}
	c := cfg
	s.current.Store(&c)
	s.reconcile(router, cfg)

	if !cfg.RecordsVideo {
		s.mu.Lock()
		id := s.recording
		s.recording = ""
		s.mu.Unlock()
		if id != "" {
			if err := router.Unregister(context.Background(), id); err != nil && !errors.Is(err, ErrSinkNotFound) {
				s.reportSinkError("video", err)
			}
		}
	}
	s.logger.Info("configuration applied", "resolution", cfg.Resolution, "frame_rate", cfg.FrameRate)
}

// reconcile registers or removes managed sinks to match cfg.
func (s *Session) reconcile(router *Router, cfg camera.Config) {
	want := map[string]bool{
		managedStream:   cfg.StreamsFrames,
		managedDepth:    cfg.CapturesDepth,
		managedMetadata: cfg.TrackMetadata,
	}
	for _, kind := range []string{managedStream, managedDepth, managedMetadata} {
		id, have := s.managed[kind]
		switch {
		case want[kind] && !have:
			id, err := router.Register(s.managedSink(kind))
			if err != nil {
				s.reportSinkError(kind, err)
				continue
			}
			s.managed[kind] = id
		case !want[kind] && have:
			delete(s.managed, kind)
			if err := router.Unregister(context.Background(), id); err != nil && !errors.Is(err, ErrSinkNotFound) {
				s.reportSinkError(kind, err)
			}
		}
	}
}

// reportSinkError posts a failure to add or remove a session-owned sink.
func (s *Session) reportSinkError(sink string, err error) {
	serr := &SinkError{Sink: sink, Err: err}
	s.logger.Warn("sink change failed", "sink", sink, "error", err)
	s.notifier.Post(Event{Type: EventError, Kind: Kind(serr), Err: serr})
}

func (s *Session) managedSink(kind string) Sink {
	switch kind {
	case managedDepth:
		return NewDepthSink(s.notifier)
	case managedMetadata:
		return NewMetadataSink(s.notifier)
	default:
		return NewStreamSink(s.notifier, s.pipeline)
	}
}

// Stop ends capture. It waits for the capture goroutine, suspends the
// annotation pipeline (cancelling its jobs and refusing the frames sinks
// still drain), drains and stops every sink (finishing any recording), posts
// EventSessionClosed and waits for it to be delivered. The session is then
// Idle. Stop on a session that is not running does nothing. Stop must not be
// called synchronously from an observer.
//
// If ctx ends before the capture goroutine exits, the source is closed to
// unblock it and Stop still waits for it: the session never becomes Idle
// while the old goroutine can touch its configuration.
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return nil
	}
	s.state = StateStopping
	cancel, done, router := s.cancel, s.loopDone, s.router
	s.mu.Unlock()

	cancel()
	var errs []error
	sourceClosed := false
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("wait for capture loop: %w", ctx.Err()))
		if err := s.source.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close source: %w", err))
		}
		sourceClosed = true
		<-done
	}

	if s.pipeline != nil {
		s.pipeline.Suspend()
	}
	if err := router.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close router: %w", err))
	}
	if !sourceClosed {
		if err := s.source.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close source: %w", err))
		}
	}

	s.notifier.Post(Event{Type: EventSessionClosed})
	if err := s.notifier.Flush(ctx); err != nil {
		errs = append(errs, fmt.Errorf("flush events: %w", err))
	}

	s.mu.Lock()
	s.state = StateIdle
	s.router = nil
	s.recording = ""
	s.cancel = nil
	s.mu.Unlock()

	s.logger.Info("session stopped", "frames", s.captured.Load())
	return errors.Join(errs...)
}

func (s *Session) runningRouter() (*Router, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning || s.router == nil {
		return nil, ErrInvalidState
	}
	return s.router, nil
}

// AddSink registers a custom sink on the running session.
func (s *Session) AddSink(sink Sink) (SinkID, error) {
	router, err := s.runningRouter()
	if err != nil {
		return "", err
	}
	return router.Register(sink)
}

// RemoveSink unregisters a sink added with AddSink or CaptureStill.
func (s *Session) RemoveSink(ctx context.Context, id SinkID) error {
	router, err := s.runningRouter()
	if err != nil {
		return err
	}
	return router.Unregister(ctx, id)
}

// CaptureStill captures the next routed frame. EventStillCaptured follows.
func (s *Session) CaptureStill() (SinkID, error) {
	router, err := s.runningRouter()
	if err != nil {
		return "", err
	}
	sink := NewStillImageSink(s.appliedConfig(), s.source, s.notifier, s.tempDir)
	return router.Register(sink)
}

// StartRecording begins a new video segment. The applied configuration must
// record video and a recorder must be set.
func (s *Session) StartRecording() (SinkID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateRunning || s.router == nil {
		return "", ErrInvalidState
	}
	cfg := s.appliedConfig()
	if !cfg.RecordsVideo {
		return "", ErrRecordingDisabled
	}
	if s.recorder == nil {
		return "", ErrNoRecorder
	}
	if s.recording != "" {
		return "", ErrAlreadyRecording
	}

	w, h := cfg.Resolution.Dimensions()
	spec := SegmentSpec{
		Width:       w,
		Height:      h,
		FrameRate:   cfg.FrameRate,
		Mirrored:    cfg.Mirrored(),
		Orientation: s.frameOrientation(),
	}
	name := fmt.Sprintf("lumina-%s-%s%s", time.Now().Format("20060102-150405"), uuid.New().String()[:8], s.recordExt)
	path := filepath.Join(s.recordDir, name)

	id, err := s.router.Register(NewVideoFileSink(s.recorder, s.notifier, path, spec))
	if err != nil {
		return "", err
	}
	s.recording = id
	s.logger.Info("recording started", "path", path)
	return id, nil
}

// frameOrientation returns the orientation of the latest routed frame.
func (s *Session) frameOrientation() Orientation {
	if o, ok := s.orientation.Load().(Orientation); ok {
		return o
	}
	return OrientationUp
}

// Recording reports whether a recording is in progress.
func (s *Session) Recording() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recording != ""
}

// StopRecording finishes the current segment. EventVideoFinished follows.
func (s *Session) StopRecording(ctx context.Context) error {
	s.mu.Lock()
	id, router := s.recording, s.router
	s.recording = ""
	s.mu.Unlock()

	if id == "" || router == nil {
		return ErrNotRecording
	}
	return router.Unregister(ctx, id)
}

// Stats returns a snapshot of session counters.
func (s *Session) Stats() SessionStats {
	s.mu.Lock()
	stats := SessionStats{
		ID:         s.id,
		State:      s.state,
		Configured: s.configured,
		Recording:  s.recording != "",
	}
	router := s.router
	if s.state == StateRunning {
		stats.StartedAt = s.startedAt
		stats.Uptime = time.Since(s.startedAt)
	}
	s.mu.Unlock()

	stats.Config = s.Config()
	stats.FramesCaptured = s.captured.Load()
	stats.FramesDiscarded = s.discarded.Load()
	stats.SourceErrors = s.sourceErrors.Load()
	stats.Notifier = s.notifier.Stats()
	if router != nil {
		rs := router.Stats()
		stats.Router = &rs
	}
	if s.pipeline != nil {
		ps := s.pipeline.Stats()
		stats.Pipeline = &ps
	}
	return stats
}

// Close stops the session and releases the source, pipeline and notifier.
func (s *Session) Close() error {
	err := s.Stop(context.Background())

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return err
	}
	s.closed = true
	s.mu.Unlock()

	if s.pipeline != nil {
		s.pipeline.Close()
	}
	s.notifier.Close()
	if cerr := s.source.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
