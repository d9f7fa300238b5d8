package capture

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-lumina/pkg/camera"
)

// StillImageSink captures exactly one frame, posts EventStillCaptured and
// unregisters itself.
type StillImageSink struct {
	cfg      camera.Config
	caps     camera.Capabilities
	notifier *Notifier
	tempDir  string
	now      func() time.Time

	taken atomic.Bool
}

// NewStillImageSink creates a one-shot still sink for cfg. caps decides the
// codec and whether depth is attached. Live photo movies go in tempDir, or
// os.TempDir() if empty.
func NewStillImageSink(cfg camera.Config, caps camera.Capabilities, n *Notifier, tempDir string) *StillImageSink {
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &StillImageSink{
		cfg:      cfg,
		caps:     caps,
		notifier: n,
		tempDir:  tempDir,
		now:      time.Now,
	}
}

func (s *StillImageSink) Name() string { return "still" }

func (s *StillImageSink) Accepts(f *Frame) bool { return !s.taken.Load() }

func (s *StillImageSink) Start() error { return nil }

func (s *StillImageSink) Stop() error { return nil }

// Consume takes the first frame it sees and reports completion.
func (s *StillImageSink) Consume(f *Frame) error {
	if !s.taken.CompareAndSwap(false, true) {
		return ErrSinkComplete
	}
	meta := s.Metadata(f)
	f.Retain()
	s.notifier.Post(Event{Type: EventStillCaptured, Frame: f, Still: &meta})
	return ErrSinkComplete
}

// Metadata describes how f would be saved under the sink's configuration.
func (s *StillImageSink) Metadata(f *Frame) StillMetadata {
	now := s.now()
	meta := StillMetadata{
		Codec:          CodecJPEG,
		Flash:          s.cfg.Torch,
		Position:       s.cfg.Position,
		HighResolution: s.cfg.CapturesHighResolution,
		Brightness:     f.Brightness,
		Width:          f.Width,
		Height:         f.Height,
		CapturedAt:     now,
	}
	if s.caps != nil && s.caps.Supports(camera.CapabilityHEVC) {
		meta.Codec = CodecHEVC
	}
	if s.caps != nil && !s.caps.Supports(camera.CapabilityTorch) {
		meta.Flash = camera.TorchOff
	}
	if s.cfg.CapturesLivePhoto {
		meta.LivePhotoPath = LivePhotoPath(s.tempDir, now)
	}
	if s.cfg.CapturesDepth && f.Depth != nil {
		meta.Depth = f.Depth
	}
	return meta
}

// LivePhotoPath returns the movie path for a live photo taken at t.
func LivePhotoPath(dir string, t time.Time) string {
	return filepath.Join(dir, "livePhoto"+t.UTC().Format("20060102T150405.000Z")+".mov")
}

// VideoFileSink appends every frame to a Recorder segment. On Stop the
// segment is finished and EventVideoFinished is posted. An append failure
// abandons the segment; the sink then ignores frames until stopped.
type VideoFileSink struct {
	recorder Recorder
	notifier *Notifier
	path     string
	spec     SegmentSpec

	failed atomic.Bool
}

// NewVideoFileSink creates a sink recording to path.
func NewVideoFileSink(r Recorder, n *Notifier, path string, spec SegmentSpec) *VideoFileSink {
	return &VideoFileSink{
		recorder: r,
		notifier: n,
		path:     path,
		spec:     spec,
	}
}

func (s *VideoFileSink) Name() string { return "video" }

// Path returns the output file.
func (s *VideoFileSink) Path() string { return s.path }

func (s *VideoFileSink) Accepts(f *Frame) bool { return !s.failed.Load() }

// Start opens the segment.
func (s *VideoFileSink) Start() error {
	if err := s.recorder.StartSegment(s.path, s.spec); err != nil {
		return &EncodeError{Op: "start", Path: s.path, Err: err}
	}
	return nil
}

// Consume appends f to the segment.
func (s *VideoFileSink) Consume(f *Frame) error {
	if s.failed.Load() {
		return nil
	}
	if err := s.recorder.AppendFrame(f); err != nil {
		s.failed.Store(true)
		s.abandon()
		return &EncodeError{Op: "append", Path: s.path, Err: err}
	}
	return nil
}

// abandon discards the segment. Cleanup failures are reported separately
// from the append failure that caused them.
func (s *VideoFileSink) abandon() {
	var err error
	if a, ok := s.recorder.(Aborter); ok {
		err = a.AbortSegment()
	} else {
		_, ferr := s.recorder.FinishSegment()
		rerr := os.Remove(s.path)
		if errors.Is(rerr, os.ErrNotExist) {
			rerr = nil
		}
		err = errors.Join(ferr, rerr)
	}
	if err != nil {
		s.notifier.Post(Event{Type: EventError, Kind: KindEncode, Err: &EncodeError{Op: "abandon", Path: s.path, Err: err}})
	}
}

// Stop finishes the segment. Abandoned segments produce no event.
func (s *VideoFileSink) Stop() error {
	if s.failed.Load() {
		return nil
	}
	seg, err := s.recorder.FinishSegment()
	if err != nil {
		return &EncodeError{Op: "finish", Path: s.path, Err: err}
	}
	if seg.Path == "" {
		seg.Path = s.path
	}
	s.notifier.Post(Event{Type: EventVideoFinished, Video: &seg})
	return nil
}

// StreamSink forwards frames to the annotation pipeline when one is present.
// Frames the pipeline cannot take, or all frames without a pipeline, are
// posted unannotated as EventFrameStreamed.
type StreamSink struct {
	notifier *Notifier
	pipeline *Pipeline
}

// NewStreamSink creates a stream sink. p may be nil.
func NewStreamSink(n *Notifier, p *Pipeline) *StreamSink {
	return &StreamSink{notifier: n, pipeline: p}
}

func (s *StreamSink) Name() string { return "stream" }

func (s *StreamSink) Accepts(f *Frame) bool { return true }

func (s *StreamSink) Start() error { return nil }

func (s *StreamSink) Stop() error { return nil }

func (s *StreamSink) Consume(f *Frame) error {
	if s.pipeline != nil && s.pipeline.Submit(f) {
		return nil
	}
	f.Retain()
	s.notifier.Post(Event{Type: EventFrameStreamed, Frame: f})
	return nil
}

// DepthSink posts EventDepthFrame for frames carrying depth data.
type DepthSink struct {
	notifier *Notifier
}

// NewDepthSink creates a depth sink.
func NewDepthSink(n *Notifier) *DepthSink {
	return &DepthSink{notifier: n}
}

func (s *DepthSink) Name() string { return "depth" }

func (s *DepthSink) Accepts(f *Frame) bool { return f.Depth != nil }

func (s *DepthSink) Start() error { return nil }

func (s *DepthSink) Stop() error { return nil }

func (s *DepthSink) Consume(f *Frame) error {
	if f.Depth == nil {
		return fmt.Errorf("frame %d has no depth data", f.Seq)
	}
	f.Retain()
	s.notifier.Post(Event{Type: EventDepthFrame, Frame: f})
	return nil
}

// MetadataSink posts EventMetadataDetected for frames carrying metadata objects.
type MetadataSink struct {
	notifier *Notifier
}

// NewMetadataSink creates a metadata sink.
func NewMetadataSink(n *Notifier) *MetadataSink {
	return &MetadataSink{notifier: n}
}

func (s *MetadataSink) Name() string { return "metadata" }

func (s *MetadataSink) Accepts(f *Frame) bool { return len(f.Metadata) > 0 }

func (s *MetadataSink) Start() error { return nil }

func (s *MetadataSink) Stop() error { return nil }

func (s *MetadataSink) Consume(f *Frame) error {
	f.Retain()
	s.notifier.Post(Event{Type: EventMetadataDetected, Frame: f, Metadata: f.Metadata})
	return nil
}
