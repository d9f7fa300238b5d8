package capture

import (
	"log/slog"
	"time"
)

// EventType identifies the kind of outward event.
type EventType string

const (
	EventStillCaptured    EventType = "still_captured"
	EventVideoFinished    EventType = "video_finished"
	EventDepthFrame       EventType = "depth_frame"
	EventMetadataDetected EventType = "metadata_detected"
	EventAnnotatedFrame   EventType = "annotated_frame"
	EventFrameStreamed    EventType = "frame_streamed"
	EventError            EventType = "error"
	EventSessionClosed    EventType = "session_closed"
)

// Event is a tagged union of everything the session reports. Only the fields
// relevant to Type are set. Seq is assigned by the Notifier when posted.
type Event struct {
	Seq  uint64
	Type EventType
	Time time.Time

	// Frame is set for still, depth, metadata, annotated and streamed events.
	Frame *Frame

	Still       *StillMetadata
	Video       *VideoSegment
	Metadata    []MetadataObject
	Predictions []Prediction

	// Err is set for error events and for annotated frames whose model failed.
	Kind ErrorKind
	Err  error
}

// Observer receives outward events. All methods are called from the
// notifier's goroutine, one at a time, in sequence order. A frame passed to
// an observer is only valid during the call unless the observer retains it.
type Observer interface {
	OnStillCaptured(f *Frame, meta StillMetadata)
	OnVideoFinished(seg VideoSegment)
	OnDepthFrame(f *Frame)
	OnMetadataDetected(f *Frame, objects []MetadataObject)
	OnAnnotatedFrame(seq uint64, f *Frame, predictions []Prediction, err error)
	OnFrameStreamed(f *Frame)
	OnError(kind ErrorKind, err error)
	OnSessionClosed()
}

// Dispatch calls the Observer method matching ev.Type.
func Dispatch(o Observer, ev Event) {
	switch ev.Type {
	case EventStillCaptured:
		var meta StillMetadata
		if ev.Still != nil {
			meta = *ev.Still
		}
		o.OnStillCaptured(ev.Frame, meta)
	case EventVideoFinished:
		var seg VideoSegment
		if ev.Video != nil {
			seg = *ev.Video
		}
		o.OnVideoFinished(seg)
	case EventDepthFrame:
		o.OnDepthFrame(ev.Frame)
	case EventMetadataDetected:
		o.OnMetadataDetected(ev.Frame, ev.Metadata)
	case EventAnnotatedFrame:
		var seq uint64
		if ev.Frame != nil {
			seq = ev.Frame.Seq
		}
		o.OnAnnotatedFrame(seq, ev.Frame, ev.Predictions, ev.Err)
	case EventFrameStreamed:
		o.OnFrameStreamed(ev.Frame)
	case EventError:
		o.OnError(ev.Kind, ev.Err)
	case EventSessionClosed:
		o.OnSessionClosed()
	}
}

// ObserverFuncs adapts optional callbacks to the Observer interface.
// Nil fields are skipped.
type ObserverFuncs struct {
	StillCaptured    func(f *Frame, meta StillMetadata)
	VideoFinished    func(seg VideoSegment)
	DepthFrame       func(f *Frame)
	MetadataDetected func(f *Frame, objects []MetadataObject)
	AnnotatedFrame   func(seq uint64, f *Frame, predictions []Prediction, err error)
	FrameStreamed    func(f *Frame)
	Error            func(kind ErrorKind, err error)
	SessionClosed    func()
}

func (o ObserverFuncs) OnStillCaptured(f *Frame, meta StillMetadata) {
	if o.StillCaptured != nil {
		o.StillCaptured(f, meta)
	}
}

func (o ObserverFuncs) OnVideoFinished(seg VideoSegment) {
	if o.VideoFinished != nil {
		o.VideoFinished(seg)
	}
}

func (o ObserverFuncs) OnDepthFrame(f *Frame) {
	if o.DepthFrame != nil {
		o.DepthFrame(f)
	}
}

func (o ObserverFuncs) OnMetadataDetected(f *Frame, objects []MetadataObject) {
	if o.MetadataDetected != nil {
		o.MetadataDetected(f, objects)
	}
}

func (o ObserverFuncs) OnAnnotatedFrame(seq uint64, f *Frame, predictions []Prediction, err error) {
	if o.AnnotatedFrame != nil {
		o.AnnotatedFrame(seq, f, predictions, err)
	}
}

func (o ObserverFuncs) OnFrameStreamed(f *Frame) {
	if o.FrameStreamed != nil {
		o.FrameStreamed(f)
	}
}

func (o ObserverFuncs) OnError(kind ErrorKind, err error) {
	if o.Error != nil {
		o.Error(kind, err)
	}
}

func (o ObserverFuncs) OnSessionClosed() {
	if o.SessionClosed != nil {
		o.SessionClosed()
	}
}

// LogObserver logs every event. Per-frame events log at debug level.
type LogObserver struct {
	Logger *slog.Logger
}

func (o LogObserver) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}

func (o LogObserver) OnStillCaptured(f *Frame, meta StillMetadata) {
	o.logger().Info("still captured", "seq", f.Seq, "codec", meta.Codec, "flash", meta.Flash,
		"width", meta.Width, "height", meta.Height, "live_photo", meta.LivePhotoPath != "")
}

func (o LogObserver) OnVideoFinished(seg VideoSegment) {
	o.logger().Info("video finished", "path", seg.Path, "frames", seg.Frames, "duration", seg.Duration)
}

func (o LogObserver) OnDepthFrame(f *Frame) {
	o.logger().Debug("depth frame", "seq", f.Seq)
}

func (o LogObserver) OnMetadataDetected(f *Frame, objects []MetadataObject) {
	o.logger().Info("metadata detected", "seq", f.Seq, "objects", len(objects))
}

func (o LogObserver) OnAnnotatedFrame(seq uint64, f *Frame, predictions []Prediction, err error) {
	if err != nil {
		o.logger().Warn("annotation failed", "seq", seq, "error", err)
		return
	}
	o.logger().Debug("annotated frame", "seq", seq, "predictions", len(predictions))
}

func (o LogObserver) OnFrameStreamed(f *Frame) {
	o.logger().Debug("frame streamed", "seq", f.Seq)
}

func (o LogObserver) OnError(kind ErrorKind, err error) {
	if kind == KindDropped {
		o.logger().Debug("frame dropped", "error", err)
		return
	}
	o.logger().Error("capture error", "kind", kind, "error", err)
}

func (o LogObserver) OnSessionClosed() {
	o.logger().Info("session closed")
}
