package capture

import (
	"context"
	"time"

	"github.com/teslashibe/go-lumina/pkg/camera"
)

// Source supplies frames. NextFrame blocks until a frame is available or
// ctx is done; it returns io.EOF or ErrSourceExhausted when the source has
// no more frames. Implementations must stamp strictly increasing timestamps.
//
// Capability queries are asked once per Configure, never per frame.
type Source interface {
	camera.Capabilities

	Open(ctx context.Context) error
	NextFrame(ctx context.Context) (*Frame, error)
	ApplyConfiguration(cfg camera.Config) error
	Close() error
}

// SegmentSpec describes a video segment to be written.
type SegmentSpec struct {
	Width     int
	Height    int
	FrameRate int
	Mirrored  bool

	// Orientation of the incoming frames. Recorders write the segment
	// upright, so Left and Right segments swap width and height.
	Orientation Orientation
}

// OutputSize returns the upright size of the written video.
func (s SegmentSpec) OutputSize() (width, height int) {
	if s.Orientation == OrientationLeft || s.Orientation == OrientationRight {
		return s.Height, s.Width
	}
	return s.Width, s.Height
}

// VideoSegment describes a finished recording.
type VideoSegment struct {
	Path     string        `json:"path"`
	Frames   int           `json:"frames"`
	Duration time.Duration `json:"duration"`
	Width    int           `json:"width"`
	Height   int           `json:"height"`
	Mirrored bool          `json:"mirrored"`

	Orientation Orientation `json:"orientation,omitempty"`
}

// Recorder writes frames to a video file, one segment at a time.
type Recorder interface {
	StartSegment(path string, spec SegmentSpec) error
	AppendFrame(f *Frame) error
	FinishSegment() (VideoSegment, error)
}

// Aborter is implemented by recorders that can discard a broken segment.
type Aborter interface {
	AbortSegment() error
}

// Prediction is one result from a Model.
type Prediction struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Model      string  `json:"model,omitempty"`

	// Box is normalized to [0,1] relative to the frame. Zero for whole-frame labels.
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Model runs inference on a single frame. Infer is called from an annotation
// worker and should honor ctx.
type Model interface {
	Name() string
	Infer(ctx context.Context, f *Frame) ([]Prediction, error)
}

// Still codecs.
const (
	CodecHEVC = "hevc"
	CodecJPEG = "jpeg"
)

// StillMetadata describes a captured still.
type StillMetadata struct {
	Codec          string           `json:"codec"`
	Flash          camera.TorchMode `json:"flash"`
	Position       camera.Position  `json:"position"`
	HighResolution bool             `json:"high_resolution"`
	LivePhotoPath  string           `json:"live_photo_path,omitempty"`
	Depth          *DepthMap        `json:"depth,omitempty"`
	Brightness     *float64         `json:"brightness,omitempty"`
	Width          int              `json:"width"`
	Height         int              `json:"height"`
	CapturedAt     time.Time        `json:"captured_at"`
}
