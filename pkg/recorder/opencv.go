// Package recorder writes capture frames to video files with OpenCV.
package recorder

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-lumina/pkg/capture"
)

// DefaultCodec is the FourCC used for .mp4 files.
const DefaultCodec = "mp4v"

var (
	// ErrSegmentActive is returned by StartSegment while a segment is open.
	ErrSegmentActive = errors.New("recorder: segment already active")
	// ErrNoSegment is returned when no segment is open.
	ErrNoSegment = errors.New("recorder: no active segment")
)

// OpenCV implements capture.Recorder and capture.Aborter with a
// gocv.VideoWriter. Frames are resized to the segment size; front camera
// segments are flipped horizontally.
type OpenCV struct {
	codec  string
	logger *slog.Logger

	mu     sync.Mutex
	writer *gocv.VideoWriter
	path   string
	spec   capture.SegmentSpec
	frames int
	first  time.Duration
	last   time.Duration
}

// Option configures an OpenCV recorder.
type Option func(*OpenCV)

// WithCodec sets the FourCC, for example "avc1" or "MJPG".
func WithCodec(fourcc string) Option {
	return func(r *OpenCV) {
		if len(fourcc) == 4 {
			r.codec = fourcc
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *OpenCV) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewOpenCV creates a recorder.
func NewOpenCV(opts ...Option) *OpenCV {
	r := &OpenCV{codec: DefaultCodec, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "recorder.opencv")
	return r
}

// StartSegment opens a writer at path. The directory is created if needed.
func (r *OpenCV) StartSegment(path string, spec capture.SegmentSpec) error {
	if spec.Width <= 0 || spec.Height <= 0 {
		return fmt.Errorf("recorder: invalid segment size %dx%d", spec.Width, spec.Height)
	}
	if spec.FrameRate <= 0 {
		return fmt.Errorf("recorder: invalid frame rate %d", spec.FrameRate)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.writer != nil {
		return ErrSegmentActive
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("recorder: create directory: %w", err)
	}

	outW, outH := spec.OutputSize()
	w, err := gocv.VideoWriterFile(path, r.codec, float64(spec.FrameRate), outW, outH, true)
	if err != nil {
		return fmt.Errorf("recorder: open %s: %w", path, err)
	}
	if !w.IsOpened() {
		w.Close()
		return fmt.Errorf("recorder: codec %s cannot write %s", r.codec, path)
	}

	r.writer, r.path, r.spec = w, path, spec
	r.frames, r.first, r.last = 0, 0, 0
	r.logger.Info("segment started", "path", path, "width", outW, "height", outH, "fps", spec.FrameRate, "mirrored", spec.Mirrored, "orientation", spec.Orientation)
	return nil
}

// AppendFrame decodes, fits and writes one frame.
func (r *OpenCV) AppendFrame(f *capture.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.writer == nil {
		return ErrNoSegment
	}

	img, err := decode(f)
	if err != nil {
		return err
	}
	defer img.Close()

	out, owned := fit(img, r.spec)
	if owned {
		defer out.Close()
	}

	if err := r.writer.Write(out); err != nil {
		return fmt.Errorf("recorder: write frame: %w", err)
	}
	if r.frames == 0 {
		r.first = f.Timestamp
	}
	r.last = f.Timestamp
	r.frames++
	return nil
}

// fit turns img upright, resizes and mirrors it as spec requires. owned
// reports whether the result is a new Mat the caller must close.
func fit(img gocv.Mat, spec capture.SegmentSpec) (out gocv.Mat, owned bool) {
	out = img
	replace := func(next gocv.Mat) {
		if owned {
			out.Close()
		}
		out, owned = next, true
	}

	if flag, ok := uprightRotation(spec.Orientation); ok {
		rotated := gocv.NewMat()
		gocv.Rotate(out, &rotated, flag)
		replace(rotated)
	}
	w, h := spec.OutputSize()
	if out.Cols() != w || out.Rows() != h {
		resized := gocv.NewMat()
		gocv.Resize(out, &resized, image.Pt(w, h), 0, 0, gocv.InterpolationLinear)
		replace(resized)
	}
	if spec.Mirrored {
		flipped := gocv.NewMat()
		gocv.Flip(out, &flipped, 1)
		replace(flipped)
	}
	return out, owned
}

// uprightRotation returns the rotation that turns a frame with orientation o
// upright. A Left frame has its top edge on the left.
func uprightRotation(o capture.Orientation) (gocv.RotateFlag, bool) {
	switch o {
	case capture.OrientationLeft:
		return gocv.Rotate90Clockwise, true
	case capture.OrientationRight:
		return gocv.Rotate90CounterClockwise, true
	case capture.OrientationDown:
		return gocv.Rotate180Clockwise, true
	default:
		return 0, false
	}
}

func decode(f *capture.Frame) (gocv.Mat, error) {
	switch f.Format {
	case capture.FormatJPEG:
		img, err := gocv.IMDecode(f.Data, gocv.IMReadColor)
		if err != nil {
			return gocv.NewMat(), fmt.Errorf("recorder: decode frame: %w", err)
		}
		if img.Empty() {
			img.Close()
			return gocv.NewMat(), errors.New("recorder: empty frame")
		}
		return img, nil
	case capture.FormatRGBA:
		rgba, err := gocv.NewMatFromBytes(f.Height, f.Width, gocv.MatTypeCV8UC4, f.Data)
		if err != nil {
			return gocv.NewMat(), fmt.Errorf("recorder: wrap frame: %w", err)
		}
		defer rgba.Close()
		bgr := gocv.NewMat()
		gocv.CvtColor(rgba, &bgr, gocv.ColorRGBAToBGR)
		return bgr, nil
	default:
		return gocv.NewMat(), fmt.Errorf("recorder: unsupported pixel format %q", f.Format)
	}
}

// FinishSegment closes the writer and describes the segment.
func (r *OpenCV) FinishSegment() (capture.VideoSegment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.writer == nil {
		return capture.VideoSegment{}, ErrNoSegment
	}

	err := r.writer.Close()
	r.writer = nil
	seg := Segment(r.path, r.spec, r.frames, r.first, r.last)
	if err != nil {
		return seg, fmt.Errorf("recorder: close %s: %w", r.path, err)
	}
	r.logger.Info("segment finished", "path", r.path, "frames", seg.Frames, "duration", seg.Duration)
	return seg, nil
}

// AbortSegment closes the writer and removes the partial file.
func (r *OpenCV) AbortSegment() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.writer == nil {
		return ErrNoSegment
	}
	r.writer.Close()
	r.writer = nil
	r.logger.Warn("segment aborted", "path", r.path, "frames", r.frames)
	if err := os.Remove(r.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("recorder: remove %s: %w", r.path, err)
	}
	return nil
}

// Segment builds a VideoSegment. The duration spans the first to the last
// frame plus one frame interval.
func Segment(path string, spec capture.SegmentSpec, frames int, first, last time.Duration) capture.VideoSegment {
	w, h := spec.OutputSize()
	seg := capture.VideoSegment{
		Path:     path,
		Frames:   frames,
		Width:    w,
		Height:   h,
		Mirrored: spec.Mirrored,

		Orientation: spec.Orientation,
	}
	if frames > 0 {
		seg.Duration = last - first
		if spec.FrameRate > 0 {
			seg.Duration += time.Second / time.Duration(spec.FrameRate)
		}
	}
	return seg
}

// Ext returns the conventional file extension for a FourCC.
func Ext(fourcc string) string {
	switch strings.ToUpper(fourcc) {
	case "MJPG":
		return ".avi"
	default:
		return ".mp4"
	}
}
