package capture

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"sync/atomic"
	"time"
)

// PixelFormat describes how Frame.Data is encoded.
type PixelFormat string

const (
	FormatJPEG PixelFormat = "jpeg"
	FormatRGBA PixelFormat = "rgba"
)

// Orientation of the frame relative to the sensor.
type Orientation string

const (
	OrientationUp    Orientation = "up"
	OrientationDown  Orientation = "down"
	OrientationLeft  Orientation = "left"
	OrientationRight Orientation = "right"
)

// DepthMap holds per-pixel distances in meters, row major.
type DepthMap struct {
	Width  int       `json:"width"`
	Height int       `json:"height"`
	Data   []float32 `json:"-"`
}

// At returns the depth at (x, y), or 0 outside the map.
func (d *DepthMap) At(x, y int) float32 {
	if d == nil || x < 0 || y < 0 || x >= d.Width || y >= d.Height {
		return 0
	}
	i := y*d.Width + x
	if i >= len(d.Data) {
		return 0
	}
	return d.Data[i]
}

// MetadataObject is a machine-readable code found in a frame.
type MetadataObject struct {
	Type    string          `json:"type"`
	Payload string          `json:"payload"`
	Bounds  image.Rectangle `json:"bounds"`
}

// Frame is one captured image. Fields must not be modified once the frame has
// been handed to the session.
//
// Frames are reference counted. The producer holds the first reference; every
// additional holder calls Retain and later Release. The release hook set with
// OnRelease runs once, when the last holder releases.
type Frame struct {
	Data        []byte
	Format      PixelFormat
	Width       int
	Height      int
	Timestamp   time.Duration // presentation time, strictly increasing per source
	Seq         uint64        // assigned by the session
	Orientation Orientation
	Brightness  *float64
	Depth       *DepthMap
	Metadata    []MetadataObject

	// extra holds the number of references beyond the first.
	extra     atomic.Int32
	released  atomic.Bool
	onRelease func()
}

// OnRelease sets the hook run when the last reference is released.
// Call it before the frame is shared.
func (f *Frame) OnRelease(fn func()) {
	f.onRelease = fn
}

// Retain adds a reference.
func (f *Frame) Retain() {
	f.extra.Add(1)
}

// Release drops a reference. Extra calls after the final release are ignored.
func (f *Frame) Release() {
	if f.extra.Add(-1) >= 0 {
		return
	}
	if f.released.CompareAndSwap(false, true) && f.onRelease != nil {
		f.onRelease()
	}
}

// Released reports whether every reference has been released.
func (f *Frame) Released() bool {
	return f.released.Load()
}

// Refs returns the number of live references.
func (f *Frame) Refs() int {
	if f.released.Load() {
		return 0
	}
	return int(f.extra.Load()) + 1
}

// Image decodes the frame's pixels.
func (f *Frame) Image() (image.Image, error) {
	switch f.Format {
	case FormatJPEG:
		return jpeg.Decode(bytes.NewReader(f.Data))
	case FormatRGBA:
		if len(f.Data) < f.Width*f.Height*4 {
			return nil, fmt.Errorf("capture: rgba frame is %d bytes, want %d", len(f.Data), f.Width*f.Height*4)
		}
		return &image.RGBA{Pix: f.Data, Stride: f.Width * 4, Rect: image.Rect(0, 0, f.Width, f.Height)}, nil
	default:
		return nil, fmt.Errorf("capture: unknown pixel format %q", f.Format)
	}
}

// JPEG returns the frame as JPEG bytes, encoding RGBA frames at quality.
func (f *Frame) JPEG(quality int) ([]byte, error) {
	if f.Format == FormatJPEG {
		return f.Data, nil
	}
	img, err := f.Image()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
