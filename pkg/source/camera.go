package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/io/video"
	"github.com/pion/mediadevices/pkg/prop"

	// Registers the platform camera driver.
	_ "github.com/pion/mediadevices/pkg/driver/camera"

	"github.com/teslashibe/go-lumina/pkg/camera"
	"github.com/teslashibe/go-lumina/pkg/capture"
)

// Device describes a video input.
type Device struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// ListDevices returns the video inputs mediadevices can open.
func ListDevices() []Device {
	var out []Device
	for _, d := range mediadevices.EnumerateDevices() {
		if d.Kind != mediadevices.VideoInput {
			continue
		}
		out = append(out, Device{ID: d.DeviceID, Label: d.Label})
	}
	return out
}

// Camera reads frames from a local camera. Frames are JPEG encoded.
// A configuration change that affects the stream reopens the device before
// the next frame.
type Camera struct {
	deviceID string
	quality  int
	caps     camera.CapabilitySet
	logger   *slog.Logger

	mu     sync.Mutex
	cfg    camera.Config
	track  mediadevices.Track
	reader video.Reader
	reopen bool
	open   bool

	clock stamper
}

// CameraOption configures a Camera.
type CameraOption func(*Camera)

// WithDevice selects a device by ID. The default is the first camera.
func WithDevice(id string) CameraOption {
	return func(c *Camera) { c.deviceID = id }
}

// WithJPEGQuality sets the encoding quality (1-100).
func WithJPEGQuality(q int) CameraOption {
	return func(c *Camera) {
		if q > 0 && q <= 100 {
			c.quality = q
		}
	}
}

// WithCameraCapabilities overrides WebcamCapabilities.
func WithCameraCapabilities(caps camera.CapabilitySet) CameraOption {
	return func(c *Camera) { c.caps = caps }
}

// WithCameraLogger sets the logger.
func WithCameraLogger(l *slog.Logger) CameraOption {
	return func(c *Camera) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewCamera creates a camera source. The device is not touched until Open.
func NewCamera(opts ...CameraOption) *Camera {
	c := &Camera{
		quality: 85,
		caps:    WebcamCapabilities(),
		cfg:     camera.DefaultConfig(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "source.camera")
	return c
}

func (c *Camera) Supports(feature camera.Capability) bool { return c.caps.Supports(feature) }

func (c *Camera) SupportsFormat(r camera.Resolution, fps int) bool {
	return c.caps.SupportsFormat(r, fps)
}

// Open starts the device with the applied configuration.
func (c *Camera) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.startLocked(); err != nil {
		return err
	}
	c.open = true
	c.clock.reset(time.Now())
	return nil
}

func (c *Camera) startLocked() error {
	w, h := c.cfg.Resolution.Dimensions()
	fps := c.cfg.FrameRate
	deviceID := c.deviceID

	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Video: func(mc *mediadevices.MediaTrackConstraints) {
			mc.Width = prop.Int(w)
			mc.Height = prop.Int(h)
			mc.FrameRate = prop.Float(fps)
			if deviceID != "" {
				mc.DeviceID = prop.String(deviceID)
			}
		},
	})
	if err != nil {
		return fmt.Errorf("source: open camera: %w", err)
	}

	tracks := stream.GetVideoTracks()
	if len(tracks) == 0 {
		return errors.New("source: camera has no video track")
	}
	vt, ok := tracks[0].(*mediadevices.VideoTrack)
	if !ok {
		tracks[0].Close()
		return fmt.Errorf("source: unexpected track type %T", tracks[0])
	}

	c.track = vt
	c.reader = vt.NewReader(false)
	c.reopen = false
	c.logger.Info("camera opened", "device", deviceID, "width", w, "height", h, "fps", fps)
	return nil
}

func (c *Camera) stopLocked() {
	if c.track != nil {
		c.track.Close()
	}
	c.track, c.reader = nil, nil
}

// ApplyConfiguration stores cfg. If the device is open and the size or rate
// changed, it is reopened before the next frame.
func (c *Camera) ApplyConfiguration(cfg camera.Config) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.open && (cfg.Resolution != c.cfg.Resolution || cfg.FrameRate != c.cfg.FrameRate) {
		c.reopen = true
	}
	c.cfg = cfg
	return nil
}

// NextFrame reads and encodes the next image. The read itself cannot be
// interrupted; Close unblocks it.
func (c *Camera) NextFrame(ctx context.Context) (*capture.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if !c.open {
		c.mu.Unlock()
		return nil, capture.ErrSourceClosed
	}
	if c.reopen {
		c.stopLocked()
		if err := c.startLocked(); err != nil {
			c.mu.Unlock()
			return nil, err
		}
	}
	reader := c.reader
	c.mu.Unlock()

	img, release, err := reader.Read()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("source: read camera: %w", err)
	}
	defer release()

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: c.quality}); err != nil {
		return nil, fmt.Errorf("source: encode frame: %w", err)
	}

	b := img.Bounds()
	brightness := Brightness(img)
	return &capture.Frame{
		Data:        buf.Bytes(),
		Format:      capture.FormatJPEG,
		Width:       b.Dx(),
		Height:      b.Dy(),
		Timestamp:   c.clock.next(time.Now()),
		Orientation: capture.OrientationUp,
		Brightness:  &brightness,
	}, nil
}

// Close stops the device.
func (c *Camera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = false
	c.stopLocked()
	return nil
}
