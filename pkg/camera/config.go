// Package camera defines the capture configuration for a Lumina session.
// A Config is a plain value; sessions hold it behind an atomic pointer so a
// reader always sees one complete snapshot.
package camera

import (
	"fmt"
	"strings"
)

// Position selects the physical camera.
type Position string

const (
	PositionBack  Position = "back"
	PositionFront Position = "front"
)

// TorchMode controls the torch during streaming and the flash for stills.
type TorchMode string

const (
	TorchOff  TorchMode = "off"
	TorchOn   TorchMode = "on"
	TorchAuto TorchMode = "auto"
)

// Limits shared by every source.
const (
	MinFrameRate = 1
	MaxFrameRate = 240
	MaxZoomLimit = 16.0
)

// Config holds all capture configuration parameters.
type Config struct {
	Position   Position   `json:"position"`
	Resolution Resolution `json:"resolution"`
	FrameRate  int        `json:"frame_rate"`
	MaxZoom    float64    `json:"max_zoom"`
	Torch      TorchMode  `json:"torch"`

	// === Outputs ===
	RecordsVideo      bool `json:"records_video"`
	StreamsFrames     bool `json:"streams_frames"`
	CapturesDepth     bool `json:"captures_depth"`
	CapturesLivePhoto bool `json:"captures_live_photo"`

	// TrackMetadata enables delivery of machine-readable codes found in frames.
	TrackMetadata bool `json:"track_metadata"`

	// CapturesHighResolution requests the sensor's full resolution for stills.
	CapturesHighResolution bool `json:"captures_high_resolution"`

	// MirrorFrontCamera flips recordings horizontally when using the front camera.
	MirrorFrontCamera bool `json:"mirror_front_camera"`
}

// DefaultConfig returns the recommended configuration: back camera, 1080p at 30fps.
func DefaultConfig() Config {
	return Config{
		Position:          PositionBack,
		Resolution:        Resolution1920x1080,
		FrameRate:         30,
		MaxZoom:           1.0,
		Torch:             TorchOff,
		StreamsFrames:     true,
		MirrorFrontCamera: true,
	}
}

// ValidationError lists every problem found in a Config.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid camera config: " + strings.Join(e.Problems, "; ")
}

// Validate checks that all values are within range and mutually consistent.
// Source-specific support is checked separately with Check.
func (c Config) Validate() error {
	var problems []string

	switch c.Position {
	case PositionBack, PositionFront:
	default:
		problems = append(problems, fmt.Sprintf("position must be front or back, got %q", c.Position))
	}

	spec, ok := c.Resolution.Spec()
	if !ok {
		problems = append(problems, fmt.Sprintf("unknown resolution %q", c.Resolution))
	}

	if c.FrameRate < MinFrameRate || c.FrameRate > MaxFrameRate {
		problems = append(problems, fmt.Sprintf("frame_rate must be between %d and %d", MinFrameRate, MaxFrameRate))
	} else if ok && c.FrameRate > spec.MaxFrameRate {
		problems = append(problems, fmt.Sprintf("frame_rate %d exceeds %d for resolution %s", c.FrameRate, spec.MaxFrameRate, c.Resolution))
	}

	// Written as a negated range so NaN is rejected.
	if !(c.MaxZoom >= 1.0 && c.MaxZoom <= MaxZoomLimit) {
		problems = append(problems, fmt.Sprintf("max_zoom must be between 1.0 and %.1f", MaxZoomLimit))
	}

	switch c.Torch {
	case TorchOff, TorchOn, TorchAuto:
	default:
		problems = append(problems, fmt.Sprintf("torch must be on, off, or auto, got %q", c.Torch))
	}

	if c.RecordsVideo && c.Resolution == ResolutionPhoto {
		problems = append(problems, "records_video is not available in photo resolution")
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// Mirrored reports whether recordings made under this config are flipped.
func (c Config) Mirrored() bool {
	return c.Position == PositionFront && c.MirrorFrontCamera
}
