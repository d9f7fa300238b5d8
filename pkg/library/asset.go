// Package library keeps a catalogue of captured stills and finished
// recordings in a JSON file next to the media.
package library

import (
	"time"

	"github.com/teslashibe/go-lumina/pkg/camera"
	"github.com/teslashibe/go-lumina/pkg/capture"
)

// Kind distinguishes stills from videos.
type Kind string

const (
	KindStill Kind = "still"
	KindVideo Kind = "video"
)

// Asset is one catalogued capture.
type Asset struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Path      string    `json:"path"`
	CreatedAt time.Time `json:"created_at"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	Bytes     int64     `json:"bytes,omitempty"`

	// Still fields.
	Codec         string           `json:"codec,omitempty"`
	Flash         camera.TorchMode `json:"flash,omitempty"`
	Position      camera.Position  `json:"position,omitempty"`
	LivePhotoPath string           `json:"live_photo_path,omitempty"`
	HasDepth      bool             `json:"has_depth,omitempty"`
	Brightness    *float64         `json:"brightness,omitempty"`

	// Video fields.
	Frames      int                 `json:"frames,omitempty"`
	Duration    time.Duration       `json:"duration,omitempty"`
	Mirrored    bool                `json:"mirrored,omitempty"`
	Orientation capture.Orientation `json:"orientation,omitempty"`
}

// StillAsset describes a still written to path.
func StillAsset(path string, meta capture.StillMetadata) Asset {
	return Asset{
		Kind:          KindStill,
		Path:          path,
		CreatedAt:     meta.CapturedAt,
		Width:         meta.Width,
		Height:        meta.Height,
		Codec:         meta.Codec,
		Flash:         meta.Flash,
		Position:      meta.Position,
		LivePhotoPath: meta.LivePhotoPath,
		HasDepth:      meta.Depth != nil,
		Brightness:    meta.Brightness,
	}
}

// VideoAsset describes a finished segment.
func VideoAsset(seg capture.VideoSegment) Asset {
	return Asset{
		Kind:     KindVideo,
		Path:     seg.Path,
		Width:    seg.Width,
		Height:   seg.Height,
		Frames:   seg.Frames,
		Duration: seg.Duration,
		Mirrored: seg.Mirrored,

		Orientation: seg.Orientation,
	}
}
