package library

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/teslashibe/go-lumina/pkg/capture"
)

// DefaultJPEGQuality is used when stills are re-encoded.
const DefaultJPEGQuality = 90

// Observer writes captured stills to Dir and catalogues stills and finished
// videos in a Store. Subscribe Handle to a session.
type Observer struct {
	Store   Store
	Dir     string
	Quality int
	Logger  *slog.Logger

	// OnAdded, if set, is called with each catalogued asset.
	OnAdded func(Asset)
}

func (o *Observer) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.Default().With("component", "library")
	}
	return o.Logger
}

// Handle consumes session events. It runs on the notifier goroutine, so the
// still frame is encoded before returning.
func (o *Observer) Handle(ev capture.Event) {
	switch ev.Type {
	case capture.EventStillCaptured:
		if ev.Frame == nil || ev.Still == nil {
			return
		}
		if _, err := o.SaveStill(ev.Frame, *ev.Still); err != nil {
			o.logger().Error("save still failed", "seq", ev.Frame.Seq, "error", err)
		}
	case capture.EventVideoFinished:
		if ev.Video == nil {
			return
		}
		if _, err := o.AddVideo(*ev.Video); err != nil {
			o.logger().Error("catalogue video failed", "path", ev.Video.Path, "error", err)
		}
	}
}

// SaveStill writes f as a JPEG and catalogues it.
func (o *Observer) SaveStill(f *capture.Frame, meta capture.StillMetadata) (Asset, error) {
	quality := o.Quality
	if quality <= 0 {
		quality = DefaultJPEGQuality
	}
	data, err := f.JPEG(quality)
	if err != nil {
		return Asset{}, fmt.Errorf("library: encode still: %w", err)
	}

	at := meta.CapturedAt
	if at.IsZero() {
		at = time.Now()
	}
	if err := os.MkdirAll(o.Dir, 0o755); err != nil {
		return Asset{}, fmt.Errorf("library: create directory: %w", err)
	}
	path := filepath.Join(o.Dir, fmt.Sprintf("still-%s-%06d.jpg", at.UTC().Format("20060102T150405"), f.Seq))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return Asset{}, fmt.Errorf("library: write still: %w", err)
	}

	a := StillAsset(path, meta)
	// Stills are stored as JPEG whatever codec the source would have used.
	a.Codec = capture.CodecJPEG
	a.Bytes = int64(len(data))
	return o.add(a)
}

// AddVideo catalogues a finished segment.
func (o *Observer) AddVideo(seg capture.VideoSegment) (Asset, error) {
	a := VideoAsset(seg)
	if info, err := os.Stat(seg.Path); err == nil {
		a.Bytes = info.Size()
	}
	return o.add(a)
}

func (o *Observer) add(a Asset) (Asset, error) {
	a, err := o.Store.Add(a)
	if err != nil {
		return Asset{}, err
	}
	o.logger().Info("asset added", "id", a.ID, "kind", a.Kind, "path", a.Path)
	if o.OnAdded != nil {
		o.OnAdded(a)
	}
	return a, nil
}
