package web

import (
	"log/slog"
	"time"

	"github.com/teslashibe/go-lumina/pkg/capture"
	"github.com/teslashibe/go-lumina/pkg/hub"
	"github.com/teslashibe/go-lumina/pkg/library"
)

// DefaultPreviewQuality is the JPEG quality of preview frames.
const DefaultPreviewQuality = 70

// EventAssetAdded is sent when the library catalogues a capture.
const EventAssetAdded = "asset_added"

// EventMessage is the JSON form of a capture event on /ws/events.
type EventMessage struct {
	Seq         uint64                   `json:"seq,omitempty"`
	Type        string                   `json:"type"`
	Time        time.Time                `json:"time"`
	FrameSeq    uint64                   `json:"frame_seq,omitempty"`
	Width       int                      `json:"width,omitempty"`
	Height      int                      `json:"height,omitempty"`
	Brightness  *float64                 `json:"brightness,omitempty"`
	Still       *capture.StillMetadata   `json:"still,omitempty"`
	HasDepth    bool                     `json:"has_depth,omitempty"`
	Video       *capture.VideoSegment    `json:"video,omitempty"`
	Metadata    []capture.MetadataObject `json:"metadata,omitempty"`
	Predictions []capture.Prediction     `json:"predictions,omitempty"`
	Kind        capture.ErrorKind        `json:"kind,omitempty"`
	Error       string                   `json:"error,omitempty"`
	Asset       *library.Asset           `json:"asset,omitempty"`
}

// NewEventMessage converts ev. Depth maps are not serialized.
func NewEventMessage(ev capture.Event) EventMessage {
	m := EventMessage{
		Seq:         ev.Seq,
		Type:        string(ev.Type),
		Time:        ev.Time,
		Video:       ev.Video,
		Metadata:    ev.Metadata,
		Predictions: ev.Predictions,
		Kind:        ev.Kind,
	}
	if f := ev.Frame; f != nil {
		m.FrameSeq = f.Seq
		m.Width, m.Height = f.Width, f.Height
		m.Brightness = f.Brightness
		m.HasDepth = f.Depth != nil
	}
	if ev.Still != nil {
		still := *ev.Still
		m.HasDepth = m.HasDepth || still.Depth != nil
		still.Depth = nil
		m.Still = &still
	}
	if ev.Err != nil {
		m.Error = ev.Err.Error()
	}
	return m
}

// Observer forwards session events to the events hub and preview frames to
// the camera hub. Work is skipped for hubs with no clients.
type Observer struct {
	Events  *hub.Hub
	Camera  *hub.Hub
	Quality int
	Logger  *slog.Logger
}

// Handle is subscribed to the session notifier.
func (o *Observer) Handle(ev capture.Event) {
	switch ev.Type {
	case capture.EventFrameStreamed, capture.EventAnnotatedFrame:
		o.preview(ev.Frame)
	}
	if o.Events == nil || o.Events.ClientCount() == 0 {
		return
	}
	if err := o.Events.BroadcastJSON(NewEventMessage(ev)); err != nil {
		o.logger().Warn("encode event failed", "type", ev.Type, "error", err)
	}
}

// AssetAdded announces a new library asset.
func (o *Observer) AssetAdded(a library.Asset) {
	if o.Events == nil || o.Events.ClientCount() == 0 {
		return
	}
	o.Events.BroadcastJSON(EventMessage{Type: EventAssetAdded, Time: a.CreatedAt, Asset: &a})
}

func (o *Observer) preview(f *capture.Frame) {
	if f == nil || o.Camera == nil || o.Camera.ClientCount() == 0 {
		return
	}
	data, err := f.JPEG(o.Quality)
	if err != nil {
		o.logger().Debug("preview encode failed", "seq", f.Seq, "error", err)
		return
	}
	// The frame is only valid during the callback.
	if f.Format == capture.FormatJPEG {
		data = append([]byte(nil), data...)
	}
	o.Camera.BroadcastBinary(data)
}

func (o *Observer) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}
