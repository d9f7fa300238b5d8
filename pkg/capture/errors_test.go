package capture

import (
	"errors"
	"fmt"
	"testing"
)

func TestKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, ""},
		{"config", &ConfigError{Field: "frame_rate", Reason: "out of range"}, KindConfig},
		{"session", &SessionError{Op: "start", Err: ErrNotConfigured}, KindSession},
		{"source exhausted", &SessionError{Op: "read", Err: ErrSourceExhausted}, KindSource},
		{"source closed", ErrSourceClosed, KindSource},
		{"encode", &EncodeError{Op: "append", Path: "/tmp/a.mp4", Err: errors.New("disk full")}, KindEncode},
		{"encode inside sink", &SinkError{Sink: "video", Err: &EncodeError{Op: "append"}}, KindEncode},
		{"annotation", &AnnotationError{Seq: 4, Model: "yolo"}, KindAnnotation},
		{"dropped", &DroppedFrameError{Sink: "stream", Seq: 2}, KindDropped},
		{"sink", &SinkError{Sink: "custom", Err: errors.New("boom")}, KindSink},
		{"wrapped", fmt.Errorf("route: %w", &DroppedFrameError{Sink: "x"}), KindDropped},
		{"unknown", errors.New("mystery"), KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Kind(tt.err); got != tt.want {
				t.Errorf("Kind(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&DroppedFrameError{Sink: "stream", Seq: 12}, "capture: sink stream dropped frame 12"},
		{&SinkError{Sink: "video", Err: errors.New("closed")}, "capture: sink video: closed"},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}

	wrapped := &SessionError{Op: "open source", Err: ErrSourceClosed}
	if !errors.Is(wrapped, ErrSourceClosed) {
		t.Error("SessionError does not unwrap")
	}
}
