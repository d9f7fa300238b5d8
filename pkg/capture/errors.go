package capture

import (
	"errors"
	"fmt"
)

// Sentinel errors for common conditions.
var (
	// ErrInvalidState is returned when an operation is not allowed in the session's current state.
	ErrInvalidState = errors.New("capture: invalid session state")

	// ErrNotConfigured is returned by Start when no configuration has been applied.
	ErrNotConfigured = errors.New("capture: session not configured")

	// ErrSinkComplete is returned by a sink's Consume to unregister itself.
	ErrSinkComplete = errors.New("capture: sink complete")

	// ErrSinkNotFound is returned when unregistering an unknown sink.
	ErrSinkNotFound = errors.New("capture: sink not found")

	// ErrRouterClosed is returned when registering a sink on a closed router.
	ErrRouterClosed = errors.New("capture: router closed")

	// ErrRecordingDisabled is returned by StartRecording when the configuration does not record video.
	ErrRecordingDisabled = errors.New("capture: video recording disabled")

	// ErrNoRecorder is returned by StartRecording when the session has no recorder.
	ErrNoRecorder = errors.New("capture: no recorder configured")

	// ErrAlreadyRecording is returned when a recording is already in progress.
	ErrAlreadyRecording = errors.New("capture: already recording")

	// ErrNotRecording is returned by StopRecording when nothing is being recorded.
	ErrNotRecording = errors.New("capture: not recording")

	// ErrSourceExhausted is reported when the frame source has no more frames.
	ErrSourceExhausted = errors.New("capture: frame source exhausted")

	// ErrSourceClosed is returned by a source read before Open or after Close.
	ErrSourceClosed = errors.New("capture: frame source closed")

	// ErrNotifierClosed is returned when waiting on a closed notifier.
	ErrNotifierClosed = errors.New("capture: notifier closed")
)

// ConfigError reports an invalid or unsupported configuration.
// The session stays in its previous state.
type ConfigError struct {
	// Field names the offending part of the configuration, if known.
	Field string

	// Reason is a short description of why the configuration was refused.
	Reason string

	Err error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	msg := "capture: config rejected"
	if e.Field != "" {
		msg += " (" + e.Field + ")"
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// SessionError reports a failure to start or run the session.
type SessionError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *SessionError) Error() string {
	return fmt.Sprintf("capture: session %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *SessionError) Unwrap() error {
	return e.Err
}

// EncodeError reports a recording failure. The current segment is abandoned
// but the session keeps running.
type EncodeError struct {
	Op   string
	Path string
	Err  error
}

// Error implements the error interface.
func (e *EncodeError) Error() string {
	return fmt.Sprintf("capture: encode %s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *EncodeError) Unwrap() error {
	return e.Err
}

// AnnotationError reports a model failure for one frame. The frame is still
// delivered, without predictions.
type AnnotationError struct {
	Seq   uint64
	Model string
	Err   error
}

// Error implements the error interface.
func (e *AnnotationError) Error() string {
	return fmt.Sprintf("capture: annotate frame %d with %s: %v", e.Seq, e.Model, e.Err)
}

// Unwrap returns the underlying error.
func (e *AnnotationError) Unwrap() error {
	return e.Err
}

// DroppedFrameError reports that a congested sink missed a frame.
type DroppedFrameError struct {
	Sink string
	Seq  uint64
}

// Error implements the error interface.
func (e *DroppedFrameError) Error() string {
	return fmt.Sprintf("capture: sink %s dropped frame %d", e.Sink, e.Seq)
}

// SinkError wraps a failure inside one sink.
type SinkError struct {
	Sink string
	Err  error
}

// Error implements the error interface.
func (e *SinkError) Error() string {
	return fmt.Sprintf("capture: sink %s: %v", e.Sink, e.Err)
}

// Unwrap returns the underlying error.
func (e *SinkError) Unwrap() error {
	return e.Err
}

// ErrorKind classifies errors delivered through Observer.OnError.
type ErrorKind string

const (
	KindConfig     ErrorKind = "config"
	KindSession    ErrorKind = "session"
	KindSource     ErrorKind = "source"
	KindEncode     ErrorKind = "encode"
	KindAnnotation ErrorKind = "annotation"
	KindDropped    ErrorKind = "dropped_frame"
	KindSink       ErrorKind = "sink"
	KindUnknown    ErrorKind = "unknown"
)

// Kind returns the ErrorKind for err. More specific kinds win over SinkError.
func Kind(err error) ErrorKind {
	var (
		configErr  *ConfigError
		sessionErr *SessionError
		encodeErr  *EncodeError
		annErr     *AnnotationError
		dropErr    *DroppedFrameError
		sinkErr    *SinkError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &encodeErr):
		return KindEncode
	case errors.As(err, &annErr):
		return KindAnnotation
	case errors.As(err, &dropErr):
		return KindDropped
	case errors.As(err, &configErr):
		return KindConfig
	case errors.Is(err, ErrSourceExhausted), errors.Is(err, ErrSourceClosed):
		return KindSource
	case errors.As(err, &sessionErr):
		return KindSession
	case errors.As(err, &sinkErr):
		return KindSink
	default:
		return KindUnknown
	}
}
