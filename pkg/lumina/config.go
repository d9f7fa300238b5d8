// Package lumina wires a capture session to its source, models, recorder,
// asset library and control API.
package lumina

import (
	"fmt"
	"strings"
	"time"

	"github.com/teslashibe/go-lumina/internal/config"
	"github.com/teslashibe/go-lumina/pkg/camera"
	"github.com/teslashibe/go-lumina/pkg/recorder"
)

// Source kinds.
const (
	SourceMock   = "mock"
	SourceCamera = "camera"
	SourceWebRTC = "webrtc"
)

// Model kinds.
const (
	ModelNone   = "none"
	ModelMock   = "mock"
	ModelYOLO   = "yolo"
	ModelFaces  = "faces"
	ModelRemote = "remote"
	ModelMulti  = "multi"
)

// Recorder kinds.
const (
	RecorderMock   = "mock"
	RecorderOpenCV = "opencv"
)

// Config holds everything needed to build an App.
// Flag parsing is done in cmd/lumina; this struct is data only.
type Config struct {
	LogLevel string

	// Addr is the control API listen address.
	Addr      string
	StaticDir string

	// DataDir holds stills, videos, the asset catalogue and temp files.
	DataDir string

	// Preset is the camera configuration applied at startup.
	Preset    string
	AutoStart bool

	Source         string
	Device         string // camera device ID; empty picks the first
	WebRTCURL      string // signalling server
	WebRTCProducer string
	ICEServers     []string

	Model         string
	YOLOPath      string
	FacesPath     string
	RemoteURL     string
	RemoteAPIKey  string
	MinConfidence float64

	AnnotationConcurrency int
	AnnotationTimeout     time.Duration

	Recorder string
	Codec    string

	PreviewQuality int
}

// DefaultConfig returns a configuration that runs without hardware.
func DefaultConfig() Config {
	return Config{
		LogLevel:              "info",
		Addr:                  ":8080",
		DataDir:               "data",
		Preset:                camera.PresetDefault,
		Source:                SourceMock,
		WebRTCURL:             "ws://localhost:8443",
		ICEServers:            []string{"stun:stun.l.google.com:19302"},
		Model:                 ModelNone,
		YOLOPath:              "models/yolov8n.onnx",
		FacesPath:             "models/face_detection_yunet.onnx",
		MinConfidence:         0.5,
		AnnotationConcurrency: 1,
		AnnotationTimeout:     2 * time.Second,
		Recorder:              RecorderMock,
		Codec:                 recorder.DefaultCodec,
		PreviewQuality:        70,
	}
}

// LoadEnvConfig applies LUMINA_* environment overrides.
// Call this after flag parsing.
func (c *Config) LoadEnvConfig() {
	c.LogLevel = config.Get("LUMINA_LOG_LEVEL", c.LogLevel)
	c.Addr = config.Get("LUMINA_ADDR", c.Addr)
	c.StaticDir = config.Get("LUMINA_STATIC_DIR", c.StaticDir)
	c.DataDir = config.Get("LUMINA_DATA_DIR", c.DataDir)
	c.Preset = config.Get("LUMINA_PRESET", c.Preset)
	c.AutoStart = config.GetBool("LUMINA_AUTOSTART", c.AutoStart)

	c.Source = config.Get("LUMINA_SOURCE", c.Source)
	c.Device = config.Get("LUMINA_DEVICE", c.Device)
	c.WebRTCURL = config.Get("LUMINA_WEBRTC_URL", c.WebRTCURL)
	c.WebRTCProducer = config.Get("LUMINA_WEBRTC_PRODUCER", c.WebRTCProducer)
	if v, ok := config.Lookup("LUMINA_ICE_SERVERS"); ok {
		c.ICEServers = splitList(v)
	}

	c.Model = config.Get("LUMINA_MODEL", c.Model)
	c.YOLOPath = config.Get("LUMINA_YOLO_MODEL", c.YOLOPath)
	c.FacesPath = config.Get("LUMINA_FACE_MODEL", c.FacesPath)
	c.RemoteURL = config.Get("LUMINA_REMOTE_URL", c.RemoteURL)
	c.RemoteAPIKey = config.Get("LUMINA_REMOTE_API_KEY", c.RemoteAPIKey)
	c.MinConfidence = config.GetFloat("LUMINA_MIN_CONFIDENCE", c.MinConfidence)
	c.AnnotationConcurrency = config.GetInt("LUMINA_ANNOTATION_CONCURRENCY", c.AnnotationConcurrency)
	c.AnnotationTimeout = config.GetDuration("LUMINA_ANNOTATION_TIMEOUT", c.AnnotationTimeout)

	c.Recorder = config.Get("LUMINA_RECORDER", c.Recorder)
	c.Codec = config.Get("LUMINA_CODEC", c.Codec)
	c.PreviewQuality = config.GetInt("LUMINA_PREVIEW_QUALITY", c.PreviewQuality)
}

// Validate checks the selections and their required settings.
func (c *Config) Validate() error {
	switch c.Source {
	case SourceMock, SourceCamera:
	case SourceWebRTC:
		if c.WebRTCURL == "" {
			return &ConfigError{Field: "WebRTCURL", Message: "LUMINA_WEBRTC_URL is required for the webrtc source"}
		}
	default:
		return &ConfigError{Field: "Source", Message: fmt.Sprintf("unknown source %q (mock, camera, webrtc)", c.Source)}
	}

	switch c.Model {
	case ModelNone, ModelMock, ModelYOLO, ModelFaces, ModelMulti:
	case ModelRemote:
		if c.RemoteURL == "" {
			return &ConfigError{Field: "RemoteURL", Message: "LUMINA_REMOTE_URL is required for the remote model"}
		}
	default:
		return &ConfigError{Field: "Model", Message: fmt.Sprintf("unknown model %q (none, mock, yolo, faces, remote, multi)", c.Model)}
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return &ConfigError{Field: "MinConfidence", Message: "min confidence must be between 0 and 1"}
	}
	if c.AnnotationConcurrency < 1 {
		return &ConfigError{Field: "AnnotationConcurrency", Message: "annotation concurrency must be at least 1"}
	}

	switch c.Recorder {
	case RecorderMock:
	case RecorderOpenCV:
		if len(c.Codec) != 4 {
			return &ConfigError{Field: "Codec", Message: fmt.Sprintf("codec %q is not a FourCC", c.Codec)}
		}
	default:
		return &ConfigError{Field: "Recorder", Message: fmt.Sprintf("unknown recorder %q (mock, opencv)", c.Recorder)}
	}

	if camera.GetPreset(c.Preset) == nil {
		return &ConfigError{Field: "Preset", Message: fmt.Sprintf("unknown preset %q", c.Preset)}
	}
	if c.DataDir == "" {
		return &ConfigError{Field: "DataDir", Message: "data directory is required"}
	}
	if c.PreviewQuality < 1 || c.PreviewQuality > 100 {
		return &ConfigError{Field: "PreviewQuality", Message: "preview quality must be between 1 and 100"}
	}
	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Message
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
