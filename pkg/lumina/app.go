package lumina

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/teslashibe/go-lumina/internal/log"
	"github.com/teslashibe/go-lumina/pkg/camera"
	"github.com/teslashibe/go-lumina/pkg/capture"
	"github.com/teslashibe/go-lumina/pkg/detection"
	"github.com/teslashibe/go-lumina/pkg/library"
	"github.com/teslashibe/go-lumina/pkg/recorder"
	"github.com/teslashibe/go-lumina/pkg/source"
	"github.com/teslashibe/go-lumina/pkg/web"
)

// Data directory layout.
const (
	stillsDir   = "stills"
	videosDir   = "videos"
	tempDir     = "tmp"
	catalogFile = "library.json"
)

// App owns the session and everything around it.
type App struct {
	config Config
	logger *slog.Logger

	source  capture.Source
	model   capture.Model
	closers []io.Closer

	session *capture.Session
	store   *library.JSONStore
	server  *web.Server

	unsubscribe []func()
}

// New creates an app. Environment overrides are applied before validation.
func New(cfg Config) (*App, error) {
	cfg.LoadEnvConfig()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := log.Component("app")
	if err := log.SetLevel(cfg.LogLevel); err != nil {
		return nil, &ConfigError{Field: "LogLevel", Message: err.Error()}
	}
	return &App{
		config: cfg,
		logger: logger,
	}, nil
}

// Config returns the effective configuration.
func (a *App) Config() Config { return a.config }

// Session returns the capture session. Nil before Init.
func (a *App) Session() *capture.Session { return a.session }

// Server returns the control API. Nil before Init.
func (a *App) Server() *web.Server { return a.server }

// Init builds every component and applies the startup preset.
// Call this after New() and before Run().
func (a *App) Init() error {
	a.logger.Info("initializing",
		"source", a.config.Source,
		"model", a.config.Model,
		"recorder", a.config.Recorder,
		"data_dir", a.config.DataDir,
	)

	for _, dir := range []string{stillsDir, videosDir, tempDir} {
		if err := os.MkdirAll(filepath.Join(a.config.DataDir, dir), 0o755); err != nil {
			return fmt.Errorf("data dir: %w", err)
		}
	}

	src, err := a.buildSource()
	if err != nil {
		return fmt.Errorf("source: %w", err)
	}
	a.source = src

	model, err := a.buildModel()
	if err != nil {
		a.closeModels()
		return fmt.Errorf("model: %w", err)
	}
	a.model = model

	rec, ext := a.buildRecorder()

	opts := []capture.SessionOption{
		capture.WithLogger(log.Component("capture")),
		capture.WithRecorder(rec),
		capture.WithRecordDir(filepath.Join(a.config.DataDir, videosDir)),
		capture.WithRecordExtension(ext),
		capture.WithTempDir(filepath.Join(a.config.DataDir, tempDir)),
		capture.WithAnnotationConcurrency(a.config.AnnotationConcurrency),
		capture.WithAnnotationTimeout(a.config.AnnotationTimeout),
	}
	if model != nil {
		opts = append(opts, capture.WithModel(model))
	}
	a.session = capture.NewSession(src, opts...)

	a.store, err = library.NewJSONStore(filepath.Join(a.config.DataDir, catalogFile))
	if err != nil {
		return fmt.Errorf("library: %w", err)
	}

	serverOpts := []web.Option{
		web.WithLibrary(a.store),
		web.WithLogLevel(logLevels{}),
		web.WithLogger(log.L()),
		web.WithPreviewQuality(a.config.PreviewQuality),
	}
	if a.config.Source == SourceCamera {
		serverOpts = append(serverOpts, web.WithDevices(source.ListDevices))
	}
	if a.config.StaticDir != "" {
		serverOpts = append(serverOpts, web.WithStatic(a.config.StaticDir))
	}
	a.server = web.NewServer(a.config.Addr, a.session, serverOpts...)

	forward := a.server.Observer()
	lib := &library.Observer{
		Store:   a.store,
		Dir:     filepath.Join(a.config.DataDir, stillsDir),
		Logger:  log.Component("library"),
		OnAdded: forward.AssetAdded,
	}
	a.unsubscribe = append(a.unsubscribe,
		a.session.Subscribe(capture.LogObserver{Logger: log.Component("events")}),
		a.session.SubscribeFunc(lib.Handle),
		a.session.SubscribeFunc(forward.Handle),
	)

	preset := camera.GetPreset(a.config.Preset)
	if err := a.session.Configure(*preset); err != nil {
		return fmt.Errorf("preset %s: %w", a.config.Preset, err)
	}
	a.logger.Info("initialized", "session", a.session.ID(), "assets", a.store.Count())
	return nil
}

func (a *App) buildSource() (capture.Source, error) {
	switch a.config.Source {
	case SourceCamera:
		return source.NewCamera(
			source.WithDevice(a.config.Device),
			source.WithCameraLogger(log.Component("source.camera")),
		), nil
	case SourceWebRTC:
		opts := []source.WebRTCOption{source.WithWebRTCLogger(log.Component("source.webrtc"))}
		if a.config.WebRTCProducer != "" {
			opts = append(opts, source.WithProducer(a.config.WebRTCProducer))
		}
		if len(a.config.ICEServers) > 0 {
			opts = append(opts, source.WithICEServers(a.config.ICEServers...))
		}
		return source.NewWebRTC(a.config.WebRTCURL, opts...), nil
	case SourceMock:
		return capture.NewMockSource(capture.WithFrameInterval(time.Second / 30)), nil
	default:
		return nil, fmt.Errorf("unknown source %q", a.config.Source)
	}
}

func (a *App) buildModel() (capture.Model, error) {
	switch a.config.Model {
	case ModelNone:
		return nil, nil
	case ModelMock:
		return capture.NewMockModel(), nil
	case ModelYOLO:
		return a.yolo()
	case ModelFaces:
		return a.faces()
	case ModelRemote:
		return a.remote(), nil
	case ModelMulti:
		var models []capture.Model
		if m, err := a.yolo(); err == nil {
			models = append(models, m)
		} else {
			a.logger.Warn("yolo unavailable", "error", err)
		}
		if m, err := a.faces(); err == nil {
			models = append(models, m)
		} else {
			a.logger.Warn("face detector unavailable", "error", err)
		}
		if a.config.RemoteURL != "" {
			models = append(models, a.remote())
		}
		return capture.NewMultiModel(log.Component("models"), models...)
	default:
		return nil, fmt.Errorf("unknown model %q", a.config.Model)
	}
}

func (a *App) yolo() (capture.Model, error) {
	cfg := detection.DefaultYOLOConfig()
	cfg.ModelPath = a.config.YOLOPath
	cfg.ConfidenceThresh = float32(a.config.MinConfidence)
	d, err := detection.NewYOLO(cfg, log.Component("detection.yolo"))
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, d)
	return d, nil
}

func (a *App) faces() (capture.Model, error) {
	cfg := detection.DefaultFaceConfig()
	cfg.ModelPath = a.config.FacesPath
	cfg.ConfidenceThresh = float32(a.config.MinConfidence)
	d, err := detection.NewFaces(cfg, log.Component("detection.faces"))
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, d)
	return d, nil
}

func (a *App) remote() capture.Model {
	return detection.NewRemote(a.config.RemoteURL,
		detection.WithAPIKey(a.config.RemoteAPIKey),
		detection.WithMinConfidence(a.config.MinConfidence),
	)
}

// buildRecorder returns the recorder and the file extension it writes.
func (a *App) buildRecorder() (capture.Recorder, string) {
	if a.config.Recorder == RecorderOpenCV {
		return recorder.NewOpenCV(
			recorder.WithCodec(a.config.Codec),
			recorder.WithLogger(log.L()),
		), recorder.Ext(a.config.Codec)
	}
	return capture.NewMockRecorder(), ".mp4"
}

// Run serves the control API until ctx is cancelled. With AutoStart the
// session starts capturing immediately.
func (a *App) Run(ctx context.Context) error {
	if a.session == nil {
		return errors.New("lumina: Run called before Init")
	}

	errc := make(chan error, 1)
	go func() { errc <- a.server.Start(ctx) }()

	if a.config.AutoStart {
		if err := a.session.Start(ctx); err != nil {
			a.logger.Error("autostart failed", "error", err)
		}
	}

	a.logger.Info("running", "addr", a.config.Addr)
	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("web server: %w", err)
		}
		return nil
	case <-ctx.Done():
		return <-errc
	}
}

// Shutdown stops the session and releases every component.
func (a *App) Shutdown() {
	a.logger.Info("shutting down")
	if a.session != nil {
		if err := a.session.Close(); err != nil {
			a.logger.Warn("session close", "error", err)
		}
	}
	for _, unsub := range a.unsubscribe {
		unsub()
	}
	if a.server != nil {
		if err := a.server.Shutdown(); err != nil {
			a.logger.Warn("web shutdown", "error", err)
		}
	}
	a.closeModels()
}

func (a *App) closeModels() {
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			a.logger.Warn("close model", "error", err)
		}
	}
	a.closers = nil
}

// logLevels adapts the process logger to web.LogLevel.
type logLevels struct{}

func (logLevels) Level() string            { return log.Level() }
func (logLevels) SetLevel(lvl string) error { return log.SetLevel(lvl) }
