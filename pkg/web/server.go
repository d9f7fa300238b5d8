// Package web serves the capture control API and the live event and
// preview websockets.
package web

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-lumina/pkg/camera"
	"github.com/teslashibe/go-lumina/pkg/capture"
	"github.com/teslashibe/go-lumina/pkg/hub"
	"github.com/teslashibe/go-lumina/pkg/library"
	"github.com/teslashibe/go-lumina/pkg/source"
)

// Session is the part of *capture.Session the API drives.
type Session interface {
	Config() camera.Config
	Configure(cfg camera.Config) error
	State() capture.State
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	CaptureStill() (capture.SinkID, error)
	StartRecording() (capture.SinkID, error)
	StopRecording(ctx context.Context) error
	Stats() capture.SessionStats
}

// LogLevel reads and changes the process log level.
type LogLevel interface {
	Level() string
	SetLevel(level string) error
}

// Server is the HTTP control API.
type Server struct {
	app     *fiber.App
	addr    string
	session Session
	store   library.Store
	levels  LogLevel
	devices func() []source.Device
	logger  *slog.Logger

	eventHub  *hub.Hub
	cameraHub *hub.Hub
	observer  *Observer

	stopTimeout time.Duration
	static      string

	mu           sync.Mutex
	cancelHubs   context.CancelFunc
	shutdownOnce sync.Once
	shutdownErr  error
}

// Option configures a Server.
type Option func(*Server)

// WithLibrary exposes a store under /api/assets.
func WithLibrary(s library.Store) Option {
	return func(srv *Server) { srv.store = s }
}

// WithLogLevel exposes /api/log/level.
func WithLogLevel(l LogLevel) Option {
	return func(srv *Server) { srv.levels = l }
}

// WithDevices exposes /api/devices.
func WithDevices(fn func() []source.Device) Option {
	return func(srv *Server) { srv.devices = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(srv *Server) {
		if l != nil {
			srv.logger = l
		}
	}
}

// WithStatic serves files from dir at /.
func WithStatic(dir string) Option {
	return func(srv *Server) { srv.static = dir }
}

// WithPreviewQuality sets the JPEG quality of /ws/camera frames.
func WithPreviewQuality(q int) Option {
	return func(srv *Server) {
		if q > 0 && q <= 100 {
			srv.observer.Quality = q
		}
	}
}

// NewServer builds the API for sess, listening on addr when started.
func NewServer(addr string, sess Session, opts ...Option) *Server {
	s := &Server{
		addr:        addr,
		session:     sess,
		logger:      slog.Default(),
		stopTimeout: 10 * time.Second,
	}
	s.observer = &Observer{Quality: DefaultPreviewQuality}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "web")
	s.eventHub = hub.New("events", s.logger)
	s.cameraHub = hub.New("camera", s.logger)
	s.observer.Events = s.eventHub
	s.observer.Camera = s.cameraHub
	s.observer.Logger = s.logger

	app := fiber.New(fiber.Config{
		AppName:               "lumina",
		DisableStartupMessage: true,
		ErrorHandler:          s.errorHandler,
	})
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "${time} ${status} ${method} ${path} ${latency}\n",
		Next:   func(c *fiber.Ctx) bool { return c.Path() == "/api/health" },
	}))
	app.Use(cors.New())

	if s.static != "" {
		app.Static("/", s.static)
	}

	api := app.Group("/api")
	api.Get("/health", s.handleHealth)
	api.Get("/config", s.handleGetConfig)
	api.Put("/config", s.handlePutConfig)
	api.Get("/presets", s.handlePresets)
	api.Post("/session/start", s.handleStart)
	api.Post("/session/stop", s.handleStop)
	api.Post("/still", s.handleStill)
	api.Post("/recording/start", s.handleRecordingStart)
	api.Post("/recording/stop", s.handleRecordingStop)
	api.Get("/stats", s.handleStats)
	api.Get("/assets", s.handleListAssets)
	api.Get("/assets/:id", s.handleGetAsset)
	api.Delete("/assets/:id", s.handleDeleteAsset)
	api.Get("/log/level", s.handleGetLogLevel)
	api.Put("/log/level", s.handleSetLogLevel)
	api.Get("/devices", s.handleDevices)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/events", websocket.New(s.handleEventsWS))
	app.Get("/ws/camera", websocket.New(s.handleCameraWS))

	s.app = app
	return s
}

// Observer returns the event forwarder. Subscribe its Handle to the session.
func (s *Server) Observer() *Observer { return s.observer }

// App returns the fiber app, for tests.
func (s *Server) App() *fiber.App { return s.app }

// Start runs the hubs and serves until ctx is cancelled or Listen fails.
func (s *Server) Start(ctx context.Context) error {
	hubCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancelHubs = cancel
	s.mu.Unlock()
	go s.eventHub.Run(hubCtx)
	go s.cameraHub.Run(hubCtx)

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", s.addr)
		errc <- s.app.Listen(s.addr)
	}()

	select {
	case err := <-errc:
		cancel()
		return err
	case <-ctx.Done():
		return s.Shutdown()
	}
}

// Shutdown stops the HTTP server and the hubs. Later calls return the
// first result.
func (s *Server) Shutdown() error {
	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		if s.cancelHubs != nil {
			s.cancelHubs()
		}
		s.mu.Unlock()
		err := s.app.ShutdownWithTimeout(s.stopTimeout)
		if err != nil && !errors.Is(err, context.Canceled) {
			s.shutdownErr = err
		}
	})
	return s.shutdownErr
}
