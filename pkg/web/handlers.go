package web

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-lumina/pkg/camera"
	"github.com/teslashibe/go-lumina/pkg/capture"
	"github.com/teslashibe/go-lumina/pkg/hub"
	"github.com/teslashibe/go-lumina/pkg/library"
)

// stopWait bounds how long stop requests wait for sinks to drain.
const stopWait = 10 * time.Second

// statusFor maps an error to an HTTP status.
func statusFor(err error) int {
	var fe *fiber.Error
	var ve *camera.ValidationError
	switch {
	case errors.As(err, &fe):
		return fe.Code
	case errors.Is(err, library.ErrNotFound):
		return fiber.StatusNotFound
	case errors.As(err, &ve), capture.Kind(err) == capture.KindConfig:
		return fiber.StatusBadRequest
	case errors.Is(err, capture.ErrInvalidState),
		errors.Is(err, capture.ErrNotConfigured),
		errors.Is(err, capture.ErrAlreadyRecording),
		errors.Is(err, capture.ErrNotRecording),
		errors.Is(err, capture.ErrRecordingDisabled),
		errors.Is(err, capture.ErrNoRecorder):
		return fiber.StatusConflict
	default:
		return fiber.StatusInternalServerError
	}
}

func (s *Server) errorHandler(c *fiber.Ctx, err error) error {
	code := statusFor(err)
	if code >= fiber.StatusInternalServerError {
		s.logger.Error("request failed", "method", c.Method(), "path", c.Path(), "error", err)
	}
	body := fiber.Map{"error": err.Error()}
	if kind := capture.Kind(err); kind != "" && kind != capture.KindUnknown {
		body["kind"] = kind
	}
	return c.Status(code).JSON(body)
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok", "state": s.session.State()})
}

func (s *Server) handleGetConfig(c *fiber.Ctx) error {
	return c.JSON(s.session.Config())
}

// handlePutConfig applies a partial update, optionally starting from a
// preset, and configures the session with the result.
func (s *Server) handlePutConfig(c *fiber.Ctx) error {
	var params map[string]interface{}
	if err := json.Unmarshal(c.Body(), &params); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid JSON body: "+err.Error())
	}
	cfg, err := camera.ApplyParams(s.session.Config(), params)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if err := s.session.Configure(cfg); err != nil {
		return err
	}
	return c.JSON(cfg)
}

func (s *Server) handlePresets(c *fiber.Ctx) error {
	return c.JSON(camera.Presets())
}

// handleStart configures an idle session with its current config first.
func (s *Server) handleStart(c *fiber.Ctx) error {
	if s.session.State() == capture.StateIdle {
		if err := s.session.Configure(s.session.Config()); err != nil {
			return err
		}
	}
	if err := s.session.Start(c.UserContext()); err != nil {
		return err
	}
	return c.JSON(s.session.Stats())
}

func (s *Server) handleStop(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), stopWait)
	defer cancel()
	if err := s.session.Stop(ctx); err != nil {
		return err
	}
	return c.JSON(s.session.Stats())
}

func (s *Server) handleStill(c *fiber.Ctx) error {
	id, err := s.session.CaptureStill()
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"sink": id})
}

func (s *Server) handleRecordingStart(c *fiber.Ctx) error {
	id, err := s.session.StartRecording()
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"sink": id})
}

func (s *Server) handleRecordingStop(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), stopWait)
	defer cancel()
	if err := s.session.StopRecording(ctx); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"recording": false})
}

// StatsResponse is returned by GET /api/stats.
type StatsResponse struct {
	Session capture.SessionStats `json:"session"`
	Hubs    []hub.Stats          `json:"hubs"`
	Assets  int                  `json:"assets"`
}

func (s *Server) handleStats(c *fiber.Ctx) error {
	resp := StatsResponse{
		Session: s.session.Stats(),
		Hubs:    []hub.Stats{s.eventHub.Stats(), s.cameraHub.Stats()},
	}
	if s.store != nil {
		resp.Assets = s.store.Count()
	}
	return c.JSON(resp)
}

func (s *Server) requireLibrary() error {
	if s.store == nil {
		return fiber.NewError(fiber.StatusNotFound, "asset library disabled")
	}
	return nil
}

func (s *Server) handleListAssets(c *fiber.Ctx) error {
	if err := s.requireLibrary(); err != nil {
		return err
	}
	kind := library.Kind(c.Query("kind"))
	switch kind {
	case "", library.KindStill, library.KindVideo:
	default:
		return fiber.NewError(fiber.StatusBadRequest, "kind must be still or video")
	}
	assets, err := s.store.List(kind)
	if err != nil {
		return err
	}
	return c.JSON(assets)
}

func (s *Server) handleGetAsset(c *fiber.Ctx) error {
	if err := s.requireLibrary(); err != nil {
		return err
	}
	a, err := s.store.Get(c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(a)
}

func (s *Server) handleDeleteAsset(c *fiber.Ctx) error {
	if err := s.requireLibrary(); err != nil {
		return err
	}
	if err := s.store.Delete(c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

type logLevelRequest struct {
	Level string `json:"level"`
}

func (s *Server) handleGetLogLevel(c *fiber.Ctx) error {
	if s.levels == nil {
		return fiber.ErrNotFound
	}
	return c.JSON(fiber.Map{"level": s.levels.Level()})
}

func (s *Server) handleSetLogLevel(c *fiber.Ctx) error {
	if s.levels == nil {
		return fiber.ErrNotFound
	}
	var req logLevelRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid JSON body: "+err.Error())
	}
	if err := s.levels.SetLevel(req.Level); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	s.logger.Info("log level changed", "level", s.levels.Level())
	return c.JSON(fiber.Map{"level": s.levels.Level()})
}

func (s *Server) handleDevices(c *fiber.Ctx) error {
	if s.devices == nil {
		return c.JSON([]struct{}{})
	}
	return c.JSON(s.devices())
}

// handleEventsWS sends the current stats, then streams events.
func (s *Server) handleEventsWS(conn *websocket.Conn) {
	if err := conn.WriteJSON(fiber.Map{"type": "hello", "stats": s.session.Stats()}); err != nil {
		conn.Close()
		return
	}
	hub.NewClient(s.eventHub, conn).Run()
}

// handleCameraWS streams JPEG preview frames.
func (s *Server) handleCameraWS(conn *websocket.Conn) {
	hub.NewClient(s.cameraHub, conn).Run()
}
