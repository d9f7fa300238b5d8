package lumina

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/teslashibe/go-lumina/pkg/capture"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	cfg.DataDir = t.TempDir()
	cfg.Model = ModelMock
	return cfg
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Source = "nope"
	var ce *ConfigError
	if _, err := New(cfg); !errors.As(err, &ce) {
		t.Errorf("New() = %v, want ConfigError", err)
	}

	cfg = testConfig(t)
	cfg.LogLevel = "chatty"
	if _, err := New(cfg); !errors.As(err, &ce) || ce.Field != "LogLevel" {
		t.Errorf("New() = %v, want LogLevel ConfigError", err)
	}
}

func TestInit(t *testing.T) {
	cfg := testConfig(t)
	cfg.Preset = "720p"
	app, err := New(cfg)
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	if err := app.Init(); err != nil {
		t.Fatalf("Init() = %v", err)
	}
	defer app.Shutdown()

	if got := app.Session().State(); got != capture.StateConfiguring {
		t.Errorf("State() = %v, want configuring", got)
	}
	if got := app.Session().Config().Resolution; got != "1280x720" {
		t.Errorf("Resolution = %s, want 1280x720", got)
	}
	for _, dir := range []string{stillsDir, videosDir, tempDir} {
		if _, err := os.Stat(filepath.Join(cfg.DataDir, dir)); err != nil {
			t.Errorf("missing %s: %v", dir, err)
		}
	}
}

func TestInitMissingModel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Model = ModelYOLO
	cfg.YOLOPath = filepath.Join(t.TempDir(), "absent.onnx")
	app, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := app.Init(); err == nil {
		app.Shutdown()
		t.Fatal("Init() succeeded without a model file")
	}
}

func TestRunAutoStart(t *testing.T) {
	cfg := testConfig(t)
	cfg.AutoStart = true
	app, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := app.Init(); err != nil {
		t.Fatal(err)
	}
	defer app.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	deadline := time.Now().Add(3 * time.Second)
	for app.Session().Stats().FramesCaptured < 3 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := app.Session().Stats().FramesCaptured; got < 3 {
		t.Fatalf("FramesCaptured = %d, want at least 3", got)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() = %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}

func TestRunBeforeInit(t *testing.T) {
	app, err := New(testConfig(t))
	if err != nil {
		t.Fatal(err)
	}
	if err := app.Run(context.Background()); err == nil {
		t.Error("Run() before Init succeeded")
	}
}
