// lumina runs a camera capture session with live annotation, recording and
// a control API.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/teslashibe/go-lumina/internal/config"
	"github.com/teslashibe/go-lumina/internal/log"
	"github.com/teslashibe/go-lumina/pkg/camera"
	"github.com/teslashibe/go-lumina/pkg/lumina"
	"github.com/teslashibe/go-lumina/pkg/source"
)

func main() {
	envFile := flag.String("env", ".env", "Environment file to load (missing files are ignored)")
	listDevices := flag.Bool("list-devices", false, "List camera devices and exit")
	cfg := parseFlags()

	if _, err := config.Load(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "load %s: %v\n", *envFile, err)
		os.Exit(1)
	}

	if *listDevices {
		for _, d := range source.ListDevices() {
			fmt.Printf("%s\t%s\n", d.ID, d.Label)
		}
		return
	}

	log.Init(cfg.LogLevel)
	app, err := lumina.New(cfg)
	if err != nil {
		log.Error("configuration error", "error", err)
		os.Exit(1)
	}

	if err := app.Init(); err != nil {
		log.Error("initialization failed", "error", err)
		app.Shutdown()
		os.Exit(1)
	}
	defer app.Shutdown()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := app.Run(ctx); err != nil {
		log.Error("runtime error", "error", err)
		app.Shutdown()
		os.Exit(1)
	}
}

// parseFlags parses command line flags and returns configuration.
func parseFlags() lumina.Config {
	cfg := lumina.DefaultConfig()

	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn, error")
	flag.StringVar(&cfg.Addr, "addr", cfg.Addr, "Control API listen address")
	flag.StringVar(&cfg.StaticDir, "static", cfg.StaticDir, "Directory of static files served at /")
	flag.StringVar(&cfg.DataDir, "data", cfg.DataDir, "Directory for stills, videos and the asset library")
	flag.StringVar(&cfg.Preset, "preset", cfg.Preset, "Startup camera preset: "+strings.Join(camera.PresetNames(), ", "))
	flag.BoolVar(&cfg.AutoStart, "autostart", cfg.AutoStart, "Start capturing immediately")

	flag.StringVar(&cfg.Source, "source", cfg.Source, "Frame source: mock, camera, webrtc")
	flag.StringVar(&cfg.Device, "device", cfg.Device, "Camera device ID (see -list-devices)")
	flag.StringVar(&cfg.WebRTCURL, "webrtc-url", cfg.WebRTCURL, "WebRTC signalling server")
	flag.StringVar(&cfg.WebRTCProducer, "webrtc-producer", cfg.WebRTCProducer, "WebRTC producer name (empty picks the first)")
	ice := flag.String("ice", strings.Join(cfg.ICEServers, ","), "Comma separated ICE server URLs")

	flag.StringVar(&cfg.Model, "model", cfg.Model, "Annotation model: none, mock, yolo, faces, remote, multi")
	flag.StringVar(&cfg.YOLOPath, "yolo-model", cfg.YOLOPath, "YOLOv8 ONNX model path")
	flag.StringVar(&cfg.FacesPath, "face-model", cfg.FacesPath, "YuNet ONNX model path")
	flag.StringVar(&cfg.RemoteURL, "remote-url", cfg.RemoteURL, "Remote inference endpoint")
	flag.Float64Var(&cfg.MinConfidence, "min-confidence", cfg.MinConfidence, "Minimum detection confidence")
	flag.IntVar(&cfg.AnnotationConcurrency, "annotation-workers", cfg.AnnotationConcurrency, "Concurrent annotation slots")
	flag.DurationVar(&cfg.AnnotationTimeout, "annotation-timeout", cfg.AnnotationTimeout, "Per-frame inference timeout")

	flag.StringVar(&cfg.Recorder, "recorder", cfg.Recorder, "Video recorder: mock, opencv")
	flag.StringVar(&cfg.Codec, "codec", cfg.Codec, "OpenCV FourCC codec (mp4v, avc1, MJPG)")
	flag.IntVar(&cfg.PreviewQuality, "preview-quality", cfg.PreviewQuality, "JPEG quality of preview frames")

	flag.Parse()

	cfg.ICEServers = nil
	for _, s := range strings.Split(*ice, ",") {
		if s = strings.TrimSpace(s); s != "" {
			cfg.ICEServers = append(cfg.ICEServers, s)
		}
	}
	return cfg
}
