package lumina

import (
	"errors"
	"testing"
	"time"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantField string
	}{
		{"defaults", func(c *Config) {}, ""},
		{"camera source", func(c *Config) { c.Source = SourceCamera }, ""},
		{"unknown source", func(c *Config) { c.Source = "scanner" }, "Source"},
		{"webrtc without url", func(c *Config) { c.Source = SourceWebRTC; c.WebRTCURL = "" }, "WebRTCURL"},
		{"remote without url", func(c *Config) { c.Model = ModelRemote }, "RemoteURL"},
		{"remote with url", func(c *Config) { c.Model = ModelRemote; c.RemoteURL = "http://infer:9000" }, ""},
		{"unknown model", func(c *Config) { c.Model = "gpt" }, "Model"},
		{"confidence", func(c *Config) { c.MinConfidence = 1.5 }, "MinConfidence"},
		{"concurrency", func(c *Config) { c.AnnotationConcurrency = 0 }, "AnnotationConcurrency"},
		{"opencv codec", func(c *Config) { c.Recorder = RecorderOpenCV; c.Codec = "h264x" }, "Codec"},
		{"unknown recorder", func(c *Config) { c.Recorder = "ffmpeg" }, "Recorder"},
		{"unknown preset", func(c *Config) { c.Preset = "night" }, "Preset"},
		{"no data dir", func(c *Config) { c.DataDir = "" }, "DataDir"},
		{"preview quality", func(c *Config) { c.PreviewQuality = 0 }, "PreviewQuality"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantField == "" {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			var ce *ConfigError
			if !errors.As(err, &ce) || ce.Field != tt.wantField {
				t.Errorf("Validate() = %v, want ConfigError on %s", err, tt.wantField)
			}
		})
	}
}

func TestLoadEnvConfig(t *testing.T) {
	t.Setenv("LUMINA_SOURCE", "webrtc")
	t.Setenv("LUMINA_WEBRTC_URL", "ws://robot:8443")
	t.Setenv("LUMINA_ICE_SERVERS", "stun:a:3478, stun:b:3478,")
	t.Setenv("LUMINA_AUTOSTART", "yes")
	t.Setenv("LUMINA_MIN_CONFIDENCE", "0.25")
	t.Setenv("LUMINA_ANNOTATION_TIMEOUT", "750")
	t.Setenv("LUMINA_ANNOTATION_CONCURRENCY", "lots")

	cfg := DefaultConfig()
	cfg.LoadEnvConfig()

	if cfg.Source != SourceWebRTC || cfg.WebRTCURL != "ws://robot:8443" {
		t.Errorf("source = %s %s", cfg.Source, cfg.WebRTCURL)
	}
	if len(cfg.ICEServers) != 2 || cfg.ICEServers[1] != "stun:b:3478" {
		t.Errorf("ICEServers = %v", cfg.ICEServers)
	}
	if !cfg.AutoStart {
		t.Error("AutoStart not set")
	}
	if cfg.MinConfidence != 0.25 {
		t.Errorf("MinConfidence = %v, want 0.25", cfg.MinConfidence)
	}
	if cfg.AnnotationTimeout != 750*time.Millisecond {
		t.Errorf("AnnotationTimeout = %v, want 750ms", cfg.AnnotationTimeout)
	}
	if cfg.AnnotationConcurrency != 1 {
		t.Errorf("malformed concurrency changed value to %d", cfg.AnnotationConcurrency)
	}
	if cfg.Addr != ":8080" {
		t.Errorf("unset Addr changed to %q", cfg.Addr)
	}
}
