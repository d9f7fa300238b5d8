package camera

import (
	"errors"
	"math"
	"testing"
)

func TestDefaultConfigValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("DefaultConfig().Validate() = %v, want nil", err)
	}
}

func TestPresetsValid(t *testing.T) {
	for _, name := range PresetNames() {
		t.Run(name, func(t *testing.T) {
			cfg := GetPreset(name)
			if cfg == nil {
				t.Fatalf("GetPreset(%q) = nil", name)
			}
			if err := cfg.Validate(); err != nil {
				t.Errorf("preset %s invalid: %v", name, err)
			}
		})
	}
	if GetPreset("nope") != nil {
		t.Error("GetPreset(nope) should be nil")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"default", func(c *Config) {}, false},
		{"front", func(c *Config) { c.Position = PositionFront }, false},
		{"bad position", func(c *Config) { c.Position = "side" }, true},
		{"unknown resolution", func(c *Config) { c.Resolution = "123x456" }, true},
		{"zero frame rate", func(c *Config) { c.FrameRate = 0 }, true},
		{"frame rate above resolution max", func(c *Config) {
			c.Resolution = Resolution3840x2160
			c.FrameRate = 120
		}, true},
		{"zoom below one", func(c *Config) { c.MaxZoom = 0.5 }, true},
		{"zoom too large", func(c *Config) { c.MaxZoom = 20 }, true},
		{"zoom NaN", func(c *Config) { c.MaxZoom = math.NaN() }, true},
		{"zoom infinite", func(c *Config) { c.MaxZoom = math.Inf(1) }, true},
		{"zoom at limit", func(c *Config) { c.MaxZoom = MaxZoomLimit }, false},
		{"bad torch", func(c *Config) { c.Torch = "strobe" }, true},
		{"recording in photo mode", func(c *Config) {
			c.Resolution = ResolutionPhoto
			c.RecordsVideo = true
		}, true},
		{"photo mode without recording", func(c *Config) { c.Resolution = ResolutionPhoto }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			var ve *ValidationError
			if err != nil && !errors.As(err, &ve) {
				t.Errorf("Validate() error type = %T, want *ValidationError", err)
			}
		})
	}
}

func TestCheck(t *testing.T) {
	full := CapabilitySet{Features: map[Capability]bool{
		CapabilityTorch:       true,
		CapabilityDepth:       true,
		CapabilityLivePhoto:   true,
		CapabilityMetadata:    true,
		CapabilityFrontCamera: true,
		CapabilityZoom:        true,
	}}
	bare := CapabilitySet{Formats: map[Resolution]int{Resolution1920x1080: 30}}

	tests := []struct {
		name    string
		caps    CapabilitySet
		mutate  func(*Config)
		wantErr bool
	}{
		{"full default", full, func(c *Config) {}, false},
		{"bare default", bare, func(c *Config) {}, false},
		{"bare torch auto", bare, func(c *Config) { c.Torch = TorchAuto }, false},
		{"bare torch on", bare, func(c *Config) { c.Torch = TorchOn }, true},
		{"bare depth", bare, func(c *Config) { c.CapturesDepth = true }, true},
		{"bare live photo", bare, func(c *Config) { c.CapturesLivePhoto = true }, true},
		{"bare metadata", bare, func(c *Config) { c.TrackMetadata = true }, true},
		{"bare front", bare, func(c *Config) { c.Position = PositionFront }, true},
		{"bare zoom", bare, func(c *Config) { c.MaxZoom = 2 }, true},
		{"bare unsupported format", bare, func(c *Config) { c.FrameRate = 60 }, true},
		{"bare unlisted resolution", bare, func(c *Config) { c.Resolution = Resolution640x480 }, true},
		{"full depth", full, func(c *Config) { c.CapturesDepth = true }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := Check(cfg, tt.caps)
			if (err != nil) != tt.wantErr {
				t.Errorf("Check() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMirrored(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Mirrored() {
		t.Error("back camera should not be mirrored")
	}
	cfg.Position = PositionFront
	if !cfg.Mirrored() {
		t.Error("front camera with MirrorFrontCamera should be mirrored")
	}
	cfg.MirrorFrontCamera = false
	if cfg.Mirrored() {
		t.Error("front camera without MirrorFrontCamera should not be mirrored")
	}
}

func TestApplyParams(t *testing.T) {
	tests := []struct {
		name    string
		params  map[string]interface{}
		check   func(Config) bool
		wantErr bool
	}{
		{
			name:   "preset",
			params: map[string]interface{}{"preset": PresetSelfie},
			check:  func(c Config) bool { return c.Position == PositionFront },
		},
		{
			name:   "preset with override",
			params: map[string]interface{}{"preset": Preset720p, "frame_rate": float64(60)},
			check:  func(c Config) bool { return c.Resolution == Resolution1280x720 && c.FrameRate == 60 },
		},
		{
			name:   "booleans and torch",
			params: map[string]interface{}{"records_video": true, "torch": "auto"},
			check:  func(c Config) bool { return c.RecordsVideo && c.Torch == TorchAuto },
		},
		{
			name:   "unknown key ignored",
			params: map[string]interface{}{"shutter": 3},
			check:  func(c Config) bool { return c == DefaultConfig() },
		},
		{name: "unknown preset", params: map[string]interface{}{"preset": "nope"}, wantErr: true},
		{name: "wrong type", params: map[string]interface{}{"frame_rate": "fast"}, wantErr: true},
		{name: "fractional frame rate", params: map[string]interface{}{"frame_rate": 29.97}, wantErr: true},
		{name: "invalid result", params: map[string]interface{}{"max_zoom": 0.1}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ApplyParams(DefaultConfig(), tt.params)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ApplyParams() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.check != nil && !tt.check(got) {
				t.Errorf("ApplyParams() = %+v", got)
			}
		})
	}
}

func TestResolutionDimensions(t *testing.T) {
	w, h := Resolution1280x720.Dimensions()
	if w != 1280 || h != 720 {
		t.Errorf("Dimensions() = %dx%d, want 1280x720", w, h)
	}
	for _, r := range Resolutions() {
		if _, ok := r.Spec(); !ok {
			t.Errorf("Resolutions() contains unknown %s", r)
		}
	}
}
