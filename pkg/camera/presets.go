package camera

// Preset names for common configurations
const (
	PresetDefault  = "default"
	PresetLegacy   = "legacy"
	Preset720p     = "720p"
	Preset1080p    = "1080p"
	Preset4K       = "4k"
	PresetPhoto    = "photo"
	PresetSelfie   = "selfie"
	PresetRecorder = "recorder"
	PresetScanner  = "scanner"
	PresetDepth    = "depth"
)

// Presets returns all available preset configurations.
func Presets() map[string]Config {
	return map[string]Config{
		PresetDefault:  DefaultConfig(),
		PresetLegacy:   LegacyConfig(),
		Preset720p:     HD720Config(),
		Preset1080p:    HD1080Config(),
		Preset4K:       UHD4KConfig(),
		PresetPhoto:    PhotoConfig(),
		PresetSelfie:   SelfieConfig(),
		PresetRecorder: RecorderConfig(),
		PresetScanner:  ScannerConfig(),
		PresetDepth:    DepthConfig(),
	}
}

// PresetNames returns the list of available preset names.
func PresetNames() []string {
	return []string{
		PresetDefault,
		PresetLegacy,
		Preset720p,
		Preset1080p,
		Preset4K,
		PresetPhoto,
		PresetSelfie,
		PresetRecorder,
		PresetScanner,
		PresetDepth,
	}
}

// GetPreset returns a preset config by name, or nil if not found.
func GetPreset(name string) *Config {
	if cfg, ok := Presets()[name]; ok {
		return &cfg
	}
	return nil
}

// LegacyConfig returns a 640x480 configuration for slow sources.
func LegacyConfig() Config {
	cfg := DefaultConfig()
	cfg.Resolution = Resolution640x480
	return cfg
}

// HD720Config returns 720p HD configuration.
func HD720Config() Config {
	cfg := DefaultConfig()
	cfg.Resolution = Resolution1280x720
	return cfg
}

// HD1080Config returns 1080p Full HD configuration.
func HD1080Config() Config {
	cfg := DefaultConfig()
	cfg.Resolution = Resolution1920x1080
	return cfg
}

// UHD4KConfig returns 4K UHD configuration at a lower frame rate.
func UHD4KConfig() Config {
	cfg := DefaultConfig()
	cfg.Resolution = Resolution3840x2160
	cfg.FrameRate = 15
	return cfg
}

// PhotoConfig uses the full sensor for stills. Streaming stays on for preview.
func PhotoConfig() Config {
	cfg := DefaultConfig()
	cfg.Resolution = ResolutionPhoto
	cfg.CapturesHighResolution = true
	cfg.Torch = TorchAuto
	return cfg
}

// SelfieConfig uses the front camera with mirrored recordings.
func SelfieConfig() Config {
	cfg := DefaultConfig()
	cfg.Position = PositionFront
	cfg.Resolution = Resolution1280x720
	cfg.MirrorFrontCamera = true
	return cfg
}

// RecorderConfig enables video recording at 1080p.
func RecorderConfig() Config {
	cfg := DefaultConfig()
	cfg.RecordsVideo = true
	return cfg
}

// ScannerConfig tracks machine-readable codes at a modest resolution.
func ScannerConfig() Config {
	cfg := DefaultConfig()
	cfg.Resolution = Resolution1280x720
	cfg.TrackMetadata = true
	return cfg
}

// DepthConfig delivers depth data with every frame.
func DepthConfig() Config {
	cfg := DefaultConfig()
	cfg.Resolution = Resolution640x480
	cfg.CapturesDepth = true
	return cfg
}
