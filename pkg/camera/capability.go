package camera

import "fmt"

// Capability is an optional feature a frame source may provide.
type Capability string

const (
	CapabilityTorch       Capability = "torch"
	CapabilityDepth       Capability = "depth"
	CapabilityLivePhoto   Capability = "live_photo"
	CapabilityHEVC        Capability = "hevc"
	CapabilityMetadata    Capability = "metadata"
	CapabilityFrontCamera Capability = "front_camera"
	CapabilityZoom        Capability = "zoom"
)

// Capabilities is implemented by anything that can answer feature queries,
// normally a frame source.
type Capabilities interface {
	Supports(c Capability) bool
	SupportsFormat(r Resolution, frameRate int) bool
}

// Check verifies cfg against a source's capabilities. It is called once per
// configure, never per frame. Torch auto degrades silently; everything else
// that is requested but unsupported is an error.
func Check(cfg Config, caps Capabilities) error {
	var problems []string

	if !caps.SupportsFormat(cfg.Resolution, cfg.FrameRate) {
		problems = append(problems, fmt.Sprintf("source does not support %s at %dfps", cfg.Resolution, cfg.FrameRate))
	}
	if cfg.Position == PositionFront && !caps.Supports(CapabilityFrontCamera) {
		problems = append(problems, "source has no front camera")
	}
	if cfg.Torch == TorchOn && !caps.Supports(CapabilityTorch) {
		problems = append(problems, "source has no torch")
	}
	if cfg.MaxZoom > 1.0 && !caps.Supports(CapabilityZoom) {
		problems = append(problems, "source does not support zoom")
	}
	if cfg.CapturesDepth && !caps.Supports(CapabilityDepth) {
		problems = append(problems, "source does not deliver depth data")
	}
	if cfg.CapturesLivePhoto && !caps.Supports(CapabilityLivePhoto) {
		problems = append(problems, "source does not support live photos")
	}
	if cfg.TrackMetadata && !caps.Supports(CapabilityMetadata) {
		problems = append(problems, "source does not detect metadata")
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// CapabilitySet is a fixed Capabilities implementation, handy for sources
// whose features do not change at runtime.
type CapabilitySet struct {
	Features map[Capability]bool

	// Formats maps each supported resolution to its fastest frame rate.
	// A nil map accepts every resolution within its ResolutionSpec.
	Formats map[Resolution]int
}

// Supports reports whether the feature is present.
func (s CapabilitySet) Supports(c Capability) bool {
	return s.Features[c]
}

// SupportsFormat reports whether the resolution can be delivered at frameRate.
func (s CapabilitySet) SupportsFormat(r Resolution, frameRate int) bool {
	spec, ok := r.Spec()
	if !ok || frameRate < MinFrameRate {
		return false
	}
	if s.Formats == nil {
		return frameRate <= spec.MaxFrameRate
	}
	max, ok := s.Formats[r]
	return ok && frameRate <= max
}
