package camera

import (
	"encoding/json"
	"fmt"
)

// ApplyParams returns a copy of cfg with the given fields overridden.
// A "preset" key replaces the base config before the other keys apply.
// Unknown keys are ignored; a value of the wrong type is an error.
// The result is validated.
func ApplyParams(cfg Config, params map[string]interface{}) (Config, error) {
	if name, ok := params["preset"].(string); ok {
		preset := GetPreset(name)
		if preset == nil {
			return cfg, fmt.Errorf("unknown preset: %s", name)
		}
		cfg = *preset
	}

	for key, value := range params {
		var ok bool
		switch key {
		case "preset":
			ok = true
		case "position":
			var v string
			if v, ok = value.(string); ok {
				cfg.Position = Position(v)
			}
		case "resolution":
			var v string
			if v, ok = value.(string); ok {
				cfg.Resolution = Resolution(v)
			}
		case "frame_rate":
			var v int
			if v, ok = toInt(value); ok {
				cfg.FrameRate = v
			}
		case "max_zoom":
			var v float64
			if v, ok = toFloat(value); ok {
				cfg.MaxZoom = v
			}
		case "torch":
			var v string
			if v, ok = value.(string); ok {
				cfg.Torch = TorchMode(v)
			}
		case "records_video":
			ok = setBool(&cfg.RecordsVideo, value)
		case "streams_frames":
			ok = setBool(&cfg.StreamsFrames, value)
		case "captures_depth":
			ok = setBool(&cfg.CapturesDepth, value)
		case "captures_live_photo":
			ok = setBool(&cfg.CapturesLivePhoto, value)
		case "track_metadata":
			ok = setBool(&cfg.TrackMetadata, value)
		case "captures_high_resolution":
			ok = setBool(&cfg.CapturesHighResolution, value)
		case "mirror_front_camera":
			ok = setBool(&cfg.MirrorFrontCamera, value)
		default:
			ok = true
		}
		if !ok {
			return cfg, fmt.Errorf("invalid value for %s: %v", key, value)
		}
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Helper functions for type conversion

func setBool(dst *bool, v interface{}) bool {
	b, ok := v.(bool)
	if ok {
		*dst = b
	}
	return ok
}

func toInt(v interface{}) (int, bool) {
	switch val := v.(type) {
	case int:
		return val, true
	case int64:
		return int(val), true
	case float64:
		if val != float64(int(val)) {
			return 0, false
		}
		return int(val), true
	case json.Number:
		i, err := val.Int64()
		if err == nil {
			return int(i), true
		}
	}
	return 0, false
}

func toFloat(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case json.Number:
		f, err := val.Float64()
		if err == nil {
			return f, true
		}
	}
	return 0, false
}
