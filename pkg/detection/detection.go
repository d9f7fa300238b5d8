// Package detection provides capture.Model implementations: object and face
// detection through OpenCV DNN, and a client for HTTP inference services.
package detection

import (
	"errors"
	"fmt"
	"image"
	"os"

	"github.com/teslashibe/go-lumina/pkg/capture"
)

// ErrModelNotFound is returned when a model file does not exist.
var ErrModelNotFound = errors.New("detection: model file not found")

// Config holds settings shared by the OpenCV detectors.
type Config struct {
	ModelPath        string  // path to the ONNX model
	ConfidenceThresh float32 // minimum score kept (0-1)
	NMSThresh        float32 // overlap threshold for non-maximum suppression
	InputWidth       int     // network input width
	InputHeight      int     // network input height
}

// DefaultYOLOConfig returns defaults for YOLOv8n.
func DefaultYOLOConfig() Config {
	return Config{
		ModelPath:        "models/yolov8n.onnx",
		ConfidenceThresh: 0.5,
		NMSThresh:        0.45,
		InputWidth:       640,
		InputHeight:      640,
	}
}

// DefaultFaceConfig returns defaults for the YuNet face model.
func DefaultFaceConfig() Config {
	return Config{
		ModelPath:        "models/face_detection_yunet.onnx",
		ConfidenceThresh: 0.5,
		NMSThresh:        0.3,
		InputWidth:       320,
		InputHeight:      320,
	}
}

// Validate checks thresholds and input size, and that the model file exists.
func (c Config) Validate() error {
	if c.ConfidenceThresh < 0 || c.ConfidenceThresh > 1 {
		return fmt.Errorf("detection: confidence threshold %.2f outside [0,1]", c.ConfidenceThresh)
	}
	if c.NMSThresh < 0 || c.NMSThresh > 1 {
		return fmt.Errorf("detection: nms threshold %.2f outside [0,1]", c.NMSThresh)
	}
	if c.InputWidth <= 0 || c.InputHeight <= 0 {
		return fmt.Errorf("detection: invalid input size %dx%d", c.InputWidth, c.InputHeight)
	}
	if _, err := os.Stat(c.ModelPath); err != nil {
		return fmt.Errorf("%w: %s", ErrModelNotFound, c.ModelPath)
	}
	return nil
}

// scaleBox converts a center-format box in network input coordinates to a
// pixel rectangle in the source image.
func scaleBox(cx, cy, w, h, imgW, imgH float32, inW, inH int) image.Rectangle {
	sx := imgW / float32(inW)
	sy := imgH / float32(inH)
	return image.Rect(
		int((cx-w/2)*sx),
		int((cy-h/2)*sy),
		int((cx+w/2)*sx),
		int((cy+h/2)*sy),
	)
}

// normalize maps a pixel rectangle to [0,1] frame coordinates, clipped to
// the image.
func normalize(r image.Rectangle, imgW, imgH int) (x, y, w, h float64) {
	if imgW <= 0 || imgH <= 0 {
		return 0, 0, 0, 0
	}
	r = r.Intersect(image.Rect(0, 0, imgW, imgH))
	fw, fh := float64(imgW), float64(imgH)
	return float64(r.Min.X) / fw, float64(r.Min.Y) / fh, float64(r.Dx()) / fw, float64(r.Dy()) / fh
}

// Filter keeps predictions at or above minConfidence. When labels are given
// only those labels are kept.
func Filter(preds []capture.Prediction, minConfidence float64, labels ...string) []capture.Prediction {
	want := make(map[string]bool, len(labels))
	for _, l := range labels {
		want[l] = true
	}
	var out []capture.Prediction
	for _, p := range preds {
		if p.Confidence < minConfidence {
			continue
		}
		if len(want) > 0 && !want[p.Label] {
			continue
		}
		out = append(out, p)
	}
	return out
}
