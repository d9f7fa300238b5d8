package detection

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sync"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-lumina/pkg/capture"
)

// YOLO runs a YOLOv8 ONNX model through OpenCV DNN. It implements
// capture.Model; calls are serialized because a gocv.Net is not safe for
// concurrent use.
type YOLO struct {
	net       gocv.Net
	cfg       Config
	inputSize image.Point
	logger    *slog.Logger

	mu sync.Mutex
}

// NewYOLO loads the model at cfg.ModelPath.
func NewYOLO(cfg Config, logger *slog.Logger) (*YOLO, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	net := gocv.ReadNetFromONNX(cfg.ModelPath)
	if net.Empty() {
		return nil, fmt.Errorf("detection: failed to load YOLO model from %s", cfg.ModelPath)
	}
	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	return &YOLO{
		net:       net,
		cfg:       cfg,
		inputSize: image.Pt(cfg.InputWidth, cfg.InputHeight),
		logger:    logger.With("component", "detection.yolo"),
	}, nil
}

// Name implements capture.Model.
func (d *YOLO) Name() string { return "yolo" }

// Infer implements capture.Model.
func (d *YOLO) Infer(ctx context.Context, f *capture.Frame) ([]capture.Prediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	img, err := frameMat(f)
	if err != nil {
		return nil, err
	}
	defer img.Close()

	d.mu.Lock()
	defer d.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	blob := gocv.BlobFromImage(img, 1.0/255.0, d.inputSize, gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	output := d.net.Forward("")
	defer output.Close()

	preds, err := d.parse(output, img.Cols(), img.Rows())
	if err != nil {
		return nil, err
	}
	if len(preds) > 0 {
		d.logger.Debug("objects detected", "seq", f.Seq, "count", len(preds))
	}
	return preds, nil
}

// parse reads the [1, 84, N] YOLOv8 output: 4 box values then 80 class
// scores per candidate, stored column major.
func (d *YOLO) parse(output gocv.Mat, imgW, imgH int) ([]capture.Prediction, error) {
	sizes := output.Size()
	if len(sizes) != 3 || sizes[1] < 5 {
		return nil, fmt.Errorf("detection: unexpected YOLO output shape %v", sizes)
	}
	attrs, n := sizes[1], sizes[2]

	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("detection: read output: %w", err)
	}

	var (
		boxes       []image.Rectangle
		confidences []float32
		classIDs    []int
	)
	for i := 0; i < n; i++ {
		best, bestID := float32(0), 0
		for c := 4; c < attrs; c++ {
			if s := data[c*n+i]; s > best {
				best, bestID = s, c-4
			}
		}
		if best < d.cfg.ConfidenceThresh {
			continue
		}
		box := scaleBox(data[i], data[n+i], data[2*n+i], data[3*n+i],
			float32(imgW), float32(imgH), d.cfg.InputWidth, d.cfg.InputHeight)
		boxes = append(boxes, box)
		confidences = append(confidences, best)
		classIDs = append(classIDs, bestID)
	}
	if len(boxes) == 0 {
		return nil, nil
	}

	indices := gocv.NMSBoxes(boxes, confidences, d.cfg.ConfidenceThresh, d.cfg.NMSThresh)
	preds := make([]capture.Prediction, 0, len(indices))
	for _, idx := range indices {
		x, y, w, h := normalize(boxes[idx], imgW, imgH)
		preds = append(preds, capture.Prediction{
			Label:      Label(classIDs[idx]),
			Confidence: float64(confidences[idx]),
			X:          x,
			Y:          y,
			W:          w,
			H:          h,
		})
	}
	return preds, nil
}

// Close releases the network.
func (d *YOLO) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.net.Close()
	return nil
}
