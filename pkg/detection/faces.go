package detection

import (
	"context"
	"image"
	"log/slog"
	"sync"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-lumina/pkg/capture"
)

// Faces detects faces with OpenCV's FaceDetectorYN (YuNet).
type Faces struct {
	detector gocv.FaceDetectorYN
	cfg      Config
	logger   *slog.Logger

	mu sync.Mutex
}

// NewFaces loads the YuNet model at cfg.ModelPath.
func NewFaces(cfg Config, logger *slog.Logger) (*Faces, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	// The input size is reset per frame.
	detector := gocv.NewFaceDetectorYNWithParams(
		cfg.ModelPath,
		"",
		image.Pt(cfg.InputWidth, cfg.InputHeight),
		cfg.ConfidenceThresh,
		cfg.NMSThresh,
		5000,
		int(gocv.NetBackendDefault),
		int(gocv.NetTargetCPU),
	)

	return &Faces{
		detector: detector,
		cfg:      cfg,
		logger:   logger.With("component", "detection.faces"),
	}, nil
}

// Name implements capture.Model.
func (d *Faces) Name() string { return "faces" }

// Infer implements capture.Model. Every prediction is labelled "face".
func (d *Faces) Infer(ctx context.Context, f *capture.Frame) ([]capture.Prediction, error) {
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

	d.detector.SetInputSize(image.Pt(img.Cols(), img.Rows()))
	faces := gocv.NewMat()
	defer faces.Close()
	d.detector.Detect(img, &faces)

	// Rows: x, y, w, h, five landmark pairs, score.
	preds := make([]capture.Prediction, 0, faces.Rows())
	for r := 0; r < faces.Rows(); r++ {
		box := image.Rect(
			int(faces.GetFloatAt(r, 0)),
			int(faces.GetFloatAt(r, 1)),
			int(faces.GetFloatAt(r, 0)+faces.GetFloatAt(r, 2)),
			int(faces.GetFloatAt(r, 1)+faces.GetFloatAt(r, 3)),
		)
		x, y, w, h := normalize(box, img.Cols(), img.Rows())
		preds = append(preds, capture.Prediction{
			Label:      "face",
			Confidence: float64(faces.GetFloatAt(r, 14)),
			X:          x,
			Y:          y,
			W:          w,
			H:          h,
		})
	}
	if len(preds) > 0 {
		d.logger.Debug("faces detected", "seq", f.Seq, "count", len(preds))
	}
	return preds, nil
}

// Close releases the detector.
func (d *Faces) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.detector.Close()
	return nil
}
