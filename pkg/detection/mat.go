package detection

import (
	"fmt"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-lumina/pkg/capture"
)

// frameMat decodes a frame into a BGR Mat. The caller closes it.
func frameMat(f *capture.Frame) (gocv.Mat, error) {
	switch f.Format {
	case capture.FormatJPEG:
		img, err := gocv.IMDecode(f.Data, gocv.IMReadColor)
		if err != nil {
			return gocv.NewMat(), fmt.Errorf("decode image: %w", err)
		}
		if img.Empty() {
			img.Close()
			return gocv.NewMat(), fmt.Errorf("empty image")
		}
		return img, nil
	case capture.FormatRGBA:
		rgba, err := gocv.NewMatFromBytes(f.Height, f.Width, gocv.MatTypeCV8UC4, f.Data)
		if err != nil {
			return gocv.NewMat(), fmt.Errorf("wrap rgba: %w", err)
		}
		defer rgba.Close()
		bgr := gocv.NewMat()
		gocv.CvtColor(rgba, &bgr, gocv.ColorRGBAToBGR)
		return bgr, nil
	default:
		return gocv.NewMat(), fmt.Errorf("unsupported pixel format %q", f.Format)
	}
}
