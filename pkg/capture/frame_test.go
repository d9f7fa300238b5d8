package capture

import (
	"image"
	"image/color"
	"sync"
	"testing"
)

func TestFrameReleaseRunsOnceAfterLastHolder(t *testing.T) {
	calls := 0
	f := &Frame{}
	f.OnRelease(func() { calls++ })

	f.Retain()
	f.Retain()
	if got := f.Refs(); got != 3 {
		t.Fatalf("Refs() = %d, want 3", got)
	}

	f.Release()
	f.Release()
	if calls != 0 || f.Released() {
		t.Fatalf("released early: calls=%d released=%v", calls, f.Released())
	}

	f.Release()
	if calls != 1 || !f.Released() {
		t.Fatalf("after last release: calls=%d released=%v", calls, f.Released())
	}

	f.Release()
	if calls != 1 {
		t.Errorf("extra release ran hook again: calls=%d", calls)
	}
	if got := f.Refs(); got != 0 {
		t.Errorf("Refs() after release = %d, want 0", got)
	}
}

func TestFrameConcurrentHolders(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	f := &Frame{}
	f.OnRelease(func() {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	const holders = 50
	var wg sync.WaitGroup
	for i := 0; i < holders; i++ {
		f.Retain()
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.Release()
		}()
	}
	wg.Wait()
	f.Release()

	if calls != 1 {
		t.Errorf("hook ran %d times, want 1", calls)
	}
}

func TestFrameWithoutHook(t *testing.T) {
	f := &Frame{}
	f.Release()
	if !f.Released() {
		t.Error("zero frame should be released after one Release")
	}
}

func TestDepthMapAt(t *testing.T) {
	d := &DepthMap{Width: 2, Height: 2, Data: []float32{1, 2, 3, 4}}
	tests := []struct {
		x, y int
		want float32
	}{
		{0, 0, 1},
		{1, 0, 2},
		{0, 1, 3},
		{1, 1, 4},
		{2, 0, 0},
		{-1, 0, 0},
	}
	for _, tt := range tests {
		if got := d.At(tt.x, tt.y); got != tt.want {
			t.Errorf("At(%d,%d) = %v, want %v", tt.x, tt.y, got, tt.want)
		}
	}
	var nilMap *DepthMap
	if got := nilMap.At(0, 0); got != 0 {
		t.Errorf("nil At = %v, want 0", got)
	}
}

func TestFrameImageAndJPEG(t *testing.T) {
	rgba := image.NewRGBA(image.Rect(0, 0, 4, 2))
	rgba.Set(1, 1, color.RGBA{R: 255, A: 255})
	raw := &Frame{Data: rgba.Pix, Format: FormatRGBA, Width: 4, Height: 2}

	img, err := raw.Image()
	if err != nil {
		t.Fatalf("Image() = %v", err)
	}
	if r, _, _, _ := img.At(1, 1).RGBA(); r>>8 != 255 {
		t.Errorf("pixel (1,1) red = %d, want 255", r>>8)
	}

	data, err := raw.JPEG(90)
	if err != nil {
		t.Fatalf("JPEG() = %v", err)
	}
	encoded := &Frame{Data: data, Format: FormatJPEG}
	img, err = encoded.Image()
	if err != nil {
		t.Fatalf("Image() of encoded frame = %v", err)
	}
	if b := img.Bounds(); b.Dx() != 4 || b.Dy() != 2 {
		t.Errorf("decoded size = %v, want 4x2", b)
	}
	if same, _ := encoded.JPEG(90); &same[0] != &data[0] {
		t.Error("JPEG() re-encoded a JPEG frame")
	}

	short := &Frame{Data: make([]byte, 3), Format: FormatRGBA, Width: 4, Height: 2}
	if _, err := short.Image(); err == nil {
		t.Error("Image() accepted a truncated rgba frame")
	}
}
