// Package source provides capture.Source adapters: a local webcam read
// through pion/mediadevices and a remote WebRTC producer decoded with ffmpeg.
package source

import (
	"image"
	"sync"
	"time"

	"github.com/teslashibe/go-lumina/pkg/camera"
)

// WebcamCapabilities is what a typical USB or laptop camera offers: no
// torch, depth, HEVC or code detection, and modest frame rates.
func WebcamCapabilities() camera.CapabilitySet {
	return camera.CapabilitySet{
		Features: map[camera.Capability]bool{},
		Formats: map[camera.Resolution]int{
			camera.Resolution352x288:   30,
			camera.Resolution640x480:   30,
			camera.Resolution1280x720:  30,
			camera.Resolution1920x1080: 30,
		},
	}
}

// stamper turns wall-clock offsets into strictly increasing timestamps.
type stamper struct {
	mu    sync.Mutex
	start time.Time
	last  time.Duration
}

func (s *stamper) reset(now time.Time) {
	s.mu.Lock()
	s.start = now
	s.mu.Unlock()
}

// next returns the offset of now from the last reset, bumped past the
// previous value when the clock did not advance. Values keep increasing
// across resets.
func (s *stamper) next(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.start.IsZero() {
		s.start = now
	}
	ts := s.last + now.Sub(s.start)
	if ts <= s.last {
		ts = s.last + time.Microsecond
	}
	s.start = now
	s.last = ts
	return ts
}

// Brightness returns the mean luma of img in [0,1], sampled on a 10x10 grid.
func Brightness(img image.Image) float64 {
	b := img.Bounds()
	if b.Empty() {
		return 0
	}
	stepX := max(b.Dx()/10, 1)
	stepY := max(b.Dy()/10, 1)

	var sum float64
	samples := 0
	for y := b.Min.Y; y < b.Max.Y; y += stepY {
		for x := b.Min.X; x < b.Max.X; x += stepX {
			r, g, bl, _ := img.At(x, y).RGBA()
			sum += (0.299*float64(r) + 0.587*float64(g) + 0.114*float64(bl)) / 0xffff
			samples++
		}
	}
	return sum / float64(samples)
}

// IsBlank reports whether img looks like a decoder placeholder: nearly
// black, or a uniform mid gray.
func IsBlank(img image.Image) bool {
	b := img.Bounds()
	if b.Dx() < 16 || b.Dy() < 16 {
		return true
	}
	stepX, stepY := b.Dx()/10, b.Dy()/10

	var rSum, gSum, bSum, samples int
	for y := b.Min.Y; y < b.Max.Y; y += stepY {
		for x := b.Min.X; x < b.Max.X; x += stepX {
			r, g, bl, _ := img.At(x, y).RGBA()
			rSum += int(r >> 8)
			gSum += int(g >> 8)
			bSum += int(bl >> 8)
			samples++
		}
	}
	avgR, avgG, avgB := rSum/samples, gSum/samples, bSum/samples

	if avgR < 30 && avgG < 30 && avgB < 30 {
		return true
	}
	diff := abs(avgR-avgG) + abs(avgG-avgB) + abs(avgR-avgB)
	return diff < 15 && avgR > 100 && avgR < 150
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
