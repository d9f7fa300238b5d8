package source

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"
)

// Decoder turns an H264 Annex-B byte stream into the JPEG of its last frame.
type Decoder interface {
	Decode(ctx context.Context, annexB []byte) ([]byte, error)
}

// FFmpegDecoder pipes H264 through an ffmpeg process per call.
type FFmpegDecoder struct {
	Path    string        // ffmpeg binary, "ffmpeg" if empty
	Quality int           // mjpeg -q:v, 2 (best) to 31
	Timeout time.Duration // per call
}

// NewFFmpegDecoder returns a decoder with sensible defaults.
func NewFFmpegDecoder() *FFmpegDecoder {
	return &FFmpegDecoder{Path: "ffmpeg", Quality: 3, Timeout: 500 * time.Millisecond}
}

// Decode runs ffmpeg over annexB and returns the last decoded frame, or nil
// when the data held no complete frame.
func (d *FFmpegDecoder) Decode(ctx context.Context, annexB []byte) ([]byte, error) {
	if len(annexB) == 0 {
		return nil, nil
	}
	path := d.Path
	if path == "" {
		path = "ffmpeg"
	}
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, path,
		"-loglevel", "error",
		"-f", "h264",
		"-i", "pipe:0",
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", fmt.Sprint(d.Quality),
		"pipe:1",
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdin = bytes.NewReader(annexB)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil && stdout.Len() == 0 {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// Not enough data for a frame yet.
		return nil, nil
	}
	return lastJPEG(stdout.Bytes()), nil
}

// lastJPEG returns the last complete JPEG image in a concatenated mjpeg stream.
func lastJPEG(stream []byte) []byte {
	end := bytes.LastIndex(stream, []byte{0xff, 0xd9})
	if end < 0 {
		return nil
	}
	start := bytes.LastIndex(stream[:end], []byte{0xff, 0xd8, 0xff})
	if start < 0 {
		return nil
	}
	return stream[start : end+2]
}

// H264 NAL unit types used for stream handling.
const (
	nalIDR = 5
	nalSPS = 7
)

// nalTypes returns the NAL unit types found in an Annex-B buffer.
func nalTypes(annexB []byte) []byte {
	var types []byte
	for i := 0; i+3 < len(annexB); i++ {
		if annexB[i] != 0 || annexB[i+1] != 0 {
			continue
		}
		switch {
		case annexB[i+2] == 1:
			types = append(types, annexB[i+3]&0x1f)
			i += 2
		case annexB[i+2] == 0 && i+4 < len(annexB) && annexB[i+3] == 1:
			types = append(types, annexB[i+4]&0x1f)
			i += 3
		}
	}
	return types
}

// startsGOP reports whether an access unit can begin decoding: it carries an
// SPS or an IDR slice.
func startsGOP(au []byte) bool {
	for _, t := range nalTypes(au) {
		if t == nalSPS || t == nalIDR {
			return true
		}
	}
	return false
}
