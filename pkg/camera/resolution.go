package camera

// Resolution names a capture preset.
type Resolution string

const (
	// ResolutionPhoto uses the full sensor for stills. Video recording is
	// unavailable in this mode.
	ResolutionPhoto     Resolution = "photo"
	Resolution352x288   Resolution = "352x288"
	Resolution640x480   Resolution = "640x480"
	Resolution1280x720  Resolution = "1280x720"
	Resolution1920x1080 Resolution = "1920x1080"
	Resolution3840x2160 Resolution = "3840x2160"
)

// ResolutionSpec describes the frame size and the fastest frame rate allowed
// for a resolution regardless of source.
type ResolutionSpec struct {
	Width        int `json:"width"`
	Height       int `json:"height"`
	MaxFrameRate int `json:"max_frame_rate"`
}

var resolutionSpecs = map[Resolution]ResolutionSpec{
	ResolutionPhoto:     {Width: 4032, Height: 3024, MaxFrameRate: 30},
	Resolution352x288:   {Width: 352, Height: 288, MaxFrameRate: 240},
	Resolution640x480:   {Width: 640, Height: 480, MaxFrameRate: 240},
	Resolution1280x720:  {Width: 1280, Height: 720, MaxFrameRate: 240},
	Resolution1920x1080: {Width: 1920, Height: 1080, MaxFrameRate: 120},
	Resolution3840x2160: {Width: 3840, Height: 2160, MaxFrameRate: 60},
}

// Spec returns the resolution's dimensions and frame rate ceiling.
func (r Resolution) Spec() (ResolutionSpec, bool) {
	s, ok := resolutionSpecs[r]
	return s, ok
}

// Dimensions returns width and height in pixels, or zeros for an unknown resolution.
func (r Resolution) Dimensions() (width, height int) {
	s := resolutionSpecs[r]
	return s.Width, s.Height
}

// Resolutions returns every known resolution, smallest first.
func Resolutions() []Resolution {
	return []Resolution{
		Resolution352x288,
		Resolution640x480,
		Resolution1280x720,
		Resolution1920x1080,
		Resolution3840x2160,
		ResolutionPhoto,
	}
}
