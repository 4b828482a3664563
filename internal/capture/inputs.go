package capture

// Input names an ffmpeg input device.
type Input struct {
	// Format is the ffmpeg demuxer, e.g. "x11grab". Empty disables the input.
	Format string

	// Device is the value passed to -i.
	Device string

	// Args are extra demuxer options placed before -i.
	Args []string
}

// VideoInputs holds the default screen capture input per GOOS.
var VideoInputs = map[string]Input{
	"linux":   {Format: "x11grab", Device: ":0.0"},
	"darwin":  {Format: "avfoundation", Device: "1:none", Args: []string{"-capture_cursor", "1"}},
	"windows": {Format: "gdigrab", Device: "desktop"},
}

// AudioInputs holds the default system audio input per GOOS.
var AudioInputs = map[string]Input{
	"linux":   {Format: "pulse", Device: "default"},
	"darwin":  {Format: "avfoundation", Device: "none:0"},
	"windows": {Format: "dshow", Device: "audio=Stereo Mix"},
}

// DefaultInputs returns the video and audio inputs for goos. Unknown
// platforms get zero inputs and must be configured explicitly.
func DefaultInputs(goos string) (video, audio Input) {
	return VideoInputs[goos], AudioInputs[goos]
}
