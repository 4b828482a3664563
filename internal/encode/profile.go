package encode

import "strconv"

// Profile holds the output codec settings for one platform.
type Profile struct {
	VideoCodec        string
	Preset            string
	OutputPixelFormat string
	VideoProfile      string

	// Level is the H.264 level. Empty omits the flag.
	Level string

	// ExtraArgs are appended after the frame rate, before the output path.
	ExtraArgs []string

	AudioCodec   string
	AudioBitrate string
}

// DefaultProfile applies to Linux, Windows and any platform without its own
// entry in Profiles.
var DefaultProfile = Profile{
	VideoCodec:        "libx264",
	Preset:            "ultrafast",
	OutputPixelFormat: "yuv420p",
	VideoProfile:      "baseline",
	Level:             "3.0",
	AudioCodec:        "aac",
	AudioBitrate:      "192k",
}

// Profiles maps GOOS values to platform-specific profiles.
var Profiles = map[string]Profile{
	"darwin": {
		VideoCodec:        "h264",
		Preset:            "ultrafast",
		OutputPixelFormat: "yuv420p",
		VideoProfile:      "high",
		ExtraArgs:         []string{"-movflags", "+faststart", "-strict", "experimental"},
		AudioCodec:        "aac",
		AudioBitrate:      "192k",
	},
}

// ProfileFor returns the profile for goos, falling back to DefaultProfile.
func ProfileFor(goos string) Profile {
	if p, ok := Profiles[goos]; ok {
		return p
	}
	return DefaultProfile
}

// Args builds the ffmpeg argument list for job, excluding the binary name.
func (p Profile) Args(job Job) []string {
	v := job.Video
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "rawvideo",
		"-vcodec", "rawvideo",
		"-s", strconv.Itoa(v.Width) + "x" + strconv.Itoa(v.Height),
		"-pix_fmt", v.PixelFormat,
		"-framerate", strconv.Itoa(v.FrameRate),
		"-i", job.VideoPath,
	}
	if job.AudioPath != "" {
		args = append(args,
			"-i", job.AudioPath,
			"-c:a", p.AudioCodec,
			"-b:a", p.AudioBitrate,
		)
	}
	args = append(args,
		"-c:v", p.VideoCodec,
		"-preset", p.Preset,
		"-pix_fmt", p.OutputPixelFormat,
		"-profile:v", p.VideoProfile,
	)
	if p.Level != "" {
		args = append(args, "-level", p.Level)
	}
	args = append(args, "-r", strconv.Itoa(v.FrameRate))
	args = append(args, p.ExtraArgs...)
	return append(args, "-y", job.OutputPath)
}
