package config

import (
	"reflect"
	"strings"
)

// ConfigDiff describes what changed between two configs. Fields that can be
// applied to a running process are tracked individually; everything else is
// listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	DurationChanged  bool
	OutputDirChanged bool
	FormatChanged    bool
	DetectorChanged  bool

	// ModelPathChanged takes effect on the next listen start.
	ModelPathChanged bool

	// RestartRequired names the changed sections that are only read at
	// startup.
	RestartRequired []string
}

// Changed reports whether any hot-reloadable field changed.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.DurationChanged || d.OutputDirChanged ||
		d.FormatChanged || d.DetectorChanged || d.ModelPathChanged
}

// Diff compares old and new.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{
		LogLevelChanged:  old.Server.LogLevel != new.Server.LogLevel,
		NewLogLevel:      new.Server.LogLevel,
		DurationChanged:  old.Clip.DurationSeconds != new.Clip.DurationSeconds,
		OutputDirChanged: old.Clip.OutputDir != new.Clip.OutputDir,
		FormatChanged:    !strings.EqualFold(old.Clip.Format, new.Clip.Format),
		DetectorChanged:  !reflect.DeepEqual(old.Detector, new.Detector),
		ModelPathChanged: old.STT.ModelPath != new.STT.ModelPath,
	}

	sttOld, sttNew := old.STT, new.STT
	sttOld.ModelPath, sttNew.ModelPath = "", ""

	for _, s := range []struct {
		name    string
		changed bool
	}{
		{"server.listen_addr", old.Server.ListenAddr != new.Server.ListenAddr},
		{"clip.max_concurrent_saves", old.Clip.MaxConcurrentSaves != new.Clip.MaxConcurrentSaves},
		{"clip.max_queued_saves", old.Clip.QueuedSaves() != new.Clip.QueuedSaves()},
		{"video", old.Video != new.Video},
		{"audio", old.Audio != new.Audio},
		{"stt", !reflect.DeepEqual(sttOld, sttNew)},
		{"stt_fallbacks", !reflect.DeepEqual(old.STTFallbacks, new.STTFallbacks)},
		{"microphone", old.Microphone != new.Microphone},
		{"encoder", old.Encoder != new.Encoder},
		{"capture", !reflect.DeepEqual(old.Capture, new.Capture)},
	} {
		if s.changed {
			d.RestartRequired = append(d.RestartRequired, s.name)
		}
	}
	return d
}
