package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

const (
	appDirName       = "voiceclip"
	defaultModelFile = "ggml-base.en.bin"
)

// DefaultModelPath returns where the whisper model is expected when
// stt.model_path is not set: a "models" directory under the per-user
// application data directory.
func DefaultModelPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(appDataDir(runtime.GOOS, home, os.Getenv("APPDATA")), "models", defaultModelFile)
}

// appDataDir returns the application data directory for goos.
func appDataDir(goos, home, appData string) string {
	switch goos {
	case "windows":
		if appData == "" {
			appData = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(appData, appDirName)
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", appDirName)
	default:
		return filepath.Join(home, "."+appDirName)
	}
}

// ExpandHome replaces a leading "~" in path with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") && !strings.HasPrefix(path, `~\`) {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
