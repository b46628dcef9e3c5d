package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

const appName = "lumen"

// GetConfigDir holds settings.toml: ~/.config/lumen on every platform.
func GetConfigDir() string {
	return filepath.Join(GetHomeDir(), ".config", appName)
}

// GetDefaultDataDir is ~/.local/share/lumen, or %LOCALAPPDATA%\lumen on
// Windows.
func GetDefaultDataDir() string {
	if runtime.GOOS != "windows" {
		return filepath.Join(GetHomeDir(), ".local", "share", appName)
	}

	base := os.Getenv("LOCALAPPDATA")
	if base == "" {
		base = filepath.Join(GetHomeDir(), "AppData", "Local")
	}
	return filepath.Join(base, appName)
}

func GetSettingsFilePath() string {
	return filepath.Join(GetConfigDir(), "settings.toml")
}

// GetHomeDir never returns an empty string; it falls back to the
// filesystem root when no home is set.
func GetHomeDir() string {
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return home
	}
	if runtime.GOOS == "windows" {
		if home := os.Getenv("HOMEDRIVE") + os.Getenv("HOMEPATH"); home != "" {
			return home
		}
		return `C:\`
	}
	return "/"
}

// ExpandPath resolves a leading ~ and $VARS. Empty stays empty.
func ExpandPath(path string) string {
	switch {
	case path == "":
		return ""
	case path == "~":
		return GetHomeDir()
	case strings.HasPrefix(path, "~/"):
		path = filepath.Join(GetHomeDir(), path[2:])
	}
	return filepath.Clean(os.ExpandEnv(path))
}

// EnsureDir creates path with user-only access.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0700)
}

func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// EnsureDataDirPermissions creates dataDir or tightens it to 0700; it holds
// keys and conversations.
func EnsureDataDirPermissions(dataDir string) error {
	info, err := os.Stat(dataDir)
	if os.IsNotExist(err) {
		return EnsureDir(dataDir)
	}
	if err != nil {
		return err
	}

	if info.Mode().Perm() != 0700 {
		return os.Chmod(dataDir, 0700)
	}
	return nil
}
