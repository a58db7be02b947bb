package utils

import (
	"os"
	"path/filepath"
	"strings"
)

// AppName is used for config, data and keyring locations
const AppName = "exchangesync"

// ExpandPath expands ~ and environment variables in file paths
// Examples:
//   - "~/data/mirror.db" -> "/home/user/data/mirror.db"
//   - "$HOME/data" -> "/home/user/data"
//   - "/abs/path" -> "/abs/path" (unchanged)
func ExpandPath(path string) (string, error) {
	if path == "" {
		return path, nil
	}

	path = os.ExpandEnv(path)

	if strings.HasPrefix(path, "~/") || path == "~" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		if path == "~" {
			return homeDir, nil
		}
		path = filepath.Join(homeDir, path[2:])
	}

	return path, nil
}

// ConfigDir returns $XDG_CONFIG_HOME/exchangesync (or the OS equivalent)
func ConfigDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, AppName), nil
}

// DataDir returns $XDG_DATA_HOME/exchangesync, falling back to ~/.local/share
func DataDir() (string, error) {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, AppName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".local", "share", AppName), nil
}
