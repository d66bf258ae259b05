// Package paths resolves the directories forkpool reads and writes.
// It follows XDG base directories with fallbacks for platforms where XDG
// isn't set.
package paths

import (
	"os"
	"path/filepath"
)

const appName = "forkpool"

// Environment overrides.
const (
	EnvStateDir  = "FORKPOOL_STATE_DIR"
	EnvConfigDir = "FORKPOOL_CONFIG_DIR"
)

// StateDir returns the directory for persistent state (run history).
// Priority: $FORKPOOL_STATE_DIR > $XDG_STATE_HOME/forkpool > ~/.local/state/forkpool
func StateDir() string {
	if v := os.Getenv(EnvStateDir); v != "" {
		return v
	}
	if base := os.Getenv("XDG_STATE_HOME"); base != "" {
		return filepath.Join(base, appName)
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return filepath.Join(home, ".local", "state", appName)
	}
	return filepath.Join(os.TempDir(), appName+"-state")
}

// ConfigDir returns the user-level configuration directory.
// Priority: $FORKPOOL_CONFIG_DIR > $XDG_CONFIG_HOME/forkpool > ~/.config/forkpool
func ConfigDir() string {
	if v := os.Getenv(EnvConfigDir); v != "" {
		return v
	}
	if base := os.Getenv("XDG_CONFIG_HOME"); base != "" {
		return filepath.Join(base, appName)
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return filepath.Join(home, ".config", appName)
	}
	return ""
}

// ShmDir returns the directory backing shared memory segments: /dev/shm when
// it is a usable directory (a tmpfs on Linux), the temp dir otherwise.
func ShmDir() string {
	if info, err := os.Stat("/dev/shm"); err == nil && info.IsDir() {
		return "/dev/shm"
	}
	return os.TempDir()
}

// HistoryDBPath returns the default run history database path.
func HistoryDBPath() string {
	return filepath.Join(StateDir(), "history.db")
}

// TracesFilePath returns the default file exporter output path, or "" when no
// config dir can be resolved.
func TracesFilePath() string {
	dir := ConfigDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "traces", "traces.jsonl")
}
