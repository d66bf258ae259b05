package paths

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStateDir_Priority(t *testing.T) {
	t.Setenv(EnvStateDir, "/override/state")
	require.Equal(t, "/override/state", StateDir())

	t.Setenv(EnvStateDir, "")
	t.Setenv("XDG_STATE_HOME", "/xdg/state")
	require.Equal(t, filepath.Join("/xdg/state", "forkpool"), StateDir())

	t.Setenv("XDG_STATE_HOME", "")
	t.Setenv("HOME", "/home/tester")
	require.Equal(t, filepath.Join("/home/tester", ".local", "state", "forkpool"), StateDir())
}

func TestConfigDir_Priority(t *testing.T) {
	t.Setenv(EnvConfigDir, "/override/config")
	require.Equal(t, "/override/config", ConfigDir())

	t.Setenv(EnvConfigDir, "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg/config")
	require.Equal(t, filepath.Join("/xdg/config", "forkpool"), ConfigDir())
	require.Equal(t, filepath.Join("/xdg/config", "forkpool", "traces", "traces.jsonl"), TracesFilePath())
}

func TestHistoryDBPath(t *testing.T) {
	t.Setenv(EnvStateDir, "/state")
	require.Equal(t, filepath.Join("/state", "history.db"), HistoryDBPath())
}

func TestShmDir_NotEmpty(t *testing.T) {
	require.NotEmpty(t, ShmDir())
}
