package paths

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDirs(t *testing.T) string {
	t.Helper()
	tmp := t.TempDir()
	t.Setenv("LESSONMATE_CONFIG_DIR", "")
	t.Setenv("LESSONMATE_STATE_DIR", "")
	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("XDG_STATE_HOME", "")
	t.Setenv("HOME", tmp)
	ResetForTest()
	t.Cleanup(ResetForTest)
	return tmp
}

func TestConfigDir(t *testing.T) {
	tmp := setupTestDirs(t)
	assert.Equal(t, filepath.Join(tmp, ".config", "lessonmate"), ConfigDir())
	assert.Equal(t, filepath.Join(tmp, ".config", "lessonmate", "config.yaml"), ConfigPath())

	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmp, "xdg"))
	ResetForTest()
	assert.Equal(t, filepath.Join(tmp, "xdg", "lessonmate"), ConfigDir())

	override := filepath.Join(tmp, "custom-config")
	t.Setenv("LESSONMATE_CONFIG_DIR", override)
	ResetForTest()
	assert.Equal(t, override, ConfigDir())
}

func TestStateDir(t *testing.T) {
	tmp := setupTestDirs(t)
	assert.Equal(t, filepath.Join(tmp, ".local", "state", "lessonmate"), StateDir())

	override := filepath.Join(tmp, "custom-state")
	t.Setenv("LESSONMATE_STATE_DIR", override)
	ResetForTest()
	assert.Equal(t, override, StateDir())
	assert.Equal(t, filepath.Join(override, "work.db"), StorePath("work"))
	assert.Equal(t, filepath.Join(override, "default.db"), StorePath(""))
	assert.Equal(t, filepath.Join(override, "bridge-token"), TokenPath())
	assert.Equal(t, filepath.Join(override, "daemon-default.log"), LogPath(""))
}

func TestStateDirIsCached(t *testing.T) {
	tmp := setupTestDirs(t)
	first := StateDir()
	t.Setenv("LESSONMATE_STATE_DIR", filepath.Join(tmp, "later"))
	assert.Equal(t, first, StateDir())
}

func TestEnsureStateDir_Creates(t *testing.T) {
	tmp := setupTestDirs(t)
	expected := filepath.Join(tmp, ".local", "state", "lessonmate")

	dir, err := EnsureStateDir()
	require.NoError(t, err)
	assert.Equal(t, expected, dir)
	info, err := os.Stat(expected)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
