// Package paths resolves where lessonmate keeps its config and state.
//
// Layout (XDG-style):
//
//	Config:  $XDG_CONFIG_HOME/lessonmate/config.yaml   (override: LESSONMATE_CONFIG_DIR)
//	State:   $XDG_STATE_HOME/lessonmate/               (override: LESSONMATE_STATE_DIR)
//	Runtime: /tmp/lessonmate-<profile>.{sock,pid}
package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const appName = "lessonmate"

type cachedDir struct {
	once sync.Once
	dir  string
}

var (
	configDir cachedDir
	stateDir  cachedDir
)

// resolve picks override, then $xdgEnv/lessonmate, then ~/<fallback>/lessonmate.
func (c *cachedDir) resolve(override, xdgEnv string, fallback ...string) string {
	c.once.Do(func() {
		if env := os.Getenv(override); env != "" {
			c.dir = env
			return
		}
		if xdg := os.Getenv(xdgEnv); xdg != "" {
			c.dir = filepath.Join(xdg, appName)
			return
		}
		home, err := os.UserHomeDir()
		if err != nil {
			c.dir = "."
			return
		}
		c.dir = filepath.Join(append(append([]string{home}, fallback...), appName)...)
	})
	return c.dir
}

// ConfigDir resolves the config directory.
func ConfigDir() string {
	return configDir.resolve("LESSONMATE_CONFIG_DIR", "XDG_CONFIG_HOME", ".config")
}

// StateDir resolves the state directory.
func StateDir() string {
	return stateDir.resolve("LESSONMATE_STATE_DIR", "XDG_STATE_HOME", ".local", "state")
}

// ConfigPath returns the full path to config.yaml.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// StatePath returns the full path to a state file.
func StatePath(filename string) string {
	return filepath.Join(StateDir(), filename)
}

// StorePath is the default sqlite database for a profile.
func StorePath(profile string) string {
	if profile == "" {
		profile = "default"
	}
	return StatePath(profile + ".db")
}

// TokenPath is the default websocket bridge token file.
func TokenPath() string {
	return StatePath("bridge-token")
}

// LogPath is the default daemon log file for a profile.
func LogPath(profile string) string {
	if profile == "" {
		profile = "default"
	}
	return StatePath(fmt.Sprintf("daemon-%s.log", profile))
}

// EnsureStateDir creates the state directory if it doesn't exist and returns its path.
func EnsureStateDir() (string, error) {
	dir := StateDir()
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("create state dir %s: %w", dir, err)
	}
	return dir, nil
}

// ResetForTest clears cached values so tests can re-run resolution logic.
// Only use in tests.
func ResetForTest() {
	configDir = cachedDir{}
	stateDir = cachedDir{}
}
