package daemon

import "fmt"

// SocketPath returns the daemon socket path for a profile
func SocketPath(profile string) string {
	if profile == "" {
		profile = "default"
	}
	return fmt.Sprintf("/tmp/lessonmate-%s.sock", profile)
}

// PidPath returns the pidfile path for a profile
func PidPath(profile string) string {
	if profile == "" {
		profile = "default"
	}
	return fmt.Sprintf("/tmp/lessonmate-%s.pid", profile)
}
