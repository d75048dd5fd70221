// Package version holds the build-time version variables for the pw binary.
// Release builds set them with -ldflags "-X .../internal/version.Version=...".
package version

import "fmt"

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// Info returns the text printed by `pw version`.
func Info() string {
	return fmt.Sprintf("pw version %s\ncommit: %s\nbuilt: %s\n", Version, Commit, Date)
}

// UserAgent identifies pw in outbound HTTP requests such as Slack webhooks.
func UserAgent() string {
	return "posture-watch/" + Version
}
