package version

import "fmt"

var (
	// Version is the semantic version of the binary. Overridden at build time.
	Version = "dev"
	// Commit is the git commit hash. Overridden at build time.
	Commit = "unknown"
	// BuildDate is the build timestamp. Overridden at build time.
	BuildDate = "unknown"
)

// UserAgent is the default User-Agent sent to the NAV/price API.
func UserAgent() string {
	return fmt.Sprintf("navtracker/%s", Version)
}
