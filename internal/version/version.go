package version

import (
	"fmt"
	"runtime"
)

// Build-time variables injected via ldflags.
var (
	Release   = "dev"
	GitCommit = "unknown"
)

// Short returns the release name.
func Short() string {
	return Release
}

// Full returns the version string in the format "release (commit)".
func Full() string {
	return fmt.Sprintf("%s (commit: %s)", Release, GitCommit)
}

// FullWithPlatform returns the version string with platform and Go
// toolchain information.
func FullWithPlatform() string {
	return fmt.Sprintf(
		"%s (commit: %s, %s/%s, %s)",
		Release, GitCommit, runtime.GOOS, runtime.GOARCH, runtime.Version(),
	)
}

// UserAgent returns the User-Agent sent by HTTP exports.
func UserAgent() string {
	return "bpfmetrics/" + Release
}
