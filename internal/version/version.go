// Package version carries build metadata stamped in with -ldflags.
package version

import (
	"fmt"
	"runtime"
)

var (
	// Version is the current application version
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// String is the one-line form printed by -version and logged at startup.
func String(program string) string {
	return fmt.Sprintf("%s %s (%s, built %s, %s)", program, Version, GitSHA, BuildTime, runtime.Version())
}
