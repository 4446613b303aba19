// Package version carries build metadata, set at link time with
//
//	-ldflags "-X github.com/banshee-data/envnode/internal/version.Version=..."
package version

import "fmt"

var (
	// Version is the current application version
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// String formats the build metadata for a -version flag.
func String(binary string) string {
	return fmt.Sprintf("%s %s (%s, built %s)", binary, Version, GitSHA, BuildTime)
}
