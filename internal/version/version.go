// Package version carries build metadata injected with -ldflags.
package version

import "fmt"

var (
	// Version is the release tag of splatprune.
	Version = "dev"
	// GitSHA is the commit the binary was built from.
	GitSHA = "unknown"
	// BuildTime is the build timestamp.
	BuildTime = "unknown"
)

// String formats the build metadata on one line.
func String() string {
	return fmt.Sprintf("splatprune %s (%s, built %s)", Version, GitSHA, BuildTime)
}
