// Package buildinfo describes the build of the ivm binary. The fields are set by the linker, e.g.,
// -ldflags "-X main.version=v0.1.0".
package buildinfo

import "fmt"

// BuildInfo holds the version of the binary and the commit it was built from.
type BuildInfo struct {
	Version    string
	CommitHash string
	BuildDate  string
}

// String returns the build info as a string.
func (i BuildInfo) String() string {
	return fmt.Sprintf("version %s (%s) built on %s", i.Version, i.CommitHash, i.BuildDate)
}
