// Package version carries build metadata injected with -ldflags.
package version

var (
	// Version is the release tag of the screener binary.
	Version = "dev"
	Commit  = "unknown"
	// BuildDate is an RFC 3339 timestamp set by the release build.
	BuildDate = "unknown"
)
