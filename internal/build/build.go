// Package build provides build-time metadata that is stamped in by the
// release pipeline via -ldflags.
package build

var (
	// Version is the release version of the binary (e.g. v1.2.3).
	Version = "dev"

	// Commit is the git commit hash the binary was built from.
	Commit = ""
)
