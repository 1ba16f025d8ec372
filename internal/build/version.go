package build

import "fmt"

// These are set at link time via -ldflags "-X ...".
var (
	// Commit is the git commit the binary was built from.
	Commit = ""

	// Version is the semantic version of the release.
	Version = "0.1.0"
)

// VersionString returns the version with the commit appended when known.
func VersionString() string {
	if Commit == "" {
		return Version
	}

	return fmt.Sprintf("%s-%s", Version, Commit)
}
