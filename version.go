package clique

import (
	"fmt"

	"github.com/blockberries/clique/pkg/protocol"
)

// Release version of the library.
const (
	VersionMajor = 0
	VersionMinor = 3
	VersionPatch = 0
)

// Version returns the release version as "major.minor.patch".
func Version() string {
	return fmt.Sprintf("%d.%d.%d", VersionMajor, VersionMinor, VersionPatch)
}

// VersionInfo describes the release together with the range of wire
// protocol versions it negotiates, e.g. "clique 0.3.0 (protocols [0,1])".
func VersionInfo() string {
	return fmt.Sprintf("clique %s (protocols %s)", Version(), protocol.SupportedRange())
}
