// Package version holds build metadata set via -ldflags at build time.
package version

// Version and Commit are overridden at build time via:
//
//	-ldflags "-X github.com/wisbric/fleethub/internal/version.Version=... -X .../Commit=..."
var (
	Version = "dev"
	Commit  = "unknown"
)
