package core

// Build metadata, set at build time via ldflags:
//
//	go build -ldflags "-X insightpdf/core.Version=$(git describe --tags --always) \
//	  -X insightpdf/core.BuildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ) \
//	  -X insightpdf/core.GitCommit=$(git rev-parse --short HEAD)" .
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// GetVersionInfo returns a formatted version string such as
// "v1.0.0 (built 2024-01-15T10:30:00Z, commit abc1234)".
func GetVersionInfo() string {
	return Version + " (built " + BuildTime + ", commit " + GitCommit + ")"
}
