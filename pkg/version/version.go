package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Version information - using semantic versioning
const (
	Major      = 0
	Minor      = 4
	Patch      = 0
	PreRelease = "" // e.g., "alpha", "rc1"
	Name       = "ledgerview"
)

// Set with -ldflags "-X github.com/leadfive/ledgerview/pkg/version.GitCommit=..."
var (
	GitCommit = ""
	BuildDate = ""
)

// Version returns the semantic version string
func Version() string {
	v := fmt.Sprintf("%d.%d.%d", Major, Minor, Patch)
	if PreRelease != "" {
		v += "-" + PreRelease
	}
	return v
}

// BuildInfo is reported by the health endpoint
type BuildInfo struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	GitCommit string `json:"git_commit,omitempty"`
	BuildDate string `json:"build_date,omitempty"`
	Modified  bool   `json:"modified,omitempty"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// GetBuildInfo returns build information, falling back to the VCS stamp
// embedded by the Go toolchain when ldflags were not set
func GetBuildInfo() *BuildInfo {
	info := &BuildInfo{
		Name:      Name,
		Version:   Version(),
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}

	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if info.GitCommit == "" {
					info.GitCommit = s.Value
				}
			case "vcs.time":
				if info.BuildDate == "" {
					info.BuildDate = s.Value
				}
			case "vcs.modified":
				info.Modified = s.Value == "true"
			}
		}
	}
	return info
}

// ShortCommit returns the first 7 characters of the commit, if known
func (b *BuildInfo) ShortCommit() string {
	if len(b.GitCommit) >= 7 {
		return b.GitCommit[:7]
	}
	return b.GitCommit
}

// GetFullVersionString returns a one-line description for startup logs
func GetFullVersionString() string {
	b := GetBuildInfo()
	result := fmt.Sprintf("%s v%s", b.Name, b.Version)
	if c := b.ShortCommit(); c != "" {
		result += fmt.Sprintf(" (commit: %s)", c)
	}
	if b.BuildDate != "" {
		result += fmt.Sprintf(" (built: %s)", b.BuildDate)
	}
	result += fmt.Sprintf(" (go: %s, platform: %s)", b.GoVersion, b.Platform)
	return result
}
