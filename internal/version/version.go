// Package version reports build metadata for the safesend binaries.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
)

// Set with -ldflags "-X github.com/safesend/safesend/internal/version.Version=..." at build time.
var (
	Version    = "dev"
	CommitHash = ""
	BuildTime  = ""
)

// Build is the resolved build metadata.
type Build struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	BuildTime string `json:"build_time,omitempty"`
	GoVersion string `json:"go_version"`
	Modified  bool   `json:"modified,omitempty"`
}

var (
	once     sync.Once
	resolved Build
)

// Current returns the build metadata, falling back to the VCS stamp embedded
// by the Go toolchain when ldflags were not set.
func Current() Build {
	once.Do(func() {
		resolved = Build{
			Version:   Version,
			Commit:    CommitHash,
			BuildTime: BuildTime,
			GoVersion: runtime.Version(),
		}
		info, ok := debug.ReadBuildInfo()
		if !ok {
			return
		}
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				if resolved.Commit == "" {
					resolved.Commit = s.Value
				}
			case "vcs.time":
				if resolved.BuildTime == "" {
					resolved.BuildTime = s.Value
				}
			case "vcs.modified":
				resolved.Modified = s.Value == "true"
			}
		}
	})
	return resolved
}

// ShortCommit is the first seven characters of the commit hash.
func (b Build) ShortCommit() string {
	if len(b.Commit) > 7 {
		return b.Commit[:7]
	}
	return b.Commit
}

// GetInfo returns "version (commit)", or just the version without a commit.
func GetInfo() string {
	b := Current()
	res := b.Version
	if c := b.ShortCommit(); c != "" {
		if b.Modified {
			c += "-dirty"
		}
		res += fmt.Sprintf(" (%s)", c)
	}
	return res
}
