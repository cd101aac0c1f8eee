// Package version exposes build metadata injected with -ldflags.
package version

import (
	"runtime"
	"runtime/debug"
)

// Set at build time:
//
//	-ldflags "-X .../version.Version=v1.2.3 -X .../version.Commit=abc123 -X .../version.BuildTime=..."
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
}

// Get returns the build information. When Commit was not injected it falls
// back to the VCS revision recorded by the Go toolchain.
func Get() Info {
	info := Info{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
	}
	if info.Commit == "unknown" {
		if rev, ok := vcsRevision(); ok {
			info.Commit = rev
		}
	}
	return info
}

func vcsRevision() (string, bool) {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return "", false
	}
	for _, s := range bi.Settings {
		if s.Key == "vcs.revision" && s.Value != "" {
			if len(s.Value) > 12 {
				return s.Value[:12], true
			}
			return s.Value, true
		}
	}
	return "", false
}
