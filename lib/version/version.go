// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
)

// Set via -ldflags. Empty GitCommit and BuildTime fall back to the VCS
// stamp the go command embeds.
var (
	Version   = "0.1.0-dev"
	GitCommit = ""
	BuildTime = ""
)

// Build describes the running binary.
type Build struct {
	Version string
	Commit  string
	Time    string
	Dirty   bool
}

var readBuildInfo = sync.OnceValue(func() *debug.BuildInfo {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return nil
	}
	return info
})

// Current merges the link-time variables with the embedded VCS stamp.
func Current() Build {
	return resolve(readBuildInfo())
}

func resolve(info *debug.BuildInfo) Build {
	build := Build{Version: Version, Commit: GitCommit, Time: BuildTime}
	if info != nil {
		for _, setting := range info.Settings {
			switch setting.Key {
			case "vcs.revision":
				if build.Commit == "" {
					build.Commit = setting.Value[:min(len(setting.Value), 12)]
				}
			case "vcs.time":
				if build.Time == "" {
					build.Time = setting.Value
				}
			case "vcs.modified":
				build.Dirty = setting.Value == "true"
			}
		}
	}
	if build.Commit == "" {
		build.Commit = "unknown"
	}
	if build.Time == "" {
		build.Time = "unknown"
	}
	return build
}

func (build Build) String() string {
	dirty := ""
	if build.Dirty {
		dirty = "-dirty"
	}
	return fmt.Sprintf("%s (%s%s, %s)", build.Version, build.Commit, dirty, build.Time)
}

// Info returns a one-line version string.
func Info() string {
	return Current().String()
}

// Full adds the Go toolchain and platform to Info.
func Full() string {
	return fmt.Sprintf("%s\n  Go: %s\n  Platform: %s/%s",
		Info(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// UserAgent is the User-Agent header sent to GitHub, Jenkins and
// Slack.
func UserAgent() string {
	return "jenkins-proxy/" + Version
}
