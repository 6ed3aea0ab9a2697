package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
)

var (
	// Version is the semantic version of the build. It can be overridden via ldflags.
	Version = "0.1.0"
	// Commit is the short git SHA embedded at build time (or "none").
	Commit = "none"
	// BuildTime is the UTC build timestamp embedded at build time.
	BuildTime = "unknown"
)

// shortCommit is the length of an abbreviated git SHA.
const shortCommit = 7

//nolint:gochecknoglobals // Build info is read once.
var fillOnce sync.Once

// Short returns only the semantic version string.
func Short() string {
	return Version
}

// Full returns a human-readable version string with commit, build time and toolchain.
func Full() string {
	fillOnce.Do(func() { fill(debug.ReadBuildInfo()) })

	return fmt.Sprintf("alarm-bridge %s, commit: %s, built at: %s, %s", Version, Commit, BuildTime, runtime.Version())
}

// fill takes the commit and build time from the VCS stamp when ldflags left them unset.
func fill(info *debug.BuildInfo, ok bool) {
	if !ok || info == nil {
		return
	}

	for _, s := range info.Settings {
		switch {
		case s.Key == "vcs.revision" && Commit == "none" && s.Value != "":
			Commit = s.Value[:min(len(s.Value), shortCommit)]
		case s.Key == "vcs.time" && BuildTime == "unknown" && s.Value != "":
			BuildTime = s.Value
		}
	}
}
