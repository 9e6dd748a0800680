// Package version reports build metadata. Version, Commit and BuildTime are
// set with -ldflags "-X"; a plain go build falls back to VCS stamps.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/polysync/rnr/internal/logfile"
)

var (
	Version   = "dev"
	Commit    = ""
	BuildTime = ""
)

// Info is the build metadata printed by rnrctl version and logged by rnrd
type Info struct {
	Version       string `json:"version"`
	BuildTime     string `json:"build_time"`
	GitCommit     string `json:"git_commit"`
	GoVersion     string `json:"go_version"`
	FormatVersion uint16 `json:"format_version"`
}

// Get returns the build metadata
func Get() Info {
	info := Info{
		Version:       Version,
		BuildTime:     BuildTime,
		GitCommit:     Commit,
		GoVersion:     runtime.Version(),
		FormatVersion: logfile.FormatVersion,
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		fromBuildInfo(&info, bi)
	}
	if info.GitCommit == "" {
		info.GitCommit = "unknown"
	}
	if info.BuildTime == "" {
		info.BuildTime = "unknown"
	}
	return info
}

// fromBuildInfo fills fields left empty by ldflags
func fromBuildInfo(info *Info, bi *debug.BuildInfo) {
	if info.Version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		info.Version = bi.Main.Version
	}
	var vcsCommit, dirty bool
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if info.GitCommit == "" {
				info.GitCommit, vcsCommit = s.Value, true
			}
		case "vcs.time":
			if info.BuildTime == "" {
				info.BuildTime = s.Value
			}
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if dirty && vcsCommit {
		info.GitCommit += "-dirty"
	}
}

// String renders Info on one line
func (i Info) String() string {
	return fmt.Sprintf("%s (commit %s, built %s, %s, log format v%d)",
		i.Version, i.GitCommit, i.BuildTime, i.GoVersion, i.FormatVersion)
}
