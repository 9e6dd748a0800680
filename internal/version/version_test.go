package version

import (
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/polysync/rnr/internal/logfile"
)

func TestGet(t *testing.T) {
	info := Get()
	assert.NotEmpty(t, info.Version)
	assert.NotEmpty(t, info.GitCommit)
	assert.Equal(t, logfile.FormatVersion, info.FormatVersion)
	assert.NotEmpty(t, info.GoVersion)
}

func TestFromBuildInfo(t *testing.T) {
	bi := &debug.BuildInfo{
		Main: debug.Module{Version: "v0.3.1"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "abc123"},
			{Key: "vcs.time", Value: "2024-03-01T12:00:00Z"},
			{Key: "vcs.modified", Value: "true"},
		},
	}

	info := Info{Version: "dev"}
	fromBuildInfo(&info, bi)
	assert.Equal(t, "v0.3.1", info.Version)
	assert.Equal(t, "abc123-dirty", info.GitCommit)
	assert.Equal(t, "2024-03-01T12:00:00Z", info.BuildTime)

	pinned := Info{Version: "1.0.0", GitCommit: "release"}
	fromBuildInfo(&pinned, bi)
	assert.Equal(t, "1.0.0", pinned.Version)
	assert.Equal(t, "release", pinned.GitCommit)
}

func TestInfoString(t *testing.T) {
	s := Info{Version: "1.0.0", GitCommit: "abc", BuildTime: "now", GoVersion: "go1.24", FormatVersion: 1}.String()
	assert.Equal(t, "1.0.0 (commit abc, built now, go1.24, log format v1)", s)
}
