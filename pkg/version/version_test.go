package version

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGet(t *testing.T) {
	info := Get()
	assert.Equal(t, Version, info.Version)
	assert.Equal(t, GitCommit, info.GitCommit)
	assert.Equal(t, BuildTime, info.BuildTime)
	assert.Equal(t, runtime.Version(), info.GoVersion)
}

func TestInfo_Format(t *testing.T) {
	info := Info{
		Version:   "0.3.0",
		GitCommit: "4f2c1e9",
		BuildTime: "2026-03-01T09:00:00Z",
		GoVersion: "go1.25.1",
	}

	assert.Equal(t, "Version: 0.3.0, GitCommit: 4f2c1e9, BuildTime: 2026-03-01T09:00:00Z, GoVersion: go1.25.1", info.String())

	out, err := info.JSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"version":"0.3.0","gitCommit":"4f2c1e9","buildTime":"2026-03-01T09:00:00Z","goVersion":"go1.25.1"}`, out)
}
