package version

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGet(t *testing.T) {
	info := Get()

	assert.Equal(t, Version, info.Version)
	assert.Equal(t, BuildTime, info.BuildTime)
	assert.Equal(t, runtime.Version(), info.GoVersion)
	assert.NotEmpty(t, info.Commit)
}

func TestGet_InjectedCommitWins(t *testing.T) {
	old := Commit
	Commit = "deadbeef"
	t.Cleanup(func() { Commit = old })

	assert.Equal(t, "deadbeef", Get().Commit)
}
