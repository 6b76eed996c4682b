package version

import (
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVersion(t *testing.T) {
	assert.Equal(t, "0.4.0", Version())
}

func TestGetBuildInfo(t *testing.T) {
	b := GetBuildInfo()
	assert.Equal(t, Name, b.Name)
	assert.Equal(t, runtime.Version(), b.GoVersion)
	assert.Equal(t, runtime.GOOS+"/"+runtime.GOARCH, b.Platform)
}

func TestShortCommit(t *testing.T) {
	assert.Equal(t, "abcdef1", (&BuildInfo{GitCommit: "abcdef1234"}).ShortCommit())
	assert.Equal(t, "abc", (&BuildInfo{GitCommit: "abc"}).ShortCommit())
}

func TestGetFullVersionString(t *testing.T) {
	s := GetFullVersionString()
	assert.True(t, strings.HasPrefix(s, "ledgerview v0.4.0"))
	assert.Contains(t, s, runtime.Version())
}
