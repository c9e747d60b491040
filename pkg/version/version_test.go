package version

import (
	"encoding/json"
	"regexp"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersion_FollowsSemverOrDev(t *testing.T) {
	// Given/When: the linked version
	// Then: it is "dev" or a semver string injected by ldflags
	if Version == "dev" {
		return
	}
	semver := regexp.MustCompile(`^v?\d+\.\d+\.\d+(-[a-zA-Z0-9.]+)?$`)
	require.True(t, semver.MatchString(Version), "got %s", Version)
}

func TestString_ContainsBuildInfo(t *testing.T) {
	str := String()

	assert.Contains(t, str, Program)
	assert.Contains(t, str, Version)
	assert.Contains(t, str, "commit: "+Commit)
	assert.Contains(t, str, runtime.GOOS+"/"+runtime.GOARCH)
}

func TestShort_ReturnsVersion(t *testing.T) {
	assert.Equal(t, Version, Short())
}

func TestGetInfo(t *testing.T) {
	// Given: the linked build metadata
	// When: building structured info
	info := GetInfo()

	// Then: every field mirrors the package variables
	assert.Equal(t, BuildInfo{
		Program:   "fileindexer",
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: runtime.Version(),
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}, info)
}

func TestGetInfo_JSONFieldNames(t *testing.T) {
	data, err := json.Marshal(GetInfo())
	require.NoError(t, err)

	var parsed map[string]string
	require.NoError(t, json.Unmarshal(data, &parsed))

	for _, key := range []string{"program", "version", "commit", "date", "go_version", "os", "arch"} {
		assert.Contains(t, parsed, key)
	}
}
