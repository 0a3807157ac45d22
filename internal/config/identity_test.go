package config

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var idPattern = regexp.MustCompile(`^(TX|RX)[0-9A-F]{6}$`)

func TestDeviceID_CreatesAndReusesSeed(t *testing.T) {
	seedPath := filepath.Join(t.TempDir(), "device.id")

	id, err := DeviceID(RoleRover, seedPath)
	require.NoError(t, err)
	assert.Regexp(t, idPattern, id)

	// The seed is cached, so the ID survives restarts.
	again, err := DeviceID(RoleRover, seedPath)
	require.NoError(t, err)
	assert.Equal(t, id, again)

	// Same seed, other role: only the prefix changes.
	base, err := DeviceID(RoleBase, seedPath)
	require.NoError(t, err)
	assert.Equal(t, "RX"+id[2:], base)
}

func TestDeviceID_HonorsExistingSeed(t *testing.T) {
	seedPath := filepath.Join(t.TempDir(), "device.id")
	require.NoError(t, os.WriteFile(seedPath, []byte("A1B2C3\n"), 0o600))

	id, err := DeviceID(RoleBase, seedPath)
	require.NoError(t, err)
	assert.Equal(t, "RXA1B2C3", id)
}

func TestDeviceID_RegeneratesCorruptSeed(t *testing.T) {
	seedPath := filepath.Join(t.TempDir(), "device.id")
	require.NoError(t, os.WriteFile(seedPath, []byte("not hex"), 0o600))

	id, err := DeviceID(RoleRover, seedPath)
	require.NoError(t, err)
	assert.Regexp(t, idPattern, id)

	raw, err := os.ReadFile(seedPath)
	require.NoError(t, err)
	assert.True(t, validSeed(string(raw[:seedLen])), "rewritten seed is valid")
}

func TestValidSeed(t *testing.T) {
	assert.True(t, validSeed("A1B2C3"))
	assert.True(t, validSeed("000000"))
	assert.False(t, validSeed("a1b2c3"), "lowercase is not canonical")
	assert.False(t, validSeed("A1B2C"))
	assert.False(t, validSeed("A1B2C3D"))
	assert.False(t, validSeed("GHIJKL"))
	assert.False(t, validSeed(""))
}
