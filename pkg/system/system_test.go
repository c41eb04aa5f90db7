package system

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetMemoryInfo(t *testing.T) {
	info, err := GetMemoryInfo(context.Background())
	require.NoError(t, err)
	assert.Greater(t, info.TotalMB, uint64(0))
	assert.LessOrEqual(t, info.AvailableMB, info.TotalMB)

	maxMB, err := GetMaxMemoryInMB()
	require.NoError(t, err)
	assert.Equal(t, info.TotalMB/2, maxMB)
}

func TestGetCPUCores(t *testing.T) {
	assert.GreaterOrEqual(t, GetCPUCores(), 1)
}

func TestGenerateRandomID(t *testing.T) {
	a, b := GenerateRandomID(), GenerateRandomID()
	assert.Len(t, a, 12)
	assert.NotEqual(t, a, b)
}

func TestPathChecks(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "kernel")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	assert.True(t, IsPathExist(file))
	assert.False(t, IsPathExist(filepath.Join(dir, "missing")))

	assert.NoError(t, IsRegularFile(file))
	assert.Error(t, IsRegularFile(dir))
	assert.ErrorIs(t, IsRegularFile(filepath.Join(dir, "missing")), os.ErrNotExist)
}

func TestGetOSVersion(t *testing.T) {
	info, err := GetOSVersion(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, info.Arch)
	assert.Contains(t, info.String(), info.Arch)
}
