//go:build darwin

package vfkit

import (
	"path/filepath"
	"strings"
	"testing"

	"vmcontroller/pkg/vmconfig"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArgs(t *testing.T) {
	dir := t.TempDir()
	vmc := vmconfig.NewVMConfig().
		WithResources(1024, 2).
		WithBoot(filepath.Join(dir, "vmlinuz"), filepath.Join(dir, "initrd.img"), "console=hvc0 quiet").
		WithDisks([]string{filepath.Join(dir, "root.img")})

	args, err := Args(vmc, filepath.Join(dir, "console.log"))
	require.NoError(t, err)

	cmdline := strings.Join(args, " ")
	assert.Contains(t, cmdline, "--cpus 2")
	assert.Contains(t, cmdline, "--memory 1024")
	assert.Contains(t, cmdline, "vmlinuz")
	assert.Contains(t, cmdline, "virtio-blk,path="+filepath.Join(dir, "root.img"))
	assert.Contains(t, cmdline, "virtio-rng")
	assert.Contains(t, cmdline, "logFilePath="+filepath.Join(dir, "console.log"))
}
