package vmconfig

import (
	"path/filepath"
	"testing"

	"vmcontroller/pkg/define"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewVMConfigDefaults(t *testing.T) {
	vmc := NewVMConfig()
	assert.Equal(t, uint64(define.DefaultMemoryInMB), vmc.MemoryInMB)
	assert.Equal(t, uint(define.DefaultCPUs), vmc.Cpus)
	assert.Equal(t, []string{define.DefaultKernelCmdline}, vmc.KernelCmdline)
	assert.NotEmpty(t, vmc.SessionID)
	assert.NotEqual(t, vmc.SessionID, NewVMConfig().SessionID)
}

func TestWithHelpers(t *testing.T) {
	vmc := NewVMConfig().
		WithResources(0, 4).
		WithBoot("/boot/vmlinuz", "/boot/initrd", "console=hvc0 quiet").
		WithDisks([]string{"/d1.img"}).
		WithWorkdir("")

	assert.Equal(t, uint64(define.DefaultMemoryInMB), vmc.MemoryInMB)
	assert.Equal(t, uint(4), vmc.Cpus)
	assert.Equal(t, []string{"console=hvc0", "quiet"}, vmc.KernelCmdline)
	assert.Equal(t, []string{"/d1.img"}, vmc.Disks)
	assert.NotEmpty(t, vmc.Workdir)
}

func TestValidate(t *testing.T) {
	valid := func() *VMConfig {
		return NewVMConfig().WithBoot("/boot/vmlinuz", "", "")
	}
	require.NoError(t, valid().Validate())

	tests := map[string]func(*VMConfig){
		"no cpus":      func(v *VMConfig) { v.Cpus = 0 },
		"small memory": func(v *VMConfig) { v.MemoryInMB = 64 },
		"no kernel":    func(v *VMConfig) { v.Kernel = "" },
		"no workdir":   func(v *VMConfig) { v.Workdir = "" },
		"no session":   func(v *VMConfig) { v.SessionID = "" },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			vmc := valid()
			mutate(vmc)
			assert.Error(t, vmc.Validate())
		})
	}
}

func TestJSONFileRoundTrip(t *testing.T) {
	file := filepath.Join(t.TempDir(), define.VMConfigFile)
	vmc := NewVMConfig().WithResources(2048, 2).WithBoot("/k", "/i", "")
	require.NoError(t, vmc.WriteToJsonFile(file))

	loaded, err := LoadVMCFromFile(file)
	require.NoError(t, err)
	assert.Equal(t, vmc, loaded)

	_, err = LoadVMCFromFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestLockIsExclusive(t *testing.T) {
	dir := t.TempDir()
	first := NewVMConfig().WithWorkdir(dir)
	second := NewVMConfig().WithWorkdir(dir)

	lock, err := first.Lock()
	require.NoError(t, err)

	_, err = second.Lock()
	assert.ErrorContains(t, err, "in use")

	require.NoError(t, lock.Unlock())
	again, err := second.Lock()
	require.NoError(t, err)
	require.NoError(t, again.Unlock())
}

func TestSessionDir(t *testing.T) {
	vmc := NewVMConfig().WithWorkdir("/var/vmctl")
	assert.Equal(t, filepath.Join("/var/vmctl", define.SessionDirName, vmc.SessionID), vmc.SessionDir())
}
