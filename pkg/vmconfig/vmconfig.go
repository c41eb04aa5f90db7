package vmconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"vmcontroller/pkg/define"
	"vmcontroller/pkg/system"

	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"
)

// VMConfig Static virtual machine configuration.
type VMConfig struct {
	MemoryInMB    uint64   `json:"memoryInMB,omitempty"`
	Cpus          uint     `json:"cpus,omitempty"`
	Kernel        string   `json:"kernel,omitempty"`
	Initrd        string   `json:"initrd,omitempty"`
	KernelCmdline []string `json:"kernelArgs,omitempty"`

	// Disks are attached as virtio-blk devices in order.
	Disks []string `json:"disks,omitempty"`

	// Workdir holds the lock file and per-session state.
	Workdir     string `json:"workdir,omitempty"`
	VfkitBinary string `json:"vfkitBinary,omitempty"`
	LogLevel    string `json:"logLevel,omitempty"`

	RestAPIAddress string `json:"restAPIAddress,omitempty"`
	SessionID      string `json:"sessionID,omitempty"`
}

// NewVMConfig returns a config with a fresh session ID and host-derived defaults.
func NewVMConfig() *VMConfig {
	return &VMConfig{
		MemoryInMB:    define.DefaultMemoryInMB,
		Cpus:          define.DefaultCPUs,
		KernelCmdline: []string{define.DefaultKernelCmdline},
		Workdir:       filepath.Join(os.TempDir(), "vmctl"),
		VfkitBinary:   define.DefaultVfkitBinary,
		LogLevel:      define.INFO.String(),
		SessionID:     system.GenerateRandomID(),
	}
}

// WithResources sets memory and CPUs; zero values keep the current setting.
func (v *VMConfig) WithResources(memoryInMB uint64, cpus uint) *VMConfig {
	if memoryInMB != 0 {
		v.MemoryInMB = memoryInMB
	}
	if cpus != 0 {
		v.Cpus = cpus
	}
	return v
}

func (v *VMConfig) WithBoot(kernel, initrd, cmdline string) *VMConfig {
	v.Kernel = kernel
	v.Initrd = initrd
	if cmdline != "" {
		v.KernelCmdline = strings.Fields(cmdline)
	}
	return v
}

func (v *VMConfig) WithDisks(disks []string) *VMConfig {
	v.Disks = append(v.Disks[:0:0], disks...)
	return v
}

func (v *VMConfig) WithWorkdir(dir string) *VMConfig {
	if dir != "" {
		v.Workdir = dir
	}
	return v
}

// Validate checks what can be checked without touching the host.
func (v *VMConfig) Validate() error {
	if v.Cpus < 1 {
		return fmt.Errorf("cpus must be at least 1")
	}
	if v.MemoryInMB < define.MinimumMemoryInMB {
		return fmt.Errorf("memory must be at least %d MB, got %d", define.MinimumMemoryInMB, v.MemoryInMB)
	}
	if v.Kernel == "" {
		return fmt.Errorf("kernel path is required")
	}
	if v.Workdir == "" {
		return fmt.Errorf("workdir is required")
	}
	if v.SessionID == "" {
		return fmt.Errorf("session id is required")
	}
	return nil
}

// SessionDir is where per-session files such as the ssh key pair live.
func (v *VMConfig) SessionDir() string {
	return filepath.Join(v.Workdir, define.SessionDirName, v.SessionID)
}

// Lock takes the workdir lock so that only one session drives a VM from it.
// The caller releases it with Unlock.
func (v *VMConfig) Lock() (*flock.Flock, error) {
	if err := os.MkdirAll(v.Workdir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create workdir %q: %w", v.Workdir, err)
	}

	fileLock := flock.New(filepath.Join(v.Workdir, define.LockFile))
	locked, err := fileLock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock %q: %w", fileLock.Path(), err)
	}
	if !locked {
		return nil, fmt.Errorf("workdir %q is in use by another session", v.Workdir)
	}

	logrus.Debugf("locked workdir %q", v.Workdir)
	return fileLock, nil
}

func LoadVMCFromFile(file string) (*VMConfig, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", file, err)
	}
	defer func(f *os.File) {
		err := f.Close()
		if err != nil {
			logrus.Errorf("failed to close file: %v", err)
		}
	}(f)

	vmc := NewVMConfig()
	if err = json.NewDecoder(f).Decode(vmc); err != nil {
		return nil, fmt.Errorf("failed to decode file %s: %w", file, err)
	}
	return vmc, nil
}

func (v *VMConfig) WriteToJsonFile(file string) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal vmconfig: %w", err)
	}

	return os.WriteFile(file, b, 0o644)
}
