//go:build darwin

package vfkit

import (
	"fmt"
	"strings"

	"vmcontroller/pkg/vmconfig"

	"github.com/crc-org/vfkit/pkg/config"
	"github.com/sirupsen/logrus"
)

// Args returns the vfkit command line that boots vmc. The guest console is
// written to consoleLog.
func Args(vmc *vmconfig.VMConfig, consoleLog string) ([]string, error) {
	virtualMachine, err := newVirtualMachine(vmc, consoleLog)
	if err != nil {
		return nil, fmt.Errorf("failed to create virtual machine: %w", err)
	}

	args, err := virtualMachine.ToCmdLine()
	if err != nil {
		return nil, fmt.Errorf("failed to convert virtual machine configure to cmdline: %w", err)
	}

	logrus.Debugf("vfkit cmdline: %q", args)
	return args, nil
}

func newVirtualMachine(vmc *vmconfig.VMConfig, consoleLog string) (*config.VirtualMachine, error) {
	bl := config.NewLinuxBootloader(
		vmc.Kernel,
		strings.Join(vmc.KernelCmdline, " "),
		vmc.Initrd,
	)

	vmConfig := config.NewVirtualMachine(
		vmc.Cpus,
		vmc.MemoryInMB,
		bl,
	)

	var devices []string

	// virtio-blk is the backend device for the data disk
	for _, disk := range vmc.Disks {
		devices = append(devices, fmt.Sprintf("virtio-blk,path=%s", disk))
	}

	devices = append(devices, "virtio-rng")
	devices = append(devices, "virtio-balloon")

	if consoleLog != "" {
		devices = append(devices, fmt.Sprintf("virtio-serial,logFilePath=%s", consoleLog))
	}

	if err := vmConfig.AddDevicesFromCmdLine(devices); err != nil {
		return nil, fmt.Errorf("failed to add devices: %w", err)
	}

	return vmConfig, nil
}
