package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"vmcontroller/pkg/controller"
	"vmcontroller/pkg/define"
	"vmcontroller/pkg/executor/local"
	"vmcontroller/pkg/executor/simulated"
	"vmcontroller/pkg/system"
	"vmcontroller/pkg/vmconfig"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"
)

var runVM = cli.Command{
	Name:        "run",
	Usage:       "boot a vm on this host",
	UsageText:   "run [flags]",
	Description: "negotiate host resources, boot the kernel with vfkit and keep the vm running until interrupted",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  define.FlagConfig,
			Usage: "load the vm configuration from a json file, flags override it",
		},
		&cli.StringFlag{
			Name:  define.FlagWorkdir,
			Usage: "directory for the session lock and per-session files",
		},
		&cli.UintFlag{
			Name:  define.FlagCPUS,
			Usage: "given how many cpu cores",
			Value: uint(system.GetCPUCores()),
		},
		&cli.Uint64Flag{
			Name:  define.FlagMemory,
			Usage: "set memory in MB",
			Value: setMaxMemory(),
		},
		&cli.StringFlag{
			Name:  define.FlagKernel,
			Usage: "kernel image path",
		},
		&cli.StringFlag{
			Name:  define.FlagInitrd,
			Usage: "initrd path",
		},
		&cli.StringFlag{
			Name:  define.FlagKernelCmdline,
			Usage: "kernel command line",
			Value: define.DefaultKernelCmdline,
		},
		&cli.StringSliceFlag{
			Name:  define.FlagDisk,
			Usage: "attach a raw disk image as virtio-blk, may be repeated",
		},
		&cli.StringFlag{
			Name:  define.FlagVfkit,
			Usage: "vfkit binary",
			Value: define.DefaultVfkitBinary,
		},
		&cli.BoolFlag{
			Name:  define.FlagSimulate,
			Usage: "go through the lifecycle with a simulated vm",
		},
	},
	Action: runLocal,
}

func runLocal(ctx context.Context, command *cli.Command) error {
	vmc, err := makeVMCfg(command)
	if err != nil {
		return fmt.Errorf("create run configure failed: %w", err)
	}

	var executor controller.Executor
	if command.Bool(define.FlagSimulate) {
		logrus.Infof("simulating the vm, nothing is booted")
		executor = simulated.New(simulated.Default())
	} else {
		if err := os.MkdirAll(vmc.Workdir, 0o755); err != nil {
			return fmt.Errorf("failed to create workdir: %w", err)
		}
		if err := vmc.WriteToJsonFile(filepath.Join(vmc.Workdir, define.VMConfigFile)); err != nil {
			return fmt.Errorf("failed to save vm configuration: %w", err)
		}
		executor = local.New(vmc)
	}

	return vmLifeCycle(ctx, command, executor, vmc)
}

func makeVMCfg(command *cli.Command) (*vmconfig.VMConfig, error) {
	vmc := vmconfig.NewVMConfig()
	if file := command.String(define.FlagConfig); file != "" {
		loaded, err := vmconfig.LoadVMCFromFile(file)
		if err != nil {
			return nil, err
		}
		vmc = loaded
		if !command.Bool(define.FlagVerbose) && vmc.LogLevel != "" {
			logrus.SetLevel(define.LogLevelStr2Type(vmc.LogLevel).Logrus())
		}
	}

	if command.IsSet(define.FlagMemory) || command.String(define.FlagConfig) == "" {
		vmc.WithResources(command.Uint64(define.FlagMemory), 0)
	}
	if command.IsSet(define.FlagCPUS) || command.String(define.FlagConfig) == "" {
		vmc.WithResources(0, command.Uint(define.FlagCPUS))
	}
	if command.IsSet(define.FlagKernel) {
		vmc.Kernel = command.String(define.FlagKernel)
	}
	if command.IsSet(define.FlagInitrd) {
		vmc.Initrd = command.String(define.FlagInitrd)
	}
	if command.IsSet(define.FlagKernelCmdline) {
		vmc.KernelCmdline = strings.Fields(command.String(define.FlagKernelCmdline))
	}
	if command.IsSet(define.FlagDisk) {
		vmc.WithDisks(command.StringSlice(define.FlagDisk))
	}
	if command.IsSet(define.FlagVfkit) {
		vmc.VfkitBinary = command.String(define.FlagVfkit)
	}
	vmc.WithWorkdir(command.String(define.FlagWorkdir))
	vmc.RestAPIAddress = command.String(define.FlagRestAPIAddr)

	if command.Bool(define.FlagSimulate) {
		return vmc, nil
	}
	if err := vmc.Validate(); err != nil {
		return nil, err
	}
	return vmc, nil
}
