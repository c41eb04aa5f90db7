package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"vmcontroller/pkg/controller"
	"vmcontroller/pkg/define"
	"vmcontroller/pkg/executor/simulated"
	"vmcontroller/pkg/vmconfig"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"
)

func simulatedController(haveMemory bool) *controller.Controller {
	cfg := simulated.Default()
	cfg.StepDelay = 0
	cfg.HaveMemory = haveMemory
	return controller.New(simulated.New(cfg))
}

func TestDriveUntilInterrupted(t *testing.T) {
	ctrl := simulatedController(true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- drive(ctx, ctrl, 5*time.Second, time.Second) }()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	_, err := ctrl.WaitForState(waitCtx, controller.StateRunning)
	require.NoError(t, err)

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("drive did not return")
	}
	assert.Equal(t, controller.StateStopped, ctrl.State())

	shutdown(ctrl, time.Second)
	assert.Equal(t, controller.StateDisposed, ctrl.State())
}

func TestDriveRejectedMemory(t *testing.T) {
	ctrl := simulatedController(false)
	defer shutdown(ctrl, time.Second)

	err := drive(context.Background(), ctrl, 5*time.Second, time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), controller.StateRejectedMemory.String())
}

func TestMakeVMCfg(t *testing.T) {
	dir := t.TempDir()
	kernel := filepath.Join(dir, "vmlinuz")
	require.NoError(t, os.WriteFile(kernel, []byte("kernel"), 0o644))

	var got *vmconfig.VMConfig
	cmd := &cli.Command{
		Name:  "run",
		Flags: runVM.Flags,
		Action: func(_ context.Context, command *cli.Command) error {
			var err error
			got, err = makeVMCfg(command)
			return err
		},
	}

	err := cmd.Run(context.Background(), []string{
		"run",
		"--" + define.FlagMemory, "256",
		"--" + define.FlagCPUS, "2",
		"--" + define.FlagKernel, kernel,
		"--" + define.FlagKernelCmdline, "console=hvc0 quiet",
		"--" + define.FlagDisk, filepath.Join(dir, "a.img"),
		"--" + define.FlagDisk, filepath.Join(dir, "b.img"),
		"--" + define.FlagWorkdir, filepath.Join(dir, "work"),
	})
	require.NoError(t, err)

	assert.Equal(t, uint64(256), got.MemoryInMB)
	assert.Equal(t, uint(2), got.Cpus)
	assert.Equal(t, kernel, got.Kernel)
	assert.Equal(t, []string{"console=hvc0", "quiet"}, got.KernelCmdline)
	assert.Equal(t, []string{filepath.Join(dir, "a.img"), filepath.Join(dir, "b.img")}, got.Disks)
	assert.Equal(t, filepath.Join(dir, "work"), got.Workdir)
}

func TestMakeVMCfgOverridesConfigFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, define.VMConfigFile)
	saved := vmconfig.NewVMConfig().
		WithResources(1024, 4).
		WithBoot(filepath.Join(dir, "vmlinuz"), filepath.Join(dir, "initrd.old"), "console=hvc0").
		WithWorkdir(filepath.Join(dir, "work"))
	require.NoError(t, saved.WriteToJsonFile(file))

	var got *vmconfig.VMConfig
	cmd := &cli.Command{
		Name:  "run",
		Flags: runVM.Flags,
		Action: func(_ context.Context, command *cli.Command) error {
			var err error
			got, err = makeVMCfg(command)
			return err
		},
	}

	err := cmd.Run(context.Background(), []string{
		"run",
		"--" + define.FlagConfig, file,
		"--" + define.FlagInitrd, filepath.Join(dir, "initrd.new"),
		"--" + define.FlagKernelCmdline, "console=hvc0 rd.break",
	})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "vmlinuz"), got.Kernel)
	assert.Equal(t, filepath.Join(dir, "initrd.new"), got.Initrd)
	assert.Equal(t, []string{"console=hvc0", "rd.break"}, got.KernelCmdline)
	assert.Equal(t, uint64(1024), got.MemoryInMB)
	assert.Equal(t, uint(4), got.Cpus)
	assert.Equal(t, filepath.Join(dir, "work"), got.Workdir)
}
