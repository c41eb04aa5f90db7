// Package local runs the VM on this host with vfkit.
package local

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"vmcontroller/pkg/controller"
	"vmcontroller/pkg/define"
	"vmcontroller/pkg/ssh"
	"vmcontroller/pkg/system"
	"vmcontroller/pkg/vfkit"
	"vmcontroller/pkg/vmconfig"

	"github.com/gofrs/flock"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	consoleLogFile = "console.log"
	vfkitLogFile   = "vfkit.log"

	// startupSettle is how long the hypervisor must stay up for a launch to count.
	startupSettle = 500 * time.Millisecond
	killTimeout   = 5 * time.Second
)

type memoryProbe func(ctx context.Context) (*system.MemoryInfo, error)

type Executor struct {
	vmc       *vmconfig.VMConfig
	probeHost memoryProbe

	mu      sync.Mutex
	lock    *flock.Flock
	keys    *ssh.KeyPair
	proc    *process
	logFile *os.File
}

var _ controller.Executor = (*Executor)(nil)

func New(vmc *vmconfig.VMConfig) *Executor {
	return &Executor{
		vmc:       vmc,
		probeHost: system.GetMemoryInfo,
	}
}

// KeyPair returns the session key pair once negotiation acquired it.
func (e *Executor) KeyPair() *ssh.KeyPair {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.keys
}

// Negotiate checks the configuration and the host, then takes the workdir
// lock and creates the session key pair. A host without enough available
// memory is reported through the capability, not as an error.
func (e *Executor) Negotiate(ctx context.Context, creds define.Credentials, report controller.ProgressFunc) (controller.Capability, error) {
	if !creds.IsZero() && creds.Scheme != define.SchemeLocal {
		logrus.Warnf("local executor ignores credentials %s", creds)
	}

	haveMemory := true
	steps := []struct {
		name string
		run  func(ctx context.Context) error
	}{
		{"validate config", func(context.Context) error { return e.vmc.Validate() }},
		{"check boot files", e.checkBootFiles},
		{"check host memory", func(ctx context.Context) error {
			ok, err := e.checkMemory(ctx)
			haveMemory = ok
			return err
		}},
		{"lock workdir", e.acquireLock},
		{"generate ssh key pair", e.generateKeys},
	}

	total := uint64(len(steps))
	report(0, total)
	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			return controller.Capability{}, err
		}
		logrus.Debugf("negotiate: %s", step.name)
		if err := step.run(ctx); err != nil {
			return controller.Capability{}, errors.Wrap(err, step.name)
		}
		if !haveMemory {
			return controller.Capability{HaveMemory: false}, nil
		}
		report(uint64(i+1), total)
	}

	return controller.Capability{HaveMemory: true}, nil
}

func (e *Executor) checkBootFiles(context.Context) error {
	files := append([]string{e.vmc.Kernel}, e.vmc.Disks...)
	if e.vmc.Initrd != "" {
		files = append(files, e.vmc.Initrd)
	}
	for _, f := range files {
		if err := system.IsRegularFile(f); err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) checkMemory(ctx context.Context) (bool, error) {
	info, err := e.probeHost(ctx)
	if err != nil {
		return false, err
	}
	if info.AvailableMB < e.vmc.MemoryInMB {
		logrus.Warnf("vm needs %d MB of memory, host has %d MB available", e.vmc.MemoryInMB, info.AvailableMB)
		return false, nil
	}
	logrus.Debugf("vm needs %d MB of memory, host has %d MB available", e.vmc.MemoryInMB, info.AvailableMB)
	return true, nil
}

func (e *Executor) acquireLock(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lock != nil {
		return nil
	}

	l, err := e.vmc.Lock()
	if err != nil {
		return err
	}
	e.lock = l
	return nil
}

func (e *Executor) generateKeys(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.keys != nil {
		return nil
	}

	kp, err := ssh.GenerateKeyPair(filepath.Join(e.vmc.SessionDir(), define.SSHKeyPair), ssh.DefaultKeyGenOptions())
	if err != nil {
		return err
	}
	logrus.Infof("session ssh public key: %s", kp.PublicKeyPath())
	e.keys = kp
	return nil
}

// Launch starts vfkit and returns once it stayed up for a moment.
func (e *Executor) Launch(ctx context.Context, report controller.ProgressFunc) (<-chan error, error) {
	const total = 3
	report(0, total)

	args, err := vfkit.Args(e.vmc, filepath.Join(e.vmc.SessionDir(), consoleLogFile))
	if err != nil {
		return nil, err
	}
	report(1, total)

	if err := os.MkdirAll(e.vmc.SessionDir(), 0o755); err != nil {
		return nil, errors.Wrap(err, "create session dir")
	}
	logFile, err := os.Create(filepath.Join(e.vmc.SessionDir(), vfkitLogFile))
	if err != nil {
		return nil, errors.Wrap(err, "create vfkit log")
	}

	cmd := exec.Command(e.vmc.VfkitBinary, args...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	exitCh, err := e.start(cmd)
	if err != nil {
		_ = logFile.Close()
		return nil, err
	}
	e.mu.Lock()
	if e.logFile != nil {
		_ = e.logFile.Close()
	}
	e.logFile = logFile
	e.mu.Unlock()
	report(2, total)

	timer := time.NewTimer(startupSettle)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-e.exited():
		e.mu.Lock()
		e.proc = nil
		e.mu.Unlock()
		return nil, fmt.Errorf("vfkit exited during startup, see %s", logFile.Name())
	case <-ctx.Done():
		stopCtx, cancel := context.WithTimeout(context.Background(), define.DefaultStopTimeout)
		defer cancel()
		_ = e.Terminate(stopCtx)
		return nil, ctx.Err()
	}
	report(total, total)

	logrus.Infof("vm running, vfkit pid %d", cmd.Process.Pid)
	return exitCh, nil
}

func (e *Executor) start(cmd *exec.Cmd) (<-chan error, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.proc != nil {
		return nil, errors.New("vm is already running")
	}
	p, exitCh, err := startProcess(cmd)
	if err != nil {
		return nil, err
	}
	e.proc = p
	return exitCh, nil
}

func (e *Executor) exited() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.proc == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return e.proc.exited
}

// Terminate asks vfkit to stop and kills it when ctx expires first.
func (e *Executor) Terminate(ctx context.Context) error {
	e.mu.Lock()
	p := e.proc
	e.mu.Unlock()

	if p == nil {
		return nil
	}
	if err := p.stop(ctx); err != nil {
		return err
	}

	e.mu.Lock()
	if e.proc == p {
		e.proc = nil
	}
	e.mu.Unlock()
	return nil
}

// Close stops a running VM and releases the key pair, the session directory
// and the workdir lock.
func (e *Executor) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), define.DefaultStopTimeout)
	defer cancel()

	var errs []error
	if err := e.Terminate(ctx); err != nil {
		errs = append(errs, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.logFile != nil {
		if err := e.logFile.Close(); err != nil {
			errs = append(errs, err)
		}
		e.logFile = nil
	}
	if e.keys != nil {
		if err := e.keys.Remove(); err != nil {
			errs = append(errs, err)
		}
		e.keys = nil
	}
	if e.lock != nil {
		if err := os.RemoveAll(e.vmc.SessionDir()); err != nil {
			errs = append(errs, errors.Wrap(err, "remove session dir"))
		}
		if err := e.lock.Unlock(); err != nil {
			errs = append(errs, errors.Wrap(err, "unlock workdir"))
		}
		e.lock = nil
	}

	return stderrors.Join(errs...)
}
