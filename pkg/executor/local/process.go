package local

import (
	"context"
	"os/exec"
	"time"

	"github.com/pkg/errors"
	gopsprocess "github.com/shirou/gopsutil/v4/process"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// process is a started hypervisor. exited is closed once Wait returned.
type process struct {
	cmd    *exec.Cmd
	pid    int
	exited chan struct{}
}

func startProcess(cmd *exec.Cmd) (*process, <-chan error, error) {
	logrus.Debugf("exec %s %q", cmd.Path, cmd.Args[1:])
	if err := cmd.Start(); err != nil {
		return nil, nil, errors.Wrapf(err, "start %s", cmd.Path)
	}

	p := &process{
		cmd:    cmd,
		pid:    cmd.Process.Pid,
		exited: make(chan struct{}),
	}
	exitCh := make(chan error, 1)
	go func() {
		err := cmd.Wait()
		close(p.exited)

		exitCh <- err
		close(exitCh)
	}()
	return p, exitCh, nil
}

func (p *process) alive(ctx context.Context) bool {
	select {
	case <-p.exited:
		return false
	default:
	}
	ok, err := gopsprocess.PidExistsWithContext(ctx, int32(p.pid))
	if err != nil {
		logrus.Debugf("failed to look up pid %d: %v", p.pid, err)
		return true
	}
	return ok
}

// stop sends SIGTERM and waits for the process to exit. SIGKILL follows once
// ctx is done.
func (p *process) stop(ctx context.Context) error {
	if !p.alive(ctx) {
		<-p.exited
		return nil
	}

	logrus.Debugf("sending SIGTERM to pid %d", p.pid)
	if err := unix.Kill(p.pid, unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
		return errors.Wrapf(err, "signal pid %d", p.pid)
	}

	select {
	case <-p.exited:
		return nil
	case <-ctx.Done():
	}

	logrus.Warnf("pid %d did not stop in time, sending SIGKILL", p.pid)
	if err := unix.Kill(p.pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		return errors.Wrapf(err, "kill pid %d", p.pid)
	}

	select {
	case <-p.exited:
		return nil
	case <-time.After(killTimeout):
		return errors.Errorf("pid %d still running after SIGKILL", p.pid)
	}
}
