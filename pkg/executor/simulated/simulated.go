// Package simulated provides a scripted Executor. It never touches the host,
// which makes it the executor of choice for tests and dry runs.
package simulated

import (
	"context"
	"sync"
	"time"

	"vmcontroller/pkg/controller"
	"vmcontroller/pkg/define"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var ErrNotLaunched = errors.New("simulated vm is not running")

// Step is one progress report.
type Step struct {
	Current uint64
	Total   uint64
}

// Config scripts the executor. Gates, when set, must yield one value before
// each step of the matching phase; a closed gate lets every step through.
type Config struct {
	NegotiateSteps []Step
	LaunchSteps    []Step
	HaveMemory     bool
	StepDelay      time.Duration

	NegotiateErr error
	LaunchErr    error
	TerminateErr error
	CloseErr     error

	NegotiateGate <-chan struct{}
	LaunchGate    <-chan struct{}
	// CloseGate, when set, holds Close until it yields or is closed.
	CloseGate <-chan struct{}
}

// Default is a well-behaved VM with enough memory.
func Default() Config {
	return Config{
		NegotiateSteps: []Step{{0, 100}, {25, 100}, {50, 100}, {75, 100}, {100, 100}},
		LaunchSteps:    []Step{{0, 1}, {1, 1}},
		HaveMemory:     true,
		StepDelay:      100 * time.Millisecond,
	}
}

// Stats counts calls into the executor.
type Stats struct {
	Negotiations int
	Launches     int
	Terminations int
	Closes       int
}

type Executor struct {
	cfg Config

	mu       sync.Mutex
	creds    define.Credentials
	acquired bool
	exitCh   chan error
	stats    Stats
}

var _ controller.Executor = (*Executor)(nil)

func New(cfg Config) *Executor {
	return &Executor{cfg: cfg}
}

func (e *Executor) Negotiate(ctx context.Context, creds define.Credentials, report controller.ProgressFunc) (controller.Capability, error) {
	e.mu.Lock()
	e.creds = creds
	e.acquired = true
	e.stats.Negotiations++
	e.mu.Unlock()

	logrus.Debugf("simulated: negotiating for %s", creds)
	if err := e.play(ctx, e.cfg.NegotiateSteps, e.cfg.NegotiateGate, report); err != nil {
		return controller.Capability{}, err
	}
	if e.cfg.NegotiateErr != nil {
		return controller.Capability{}, e.cfg.NegotiateErr
	}
	return controller.Capability{HaveMemory: e.cfg.HaveMemory}, nil
}

func (e *Executor) Launch(ctx context.Context, report controller.ProgressFunc) (<-chan error, error) {
	e.mu.Lock()
	e.stats.Launches++
	e.mu.Unlock()

	if err := e.play(ctx, e.cfg.LaunchSteps, e.cfg.LaunchGate, report); err != nil {
		return nil, err
	}
	if e.cfg.LaunchErr != nil {
		return nil, e.cfg.LaunchErr
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.exitCh = make(chan error, 1)
	logrus.Debugf("simulated: vm running")
	return e.exitCh, nil
}

func (e *Executor) Terminate(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.stats.Terminations++
	if e.cfg.TerminateErr != nil {
		return e.cfg.TerminateErr
	}
	e.exitLocked(nil)
	return nil
}

// Crash makes a running VM exit on its own with err.
func (e *Executor) Crash(err error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.exitCh == nil {
		return ErrNotLaunched
	}
	e.exitLocked(err)
	return nil
}

func (e *Executor) exitLocked(err error) {
	if e.exitCh == nil {
		return
	}
	e.exitCh <- err
	close(e.exitCh)
	e.exitCh = nil
}

func (e *Executor) Close() error {
	e.mu.Lock()
	e.stats.Closes++
	e.mu.Unlock()

	if e.cfg.CloseGate != nil {
		<-e.cfg.CloseGate
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.acquired = false
	e.exitLocked(nil)
	return e.cfg.CloseErr
}

// Credentials returns what the last Negotiate received.
func (e *Executor) Credentials() define.Credentials {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.creds
}

// Acquired reports whether resources from a Negotiate are still held.
func (e *Executor) Acquired() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.acquired
}

func (e *Executor) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.exitCh != nil
}

func (e *Executor) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

func (e *Executor) play(ctx context.Context, steps []Step, gate <-chan struct{}, report controller.ProgressFunc) error {
	for _, step := range steps {
		if err := e.wait(ctx, gate); err != nil {
			return err
		}
		report(step.Current, step.Total)
	}
	return ctx.Err()
}

func (e *Executor) wait(ctx context.Context, gate <-chan struct{}) error {
	if e.cfg.StepDelay > 0 {
		timer := time.NewTimer(e.cfg.StepDelay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return ctx.Err()
}
