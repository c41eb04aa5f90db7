// Package controller drives the lifecycle of a single virtual machine.
//
// A Controller is a state machine:
//
//	created -> initializing -> negotiating -> ready -> starting -> running -> stopping -> stopped
//	                                       \-> rejected-memory
//
// with cancelled and failed reachable from every state that still has work in
// flight, and disposed after Shutdown. Initialize, StartVM and StopVM return
// immediately; their outcome is published on the event bus. Each startup
// attempt ends with exactly one of Complete, Cancelled, RejectedMemory or
// Failed, and no event for that attempt follows it.
package controller

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"vmcontroller/pkg/define"
	"vmcontroller/pkg/errbuf"
	"vmcontroller/pkg/event"

	"github.com/sirupsen/logrus"
)

const (
	stageNegotiate = "negotiate"
	stageLaunch    = "launch"
	stageTerminate = "terminate"
	stageRelease   = "release"
)

// attempt is the bookkeeping of one startup attempt. Guarded by Controller.mu.
type attempt struct {
	id    uint64
	stage event.StageName

	// base shifts launch progress past negotiation progress so that the
	// attempt as a whole never goes backwards.
	base            uint64
	current         uint64
	total           uint64
	cancelRequested bool
	done            bool
}

type Option func(*Controller)

// WithStopTimeout bounds how long a stop, or the stop done by Shutdown, may take.
func WithStopTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.stopTimeout = d
		}
	}
}

// Controller manages one VM through an Executor. The zero value is not usable;
// create one with New.
type Controller struct {
	// Credentials are forwarded to the executor by Initialize. Set them before
	// calling Initialize; they must not be written while an Initialize runs.
	Credentials define.Credentials

	executor    Executor
	bus         *event.Bus
	stopTimeout time.Duration

	mu       sync.Mutex
	state    State
	memory   MemoryCapability
	attempts uint64
	attempt  *attempt
	cancel   context.CancelFunc
	worker   chan struct{}
	changed  chan struct{}
	exitCh   <-chan error
	lastErr  error

	shutdownStarted bool
	shutdownDone    chan struct{}
	done            chan struct{}
}

func New(executor Executor, opts ...Option) *Controller {
	c := &Controller{
		executor:     executor,
		bus:          event.NewBus(),
		stopTimeout:  define.DefaultStopTimeout,
		state:        StateCreated,
		changed:      make(chan struct{}),
		shutdownDone: make(chan struct{}),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Subscribe registers an observer for lifecycle events.
func (c *Controller) Subscribe(o event.Observer) (unsubscribe func()) {
	return c.bus.Subscribe(o)
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) MemoryCapability() MemoryCapability {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.memory
}

// Attempt returns the number of the current startup attempt, 0 before the first.
func (c *Controller) Attempt() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// LastError returns the last error that occurred outside of an attempt, such
// as a failed stop or an unexpected VM exit.
func (c *Controller) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// WaitForState blocks until the controller is in one of states or ctx is done.
func (c *Controller) WaitForState(ctx context.Context, states ...State) (State, error) {
	for {
		c.mu.Lock()
		s, changed := c.state, c.changed
		c.mu.Unlock()

		if slices.Contains(states, s) {
			return s, nil
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return s, ctx.Err()
		}
	}
}

// Initialize starts capability negotiation in the background. It is valid on a
// fresh controller and after an attempt ended in cancelled, rejected-memory or
// failed, in which case a new attempt begins.
func (c *Controller) Initialize() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.shutdownStarted {
		return invalidState("initialize", StateDisposed)
	}
	switch c.state {
	case StateCreated, StateCancelled, StateRejectedMemory, StateFailed:
	default:
		return invalidState("initialize", c.state)
	}

	creds := c.Credentials
	c.memory = MemoryUnknown
	att := c.beginAttemptLocked(event.Init)
	ctx, done := c.startWorkerLocked()
	c.setStateLocked(StateInitializing)

	logrus.Infof("initializing vm (attempt %d, credentials %s)", att.id, creds)
	go c.runInitialize(ctx, att, creds, done)
	return nil
}

func (c *Controller) runInitialize(ctx context.Context, att *attempt, creds define.Credentials, done chan struct{}) {
	defer close(done)

	c.mu.Lock()
	if c.abandonedLocked(ctx, att) {
		c.mu.Unlock()
		c.endAttempt(ctx, att, done, nil, false)
		return
	}
	c.setStateLocked(StateNegotiating)
	c.mu.Unlock()

	capability, err := c.executor.Negotiate(ctx, creds, c.progressReporter(ctx, att))

	c.mu.Lock()
	if err == nil && capability.HaveMemory && !c.abandonedLocked(ctx, att) {
		c.stopWorkerLocked(done)
		c.memory = MemoryAvailable
		c.setStateLocked(StateReady)
		logrus.Infof("vm ready to start (attempt %d)", att.id)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	var buf *errbuf.Buffer
	if err != nil {
		buf = errbuf.New()
		_ = buf.Add(stageNegotiate, err)
	}
	c.endAttempt(ctx, att, done, buf, err == nil)
}

// StartVM boots the VM in the background. It is valid once Initialize reached
// ready, and after a stop, in which case a new attempt begins.
func (c *Controller) StartVM() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.shutdownStarted {
		return invalidState("start vm", StateDisposed)
	}

	var att *attempt
	switch c.state {
	case StateReady:
		if c.attempt.cancelRequested {
			return invalidState("start vm", StateCancelled)
		}
		att = c.attempt
		att.stage = event.Run
		att.base = att.total
	case StateStopped:
		att = c.beginAttemptLocked(event.Run)
	default:
		return invalidState("start vm", c.state)
	}

	ctx, done := c.startWorkerLocked()
	c.setStateLocked(StateStarting)

	logrus.Infof("starting vm (attempt %d)", att.id)
	go c.runStart(ctx, att, done)
	return nil
}

func (c *Controller) runStart(ctx context.Context, att *attempt, done chan struct{}) {
	defer close(done)

	exitCh, err := c.executor.Launch(ctx, c.progressReporter(ctx, att))

	c.mu.Lock()
	if err == nil && !c.abandonedLocked(ctx, att) {
		c.stopWorkerLocked(done)
		c.exitCh = exitCh
		c.setStateLocked(StateRunning)
		c.finishAttemptLocked(att, event.Complete(att.id, att.stage))
		if exitCh != nil {
			go c.monitor(exitCh)
		}
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	var buf *errbuf.Buffer
	if err != nil {
		buf = errbuf.New()
		_ = buf.Add(stageLaunch, err)
	} else {
		// launched, but nobody wants it any more
		_ = c.terminate(context.Background())
	}
	c.endAttempt(ctx, att, done, buf, false)
}

// endAttempt releases the executor and then publishes the terminal event of
// att: Cancelled when the attempt was abandoned, RejectedMemory when rejected
// is set, Failed with buf otherwise. The controller lock must not be held.
func (c *Controller) endAttempt(ctx context.Context, att *attempt, done chan struct{}, buf *errbuf.Buffer, rejected bool) {
	c.release(buf)

	c.mu.Lock()
	defer c.mu.Unlock()

	abandoned := c.abandonedLocked(ctx, att)
	c.stopWorkerLocked(done)
	if c.state == StateDisposed {
		return
	}

	switch {
	case abandoned:
		c.setStateLocked(StateCancelled)
		c.finishAttemptLocked(att, event.Cancelled(att.id, att.stage))
	case rejected:
		c.memory = MemoryInsufficient
		c.setStateLocked(StateRejectedMemory)
		c.finishAttemptLocked(att, event.RejectedMemory(att.id, att.stage))
	default:
		c.setStateLocked(StateFailed)
		c.finishAttemptLocked(att, event.Failed(att.id, att.stage, buf))
	}
}

// monitor notices a VM that exits without being asked to.
func (c *Controller) monitor(exitCh <-chan error) {
	err, ok := <-exitCh
	if !ok {
		err = nil
	}

	c.mu.Lock()
	if c.exitCh != exitCh || c.state != StateRunning || c.shutdownStarted {
		c.mu.Unlock()
		return
	}
	c.exitCh = nil
	if err == nil {
		logrus.Infof("vm exited")
		c.setStateLocked(StateStopped)
		c.mu.Unlock()
		return
	}

	logrus.Errorf("vm exited unexpectedly: %v", err)
	c.lastErr = err
	_, done := c.startWorkerLocked()
	c.setStateLocked(StateStopping)
	c.mu.Unlock()

	c.release(nil)

	c.mu.Lock()
	defer c.mu.Unlock()
	defer close(done)
	c.stopWorkerLocked(done)
	if c.state != StateDisposed {
		c.setStateLocked(StateFailed)
	}
}

// StopVM asks a running VM to shut down gracefully. Calling it while the VM
// is already stopping or stopped does nothing.
func (c *Controller) StopVM() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.shutdownStarted {
		return invalidState("stop vm", StateDisposed)
	}
	switch c.state {
	case StateStopping, StateStopped:
		return nil
	case StateRunning:
	default:
		return invalidState("stop vm", c.state)
	}

	ctx, done := c.startWorkerLocked()
	c.setStateLocked(StateStopping)

	logrus.Infof("stopping vm")
	go c.runStop(ctx, done)
	return nil
}

func (c *Controller) runStop(ctx context.Context, done chan struct{}) {
	defer close(done)

	stopCtx, cancel := context.WithTimeout(ctx, c.stopTimeout)
	defer cancel()
	err := c.executor.Terminate(stopCtx)
	if err != nil {
		logrus.Errorf("failed to stop vm: %v", err)
		c.release(nil)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopWorkerLocked(done)

	if c.state == StateDisposed {
		return
	}

	c.exitCh = nil
	if err != nil {
		c.lastErr = err
		c.setStateLocked(StateFailed)
		return
	}

	logrus.Infof("vm stopped")
	c.setStateLocked(StateStopped)
}

// Cancel abandons an attempt that has not reached a terminal event yet:
// while initializing, negotiating or starting, and in ready before StartVM.
// It returns false when there is nothing to cancel.
func (c *Controller) Cancel() bool {
	c.mu.Lock()

	if c.shutdownStarted {
		c.mu.Unlock()
		return false
	}

	switch c.state {
	case StateInitializing, StateNegotiating, StateStarting:
		if !c.attempt.cancelRequested {
			logrus.Infof("cancelling attempt %d", c.attempt.id)
			c.attempt.cancelRequested = true
			c.cancel()
		}
		c.mu.Unlock()
		return true
	case StateReady:
		att := c.attempt
		if att.cancelRequested {
			c.mu.Unlock()
			return true
		}
		logrus.Infof("cancelling attempt %d", att.id)
		att.cancelRequested = true
		_, done := c.startWorkerLocked()
		c.mu.Unlock()

		c.release(nil)

		c.mu.Lock()
		defer c.mu.Unlock()
		defer close(done)
		c.stopWorkerLocked(done)
		if c.state != StateDisposed {
			c.setStateLocked(StateCancelled)
			c.finishAttemptLocked(att, event.Cancelled(att.id, att.stage))
		}
		return true
	default:
		c.mu.Unlock()
		return false
	}
}

// Shutdown releases everything and leaves the controller disposed. In-flight
// work is cancelled and waited for until ctx is done; teardown proceeds either
// way. Calling Shutdown again, also concurrently, returns nil once the first
// call has finished.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.shutdownStarted {
		c.mu.Unlock()
		select {
		case <-c.shutdownDone:
		case <-ctx.Done():
		}
		return nil
	}
	c.shutdownStarted = true

	if c.attempt != nil && !c.attempt.done {
		c.attempt.cancelRequested = true
	}
	// a graceful stop in progress is allowed to finish
	if c.cancel != nil && c.state != StateStopping {
		c.cancel()
	}
	worker := c.worker
	c.mu.Unlock()

	if worker != nil {
		select {
		case <-worker:
		case <-ctx.Done():
			logrus.Warnf("shutdown: in-flight operation did not finish: %v", ctx.Err())
		}
	}

	logrus.Infof("shutting down vm controller")

	c.mu.Lock()
	running := c.exitCh != nil || c.state == StateRunning || c.state == StateStopping
	c.exitCh = nil
	c.mu.Unlock()

	var errs []error
	if running {
		if err := c.terminate(context.WithoutCancel(ctx)); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.executor.Close(); err != nil {
		errs = append(errs, err)
	}

	c.mu.Lock()
	if c.attempt != nil && !c.attempt.done {
		c.finishAttemptLocked(c.attempt, event.Cancelled(c.attempt.id, c.attempt.stage))
	}
	c.setStateLocked(StateDisposed)
	c.bus.Close()
	close(c.shutdownDone)
	c.mu.Unlock()

	go func() {
		<-c.bus.Done()
		close(c.done)
	}()
	return errors.Join(errs...)
}

// Done returns a channel closed once Shutdown finished and every observer has
// received its last event.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

func (c *Controller) beginAttemptLocked(stage event.StageName) *attempt {
	c.attempts++
	c.attempt = &attempt{id: c.attempts, stage: stage}
	return c.attempt
}

func (c *Controller) startWorkerLocked() (context.Context, chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.cancel = cancel
	c.worker = done
	return ctx, done
}

// stopWorkerLocked forgets the worker owning done and releases its context.
// Decide the outcome of the worker before calling it.
func (c *Controller) stopWorkerLocked(done chan struct{}) {
	if c.worker != done {
		return
	}
	c.cancel()
	c.cancel = nil
	c.worker = nil
}

func (c *Controller) abandonedLocked(ctx context.Context, att *attempt) bool {
	return att.cancelRequested || ctx.Err() != nil
}

func (c *Controller) setStateLocked(s State) {
	if c.state == s {
		return
	}
	logrus.Debugf("vm controller: %s -> %s", c.state, s)
	c.state = s
	close(c.changed)
	c.changed = make(chan struct{})
}

// progressReporter returns the ProgressFunc handed to the executor for att.
func (c *Controller) progressReporter(ctx context.Context, att *attempt) ProgressFunc {
	return func(current, total uint64) {
		c.mu.Lock()
		defer c.mu.Unlock()

		if att.done || c.abandonedLocked(ctx, att) {
			return
		}
		if current > total {
			current = total
		}
		current, total = current+att.base, total+att.base
		if current < att.current {
			logrus.Debugf("dropping regressing progress %d/%d (last %d)", current, total, att.current)
			return
		}
		att.current, att.total = current, total
		c.bus.Publish(event.Progress(att.id, att.stage, current, total))
	}
}

// finishAttemptLocked publishes the terminal event of att unless it already has one.
func (c *Controller) finishAttemptLocked(att *attempt, e event.Event) {
	if att.done {
		return
	}
	att.done = true
	logrus.Debugf("attempt %d finished: %s", att.id, e.Kind)
	c.bus.Publish(e)
}

// release closes the executor. Errors are recorded in buf when given.
func (c *Controller) release(buf *errbuf.Buffer) {
	if err := c.executor.Close(); err != nil {
		logrus.Warnf("failed to release vm resources: %v", err)
		if buf != nil {
			_ = buf.Add(stageRelease, err)
		}
	}
}

// terminate stops a launched VM, bounded by the stop timeout.
func (c *Controller) terminate(parent context.Context) error {
	ctx, cancel := context.WithTimeout(parent, c.stopTimeout)
	defer cancel()

	if err := c.executor.Terminate(ctx); err != nil {
		logrus.Warnf("failed to %s vm: %v", stageTerminate, err)
		return err
	}
	return nil
}
