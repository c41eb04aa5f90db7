package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"vmcontroller/pkg/controller"
	"vmcontroller/pkg/define"
	"vmcontroller/pkg/event"
	"vmcontroller/pkg/httpserver"
	"vmcontroller/pkg/vmconfig"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

// vmLifeCycle drives executor from initialization to a running vm, serves the
// management API alongside, and stops the vm once ctx is cancelled.
func vmLifeCycle(ctx context.Context, command *cli.Command, executor controller.Executor, vmc *vmconfig.VMConfig) error {
	creds, err := credentials(command)
	if err != nil {
		return err
	}

	stopTimeout := command.Duration(define.FlagStopTimeout)
	ctrl := controller.New(executor, controller.WithStopTimeout(stopTimeout))
	ctrl.Credentials = creds
	ctrl.Subscribe(event.LogObserver{})

	if reporter := event.InitializeReporter(command.String(define.FlagReportURL)); reporter != nil {
		defer reporter.Close()
		ctrl.Subscribe(reporter)
	}

	g, ctx := errgroup.WithContext(ctx)
	apiCtx, stopAPI := context.WithCancel(ctx)
	defer stopAPI()

	if addr := command.String(define.FlagRestAPIAddr); addr != "" {
		g.Go(func() error {
			err := httpserver.NewManagementAPIServer(addr, ctrl, vmc).Start(apiCtx)
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		defer stopAPI()
		defer shutdown(ctrl, stopTimeout)
		return drive(ctx, ctrl, command.Duration(define.FlagStartupTimeout), stopTimeout)
	})

	return g.Wait()
}

func drive(ctx context.Context, ctrl *controller.Controller, startupTimeout, stopTimeout time.Duration) error {
	startupCtx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()

	if err := ctrl.Initialize(); err != nil {
		return err
	}
	state, err := ctrl.WaitForState(startupCtx, controller.StateReady,
		controller.StateRejectedMemory, controller.StateFailed, controller.StateCancelled, controller.StateDisposed)
	if err != nil {
		ctrl.Cancel()
		return fmt.Errorf("vm did not become ready: %w", err)
	}
	if state != controller.StateReady {
		return fmt.Errorf("vm initialization ended %s", state)
	}

	if err := ctrl.StartVM(); err != nil {
		return err
	}
	state, err = ctrl.WaitForState(startupCtx, controller.StateRunning,
		controller.StateFailed, controller.StateCancelled, controller.StateDisposed)
	if err != nil {
		ctrl.Cancel()
		return fmt.Errorf("vm did not start: %w", err)
	}
	if state != controller.StateRunning {
		return fmt.Errorf("vm start ended %s", state)
	}

	logrus.Infof("vm is running, press Ctrl+C to stop it")
	state, err = ctrl.WaitForState(ctx, controller.StateStopped, controller.StateFailed, controller.StateDisposed)
	if err == nil {
		if state == controller.StateFailed {
			return fmt.Errorf("vm failed: %w", ctrl.LastError())
		}
		logrus.Infof("vm is %s", state)
		return nil
	}

	if err := ctrl.StopVM(); err != nil {
		// disposed through the management API meanwhile
		logrus.Debugf("stop vm: %v", err)
		return nil
	}
	stopCtx, cancelStop := context.WithTimeout(context.Background(), stopTimeout*2)
	defer cancelStop()
	if _, err := ctrl.WaitForState(stopCtx, controller.StateStopped, controller.StateFailed, controller.StateDisposed); err != nil {
		return fmt.Errorf("vm did not stop: %w", err)
	}
	return nil
}

func shutdown(ctrl *controller.Controller, stopTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout*2)
	defer cancel()

	if err := ctrl.Shutdown(ctx); err != nil {
		logrus.Warnf("shutdown: %v", err)
	}
	select {
	case <-ctrl.Done():
	case <-ctx.Done():
	}
}
