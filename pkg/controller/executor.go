package controller

import (
	"context"

	"vmcontroller/pkg/define"
)

// ProgressFunc receives progress from an executor. Values that would make
// progress go backwards or past total are dropped or clamped by the controller.
type ProgressFunc func(current, total uint64)

// Capability is the result of negotiating with the host.
type Capability struct {
	HaveMemory bool
}

// Executor is the mechanism that actually brings a VM up and down. Every
// method must honour ctx cancellation at its earliest convenience.
type Executor interface {
	// Negotiate checks the host can run the VM and acquires what the launch
	// will need.
	Negotiate(ctx context.Context, creds define.Credentials, report ProgressFunc) (Capability, error)

	// Launch boots the VM. The returned channel receives the VM's exit
	// status (nil for a clean exit) and may be closed afterwards.
	Launch(ctx context.Context, report ProgressFunc) (<-chan error, error)

	// Terminate asks the VM to stop and waits for it to exit.
	Terminate(ctx context.Context) error

	// Close releases everything acquired since the last Close. It must be
	// safe to call repeatedly.
	Close() error
}
