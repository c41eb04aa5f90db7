package main

import (
	"context"

	"vmcontroller/pkg/define"
	"vmcontroller/pkg/executor/remote"

	"github.com/urfave/cli/v3"
)

var connectVM = cli.Command{
	Name:        "connect",
	Usage:       "boot a vm on a remote orchestrator",
	UsageText:   "connect --endpoint <url> [flags]",
	Description: "negotiate a session with a remote orchestrator and keep its vm running until interrupted",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     define.FlagEndpoint,
			Usage:    "orchestrator endpoint, e.g. https://vm.example.com:8443 or unix:///run/orchestrator.sock",
			Required: true,
		},
	},
	Action: func(ctx context.Context, command *cli.Command) error {
		return vmLifeCycle(ctx, command, remote.New(command.String(define.FlagEndpoint)), nil)
	},
}
