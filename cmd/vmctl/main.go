package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"vmcontroller/pkg/define"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"
)

func main() {
	app := cli.Command{
		Name:                      os.Args[0],
		Usage:                     "drive the lifecycle of a virtual machine",
		UsageText:                 os.Args[0] + " [command] [flags]",
		Description:               "negotiate, boot and stop a virtual machine, locally with vfkit or on a remote orchestrator",
		Before:                    earlyStage,
		DisableSliceFlagSeparator: true,
		Flags:                     globalFlags(),
	}

	app.Commands = []*cli.Command{
		&runVM,
		&connectVM,
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		logrus.Fatal(err)
	}
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:  define.FlagVerbose,
			Usage: "enable debug logging",
		},
		&cli.StringFlag{
			Name:  define.FlagRestAPIAddr,
			Usage: "serve the management API on this address, e.g. unix:///tmp/vmctl.sock or tcp://127.0.0.1:8080",
		},
		&cli.StringFlag{
			Name:  define.FlagReportURL,
			Usage: "report lifecycle events to this unix socket, e.g. unix:///tmp/report.sock",
		},
		&cli.StringFlag{
			Name:  define.FlagScheme,
			Usage: "transport scheme handed to the executor (http, https, unix)",
		},
		&cli.StringFlag{
			Name:    define.FlagUsername,
			Usage:   "user name handed to the executor",
			Sources: cli.EnvVars(define.EnvUsername),
		},
		&cli.StringFlag{
			Name:    define.FlagPassword,
			Usage:   "password handed to the executor, prompted for when a user name is set",
			Sources: cli.EnvVars(define.EnvPassword),
		},
		&cli.DurationFlag{
			Name:  define.FlagStartupTimeout,
			Usage: "give up when the vm is not running after this long",
			Value: define.DefaultStartupTimeout,
		},
		&cli.DurationFlag{
			Name:  define.FlagStopTimeout,
			Usage: "kill the vm when a graceful stop takes longer",
			Value: define.DefaultStopTimeout,
		},
	}
}

func earlyStage(ctx context.Context, command *cli.Command) (context.Context, error) {
	setLogrus(command)
	showVersionAndOSInfo(ctx)
	ctx, _ = signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT, os.Interrupt)

	return ctx, nil
}
