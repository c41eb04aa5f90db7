package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"vmcontroller/pkg/define"
	"vmcontroller/pkg/system"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"
)

func showVersionAndOSInfo(ctx context.Context) {
	var version strings.Builder
	if define.Version != "" {
		version.WriteString(define.Version)
	} else {
		version.WriteString("unknown")
	}

	version.WriteString("-")

	if define.CommitID != "" {
		version.WriteString(define.CommitID)
	} else {
		version.WriteString("(unknown)")
	}

	logrus.Debugf("%s version: %s", os.Args[0], version.String())

	osInfo, err := system.GetOSVersion(ctx)
	if err != nil {
		logrus.Debugf("failed to get os version: %v", err)
		return
	}
	logrus.Debugf("os version: %s", osInfo)
}

func setLogrus(command *cli.Command) {
	logrus.SetLevel(logrus.InfoLevel)
	if command.Bool(define.FlagVerbose) {
		logrus.SetLevel(logrus.DebugLevel)
	}

	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		ForceColors:     true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})
	logrus.SetOutput(os.Stderr)
}

func setMaxMemory() uint64 {
	mb, err := system.GetMaxMemoryInMB()
	if err != nil {
		logrus.Warnf("failed to get max memory: %v", err)
		return define.DefaultMemoryInMB
	}

	return mb
}

// credentials collects the executor credentials, prompting for a missing
// password when stdin is a terminal.
func credentials(command *cli.Command) (define.Credentials, error) {
	creds := define.Credentials{
		Scheme:   command.String(define.FlagScheme),
		Username: command.String(define.FlagUsername),
		Password: command.String(define.FlagPassword),
	}

	if creds.Username != "" && creds.Password == "" && system.IsTerminal() {
		pass, err := system.ReadPassword(fmt.Sprintf("Password for %s: ", creds.Username))
		if err != nil {
			return define.Credentials{}, err
		}
		creds.Password = pass
	}

	return creds, nil
}
