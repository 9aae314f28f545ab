// Copyright (c) The localcloud Authors
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/mitchellh/cli"

	"github.com/localcloud/localcloud/internal/logging"
	"github.com/localcloud/localcloud/version"
)

func main() {
	os.Exit(realMain())
}

func realMain() int {
	defer logging.PanicHandler()

	// A .env next to the working directory seeds the environment, so a
	// checked-in development configuration works without exporting
	// anything. A missing file is fine.
	_ = godotenv.Load()

	ui := &cli.BasicUi{
		Writer:      os.Stdout,
		ErrorWriter: os.Stderr,
	}

	c := cli.NewCLI("localcloud", version.String())
	c.Args = os.Args[1:]
	c.Commands = map[string]cli.CommandFactory{
		"serve": func() (cli.Command, error) {
			return &ServeCommand{UI: ui}, nil
		},
		"sdist": func() (cli.Command, error) {
			return &SdistCommand{UI: ui}, nil
		},
		"endpoints": func() (cli.Command, error) {
			return &EndpointsCommand{UI: ui}, nil
		},
		"version": func() (cli.Command, error) {
			return &VersionCommand{UI: ui}, nil
		},
	}

	exitStatus, err := c.Run()
	if err != nil {
		ui.Error(err.Error())
	}
	return exitStatus
}
