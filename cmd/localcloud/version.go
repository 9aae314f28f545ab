// Copyright (c) The localcloud Authors
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"strings"

	"github.com/mitchellh/cli"

	"github.com/localcloud/localcloud/version"
)

// VersionCommand prints the localcloud version.
type VersionCommand struct {
	UI cli.Ui
}

func (c *VersionCommand) Help() string {
	return strings.TrimSpace(`
Usage: localcloud version [options]

  Prints the version of this localcloud build.

Options:

  -json   Output the version information as a JSON object.
`)
}

func (c *VersionCommand) Synopsis() string {
	return "Print the localcloud version"
}

func (c *VersionCommand) Run(args []string) int {
	flags := flag.NewFlagSet("version", flag.ContinueOnError)
	flags.Usage = func() { c.UI.Error(c.Help()) }
	jsonOutput := flags.Bool("json", false, "json output")
	if err := flags.Parse(args); err != nil {
		return 1
	}

	if *jsonOutput {
		out, err := json.MarshalIndent(map[string]string{
			"version": version.String(),
		}, "", "  ")
		if err != nil {
			c.UI.Error(err.Error())
			return 1
		}
		c.UI.Output(string(out))
		return 0
	}

	c.UI.Output(fmt.Sprintf("localcloud v%s", version.String()))
	return 0
}
