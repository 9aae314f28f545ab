// Copyright (c) The localcloud Authors
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"strings"

	"github.com/mitchellh/cli"

	"github.com/localcloud/localcloud/internal/endpoints"
)

// EndpointsCommand prints the service endpoint map that points AWS
// tooling at a running edge.
type EndpointsCommand struct {
	UI cli.Ui
}

func (c *EndpointsCommand) Help() string {
	return strings.TrimSpace(`
Usage: localcloud endpoints [options]

  Prints the mapping of every supported service alias to the local
  edge URL. The HCL form can be pasted into a Terraform AWS provider
  "endpoints" block; the JSON form suits other tooling.

  The edge URL comes from LOCALCLOUD_ENDPOINT, or LOCALCLOUD_PORT, or
  falls back to ` + endpoints.DefaultEdgeURL + `.

Options:

  -format=hcl|json   Output format. Defaults to hcl.
`)
}

func (c *EndpointsCommand) Synopsis() string {
	return "Print the service endpoint map for the local edge"
}

func (c *EndpointsCommand) Run(args []string) int {
	flags := flag.NewFlagSet("endpoints", flag.ContinueOnError)
	flags.Usage = func() { c.UI.Error(c.Help()) }
	format := flags.String("format", "hcl", "output format")
	if err := flags.Parse(args); err != nil {
		return 1
	}

	local := endpoints.Local(endpoints.EdgeURLFromEnv())

	switch *format {
	case "hcl":
		var b strings.Builder
		b.WriteString("endpoints {\n")
		for _, alias := range endpoints.All() {
			fmt.Fprintf(&b, "  %-24s = %q\n", alias, local[alias])
		}
		b.WriteString("}")
		c.UI.Output(b.String())
	case "json":
		out, err := json.MarshalIndent(local, "", "  ")
		if err != nil {
			c.UI.Error(err.Error())
			return 1
		}
		c.UI.Output(string(out))
	default:
		c.UI.Error(fmt.Sprintf("Unsupported format %q; expected hcl or json.", *format))
		return 1
	}
	return 0
}
