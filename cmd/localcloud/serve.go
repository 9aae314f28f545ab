// Copyright (c) The localcloud Authors
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/mitchellh/cli"

	"github.com/localcloud/localcloud/internal/edge"
	"github.com/localcloud/localcloud/internal/endpoints"
	"github.com/localcloud/localcloud/internal/logging"
	"github.com/localcloud/localcloud/version"
)

// ServeCommand runs the edge server until interrupted.
type ServeCommand struct {
	UI cli.Ui
}

func (c *ServeCommand) Help() string {
	return strings.TrimSpace(`
Usage: localcloud serve [options]

  Starts the edge server and serves every simulated AWS service on a
  single port until interrupted.

Options:

  -host=addr   Address to bind to. Defaults to all interfaces.

  -port=n      Port to listen on. Defaults to LOCALCLOUD_PORT from the
               environment, or ` + fmt.Sprint(endpoints.DefaultEdgePort) + `.
`)
}

// defaultPort is LOCALCLOUD_PORT when set and numeric, else the
// standard edge port.
func defaultPort() int {
	if v := os.Getenv("LOCALCLOUD_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return endpoints.DefaultEdgePort
}

func (c *ServeCommand) Synopsis() string {
	return "Run the local AWS edge server"
}

func (c *ServeCommand) Run(args []string) int {
	flags := flag.NewFlagSet("serve", flag.ContinueOnError)
	flags.Usage = func() { c.UI.Error(c.Help()) }
	host := flags.String("host", "", "bind address")
	port := flags.Int("port", defaultPort(), "listen port")
	if err := flags.Parse(args); err != nil {
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := logging.HCLogger()
	logger.Info("localcloud version", "version", version.String())
	for _, mod := range version.InterestingDependencies() {
		logger.Debug("dependency", "path", mod.Path, "version", mod.Version)
	}

	addr := fmt.Sprintf("%s:%d", *host, *port)
	server := edge.NewServer(logger)

	c.UI.Output(fmt.Sprintf("localcloud edge listening on %s", addr))
	if err := server.Serve(ctx, addr); err != nil {
		c.UI.Error(fmt.Sprintf("Error running edge server: %s", err))
		return 1
	}
	return 0
}
