package main

import (
	"context"
	"fmt"
	"os"

	"github.com/tobert/otlp-waterfall/internal/cli"
	"github.com/tobert/otlp-waterfall/internal/mcpserver"
	cliframework "github.com/urfave/cli/v3"
)

func main() {
	app := &cliframework.Command{
		Name:    "otlp-waterfall",
		Usage:   "Trace waterfalls for OTLP traces, in the terminal, over MCP and on the web",
		Version: mcpserver.Version,
		Commands: []*cliframework.Command{
			cli.ServeCommand(),
			cli.RenderCommand(),
			cli.CheckCommand(),
			cli.SendCommand(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "❌ error: %v\n", err)
		os.Exit(1)
	}
}
