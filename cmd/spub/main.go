package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/elsanchez/smart-publish/pkg/client"
)

const (
	version = "0.1.0"
)

func main() {
	app := &cli.Command{
		Name:    "spub",
		Usage:   "Publish local videos to creator platforms through smart-publishd",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "socket",
				Usage: "Daemon Unix socket (default: $XDG_RUNTIME_DIR/smart-publish.sock)",
			},
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Daemon HTTP base URL instead of the socket, e.g. http://127.0.0.1:5409",
			},
		},
		Commands: []*cli.Command{
			publishCommand(),
			batchCommand(),
			statusCommand(),
			listCommand(),
			cancelCommand(),
			statsCommand(),
			watchCommand(),
			accountsCommand(),
			loginCommand(),
			tuiCommand(),
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newClient crea el cliente según los flags globales
func newClient(cmd *cli.Command) *client.Client {
	if addr := cmd.String("addr"); addr != "" {
		return client.NewTCPClient(addr)
	}
	if socket := cmd.String("socket"); socket != "" {
		return client.NewClient(socket)
	}
	return client.NewDefaultClient()
}
