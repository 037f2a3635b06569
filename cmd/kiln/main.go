package main

import (
	"context"
	"os"

	"github.com/carlmjohnson/versioninfo"
	"github.com/urfave/cli/v3"

	"kiln.build/core/composer"
	"kiln.build/core/log"
)

func main() {
	cmd := &cli.Command{
		Name:    "kiln",
		Usage:   "message-bus-driven ostree compose daemon",
		Version: versioninfo.Short(),
		Commands: []*cli.Command{
			composer.Command(),
			composer.ComposeCommand(),
		},
	}

	ctx := context.Background()
	logger := log.New("kiln")
	ctx = log.IntoContext(ctx, logger)

	if err := cmd.Run(ctx, os.Args); err != nil {
		logger.Error(err.Error())
		os.Exit(-1)
	}
}
