package main

import (
	"context"
	"os"

	"github.com/carlmjohnson/versioninfo"
	"github.com/urfave/cli/v3"

	"shipgate.sh/core/log"
	"shipgate.sh/core/warden"
)

func main() {
	cmd := &cli.Command{
		Name:    "gate",
		Usage:   "deployment governance and execution state engine",
		Version: versioninfo.Short(),
		Commands: []*cli.Command{
			warden.Command(),
		},
	}

	ctx := context.Background()
	logger := log.New("gate")
	ctx = log.IntoContext(ctx, logger)

	if err := cmd.Run(ctx, os.Args); err != nil {
		logger.Error(err.Error())
		os.Exit(-1)
	}
}
