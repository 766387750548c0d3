// Command xpersist inspects and maintains a result cache.
//
//	xpersist --cache-dir /var/cache/xpersist ls
//	xpersist --config xpersist.yaml prune --older-than 720h
//	xpersist --config xpersist.yaml health --json
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v3"
)

func main() {
	os.Exit(realMain(context.Background(), os.Args, os.Stdout, os.Stderr))
}

func realMain(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	app := newApp(stdout, stderr)
	if err := app.Run(ctx, args); err != nil {
		if errors.Is(err, errUnhealthy) {
			return 3
		}
		fmt.Fprintln(stderr, err)
		return 1
	}
	return 0
}

func newApp(stdout, stderr io.Writer) *cli.Command {
	return &cli.Command{
		Name:      "xpersist",
		Usage:     "inspect and maintain a content-addressed result cache",
		Writer:    stdout,
		ErrWriter: stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to the YAML configuration",
				Sources: cli.NewValueSourceChain(cli.EnvVar("XPERSIST_CONFIG")),
			},
			&cli.StringFlag{
				Name:    "cache-dir",
				Usage:   "cache root, overrides cache_dir",
				Sources: cli.NewValueSourceChain(cli.EnvVar("XPERSIST_CACHE_DIR")),
			},
			&cli.StringFlag{
				Name:    "backend",
				Usage:   "backend name, overrides backend",
				Sources: cli.NewValueSourceChain(cli.EnvVar("XPERSIST_BACKEND")),
			},
		},
		Commands: []*cli.Command{
			lsCommand(),
			infoCommand(),
			rmCommand(),
			pruneCommand(),
			healthCommand(),
		},
	}
}
