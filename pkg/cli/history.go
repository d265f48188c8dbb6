package cli

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func historyCommand() *cli.Command {
	var (
		cfg    config
		offset int64
		limit  int64
	)

	flags := []cli.Flag{
		&cli.IntFlag{
			Name:        "offset",
			Usage:       "Number of sessions to skip",
			Destination: &offset,
		},
		&cli.IntFlag{
			Name:        "limit",
			Aliases:     []string{"n"},
			Usage:       "Maximum number of sessions to list",
			Value:       20,
			Destination: &limit,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)

	return &cli.Command{
		Name:  "history",
		Usage: "List recorded sessions, newest first",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			repo, err := cfg.requireRepository()
			if err != nil {
				return err
			}

			sessions, err := repo.ListSessions(ctx, int(offset), int(limit))
			if err != nil {
				return goerr.Wrap(err, "failed to list sessions")
			}

			writeSessionList(c.Root().Writer, sessions)
			return nil
		},
	}
}
