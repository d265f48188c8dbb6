package cli

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/queryscribe/pkg/model"
	"github.com/urfave/cli/v3"
)

func showCommand() *cli.Command {
	var (
		cfg       config
		sessionID model.SessionID
		attempts  bool
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "session-id",
			Aliases:     []string{"id"},
			Usage:       "Session ID to show",
			Sources:     cli.EnvVars("QUERYSCRIBE_SESSION_ID"),
			Destination: (*string)(&sessionID),
			Required:    true,
		},
		&cli.BoolFlag{
			Name:        "attempts",
			Usage:       "Show attempts as a table instead of JSON",
			Destination: &attempts,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)

	return &cli.Command{
		Name:  "show",
		Usage: "Show detailed information of a recorded session",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			repo, err := cfg.requireRepository()
			if err != nil {
				return err
			}

			session, err := repo.GetSession(ctx, sessionID)
			if err != nil {
				return goerr.Wrap(err, "failed to show session", goerr.V("session_id", sessionID))
			}

			if attempts {
				writeAttempts(c.Root().Writer, session)
				return nil
			}
			return writeJSON(c.Root().Writer, session)
		},
	}
}
