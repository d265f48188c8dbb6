package cli

import (
	"context"
	"os"

	"github.com/m-mizutani/queryscribe/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

type Error struct {
	Code    int
	Message string
}

func Run(ctx context.Context, argv []string) *Error {
	var (
		logLevel  string
		logFormat string
	)

	cmd := &cli.Command{
		Name:  "queryscribe",
		Usage: "Answer questions about a database with self-correcting SQL",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "log-level",
				Aliases:     []string{"l"},
				Usage:       "Log level (debug, info, warn, error)",
				Value:       "info",
				Sources:     cli.EnvVars("QUERYSCRIBE_LOG_LEVEL"),
				Destination: &logLevel,
			},
			&cli.StringFlag{
				Name:        "log-format",
				Usage:       "Log format (console, json)",
				Value:       string(logging.FormatConsole),
				Sources:     cli.EnvVars("QUERYSCRIBE_LOG_FORMAT"),
				Destination: &logFormat,
			},
		},
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			logger := logging.New(logLevel, os.Stderr, logging.WithFormat(logging.Format(logFormat)))
			logging.SetDefault(logger)
			return logging.With(ctx, logger), nil
		},
		Commands: []*cli.Command{
			indexCommand(),
			tablesCommand(),
			statusCommand(),
			retrieveCommand(),
			askCommand(),
			shellCommand(),
			historyCommand(),
			showCommand(),
		},
	}

	if err := cmd.Run(ctx, argv); err != nil {
		logging.From(ctx).Error("command failed", "error", err)
		return &Error{
			Code:    1,
			Message: err.Error(),
		}
	}

	return nil
}
