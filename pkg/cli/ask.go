package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/chzyer/readline"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/queryscribe/pkg/model"
	"github.com/m-mizutani/queryscribe/pkg/usecase/scribe"
	"github.com/m-mizutani/queryscribe/pkg/utils/logging"
	"github.com/m-mizutani/queryscribe/pkg/utils/metrics"
	"github.com/urfave/cli/v3"
)

// questionFrom joins arguments as a question, or reads stdin when piped.
func questionFrom(c *cli.Command) (string, error) {
	if c.Args().Len() > 0 {
		return strings.Join(c.Args().Slice(), " "), nil
	}
	if stdinIsTerminal() {
		return "", goerr.New("question is required")
	}

	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", goerr.Wrap(err, "failed to read question from stdin")
	}
	q := strings.TrimSpace(string(data))
	if q == "" {
		return "", goerr.New("question is required")
	}
	return q, nil
}

func retrieveCommand() *cli.Command {
	var cfg config

	return &cli.Command{
		Name:      "retrieve",
		Usage:     "Show tables relevant to a question",
		ArgsUsage: "<question>",
		Flags:     indexFlags(&cfg),
		Action: func(ctx context.Context, c *cli.Command) error {
			question, err := questionFrom(c)
			if err != nil {
				return err
			}

			rt, err := cfg.newRuntime(ctx, false)
			if err != nil {
				return err
			}
			defer rt.Close()

			result, err := rt.svc.RetrieveContext(ctx, question, int(cfg.topK), cfg.threshold)
			if err != nil {
				return err
			}
			writeRetrieval(c.Root().Writer, result)
			return nil
		},
	}
}

// startMetrics serves metrics in background if an address is configured.
func (cfg *config) startMetrics(ctx context.Context) {
	if cfg.metricsAddr == "" {
		return
	}
	go func() {
		if err := metrics.Serve(ctx, cfg.metricsAddr); err != nil {
			logging.From(ctx).Error("metrics server stopped", "error", err)
		}
	}()
}

func ask(ctx context.Context, svc *scribe.Service, w io.Writer, question string, asJSON bool) error {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
	s.Suffix = " thinking..."
	if !asJSON {
		s.Start()
	}
	session, err := svc.Ask(ctx, question)
	s.Stop()

	if session == nil {
		return err
	}
	if asJSON {
		if jsonErr := writeJSON(w, session); jsonErr != nil {
			return jsonErr
		}
	} else {
		writeSession(w, session)
	}
	return err
}

func askCommand() *cli.Command {
	var (
		cfg    config
		asJSON bool
	)

	flags := []cli.Flag{
		&cli.BoolFlag{
			Name:        "json",
			Usage:       "Print the session as JSON",
			Destination: &asJSON,
		},
	}
	flags = append(flags, askFlags(&cfg)...)

	return &cli.Command{
		Name:      "ask",
		Usage:     "Answer a question by generating and running a query",
		ArgsUsage: "<question>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			question, err := questionFrom(c)
			if err != nil {
				return err
			}

			rt, err := cfg.newRuntime(ctx, true)
			if err != nil {
				return err
			}
			defer rt.Close()

			cfg.startMetrics(ctx)
			return ask(ctx, rt.svc, c.Root().Writer, question, asJSON)
		},
	}
}

func shellCommand() *cli.Command {
	var (
		cfg         config
		historyFile string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "history-file",
			Usage:       "File to keep input history of the shell",
			Value:       filepath.Join(os.TempDir(), "queryscribe_history"),
			Sources:     cli.EnvVars("QUERYSCRIBE_HISTORY_FILE"),
			Destination: &historyFile,
		},
	}
	flags = append(flags, askFlags(&cfg)...)

	return &cli.Command{
		Name:  "shell",
		Usage: "Ask questions interactively",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			rt, err := cfg.newRuntime(ctx, true)
			if err != nil {
				return err
			}
			defer rt.Close()

			cfg.startMetrics(ctx)

			rl, err := readline.NewEx(&readline.Config{
				Prompt:          "queryscribe> ",
				HistoryFile:     historyFile,
				InterruptPrompt: "^C",
				EOFPrompt:       "exit",
			})
			if err != nil {
				return goerr.Wrap(err, "failed to initialize readline")
			}
			defer rl.Close()

			w := c.Root().Writer
			fmt.Fprintf(w, "%d tables indexed. Type \\help for commands.\n", rt.svc.Snapshot().Len())

			for {
				line, err := rl.Readline()
				if errors.Is(err, readline.ErrInterrupt) {
					if line == "" {
						return nil
					}
					continue
				}
				if errors.Is(err, io.EOF) {
					return nil
				}
				if err != nil {
					return goerr.Wrap(err, "failed to read input")
				}

				quit, err := shellLine(ctx, rt.svc, w, strings.TrimSpace(line))
				if err != nil {
					logging.From(ctx).Error("failed to answer", "error", err)
				}
				if quit {
					return nil
				}
			}
		},
	}
}

// shellLine handles one line of shell input. It returns true when the shell should exit.
func shellLine(ctx context.Context, svc *scribe.Service, w io.Writer, line string) (bool, error) {
	switch {
	case line == "":
		return false, nil

	case line == `\quit` || line == `\q`:
		return true, nil

	case line == `\help`:
		fmt.Fprintln(w, `\tables             list indexed tables`)
		fmt.Fprintln(w, `\history            list recent sessions`)
		fmt.Fprintln(w, `\attempts <id>      show attempts of a session`)
		fmt.Fprintln(w, `\quit               exit`)
		return false, nil

	case line == `\tables`:
		writeTables(w, svc.Snapshot())
		return false, nil

	case line == `\history`:
		sessions, err := svc.ListSessions(ctx, 0, 20)
		if err != nil {
			return false, err
		}
		writeSessionList(w, sessions)
		return false, nil

	case strings.HasPrefix(line, `\attempts`):
		id := strings.TrimSpace(strings.TrimPrefix(line, `\attempts`))
		if id == "" {
			return false, goerr.New("session ID is required")
		}
		session, err := svc.GetSession(ctx, model.SessionID(id))
		if err != nil {
			return false, err
		}
		writeAttempts(w, session)
		return false, nil

	case strings.HasPrefix(line, `\`):
		fmt.Fprintf(w, "unknown command: %s\n", line)
		return false, nil
	}

	return false, ask(ctx, svc, w, line, false)
}
