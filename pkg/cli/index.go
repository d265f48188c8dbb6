package cli

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
)

func indexCommand() *cli.Command {
	var cfg config

	return &cli.Command{
		Name:  "index",
		Usage: "Build the schema index, or load it from snapshot storage",
		Flags: indexFlags(&cfg),
		Action: func(ctx context.Context, c *cli.Command) error {
			rt, err := cfg.newRuntime(ctx, false)
			if err != nil {
				return err
			}
			defer rt.Close()

			snap := rt.svc.Snapshot()
			fmt.Fprintf(c.Root().Writer, "Indexed %d tables (snapshot %s)\n", snap.Len(), snap.ID)
			return nil
		},
	}
}

func tablesCommand() *cli.Command {
	var cfg config

	return &cli.Command{
		Name:  "tables",
		Usage: "List tables of the schema index",
		Flags: indexFlags(&cfg),
		Action: func(ctx context.Context, c *cli.Command) error {
			rt, err := cfg.newRuntime(ctx, false)
			if err != nil {
				return err
			}
			defer rt.Close()

			writeTables(c.Root().Writer, rt.svc.Snapshot())
			return nil
		},
	}
}

type statusView struct {
	SnapshotID     string   `json:"snapshot_id"`
	EmbeddingModel string   `json:"embedding_model"`
	CreatedAt      string   `json:"created_at"`
	Tables         int      `json:"tables"`
	Dimension      int      `json:"dimension"`
	TableNames     []string `json:"table_names"`
}

func statusCommand() *cli.Command {
	var cfg config

	return &cli.Command{
		Name:  "status",
		Usage: "Show the current schema snapshot",
		Flags: indexFlags(&cfg),
		Action: func(ctx context.Context, c *cli.Command) error {
			rt, err := cfg.newRuntime(ctx, false)
			if err != nil {
				return err
			}
			defer rt.Close()

			snap := rt.svc.Snapshot()
			view := statusView{
				SnapshotID:     string(snap.ID),
				EmbeddingModel: snap.EmbeddingModel,
				CreatedAt:      snap.CreatedAt.Format(timeFormat),
				Tables:         snap.Len(),
			}
			if len(snap.Vectors) > 0 {
				view.Dimension = len(snap.Vectors[0])
			}
			for _, name := range snap.TableNames() {
				view.TableNames = append(view.TableNames, string(name))
			}
			return writeJSON(c.Root().Writer, view)
		},
	}
}
