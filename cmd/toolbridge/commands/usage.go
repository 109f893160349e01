package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/florianilch/toolbridge/internal/usage"
)

func usageCommand() *cli.Command {
	return &cli.Command{
		Name:  "usage",
		Usage: "Print per-model request totals from the usage ledger",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "since",
				Usage: "only include requests started within this window",
				Value: 24 * time.Hour,
			},
		},
		Action: usageAction,
	}
}

func usageAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd.String("config"), cmd, os.Environ)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Usage.Database == "" {
		return errors.New("usage ledger is disabled; set usage.database")
	}

	store, err := usage.Open(ctx, cfg.Usage.Database)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close(context.Background()) }()

	summaries, err := store.Summary(ctx, time.Now().Add(-cmd.Duration("since")))
	if err != nil {
		return err
	}
	return printSummary(os.Stdout, summaries)
}

func printSummary(w io.Writer, summaries []usage.ModelSummary) error {
	if len(summaries) == 0 {
		_, err := fmt.Fprintln(w, "no requests recorded")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "MODEL\tREQUESTS\tFAILED\tINPUT\tOUTPUT\tTOOL CALLS")
	for _, s := range summaries {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\n",
			s.Model, s.Requests, s.Failures, s.InputTokens, s.OutputTokens, s.ToolCalls)
	}
	return tw.Flush()
}
