package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/jo-hoe/condenser/internal/app"
	"github.com/jo-hoe/condenser/internal/items"
	"github.com/jo-hoe/condenser/internal/stage"
)

const maxErrorColumn = 60

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show the items of a job and their progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rootCtx, cancel := signalContext()
			defer cancel()
			a, err := ctx.open(rootCtx, app.Options{})
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			list, err := a.Store.ListByJob(rootCtx, args[0])
			if err != nil {
				return err
			}
			summary := items.Summarize(args[0], list)
			if asJSON {
				return writeJobJSON(ctx.out, summary, list)
			}
			return renderJob(ctx.out, summary, list)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the job as JSON")
	return cmd
}

func newResubmitCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "resubmit <item-id>",
		Short: "Send a failed or stuck item back to the queue of its stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rootCtx, cancel := signalContext()
			defer cancel()
			a, err := ctx.open(rootCtx, app.Options{})
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()
			return resubmit(rootCtx, ctx.out, a, args[0])
		},
	}
}

func resubmit(ctx context.Context, w io.Writer, a *app.App, id string) error {
	item, err := stage.Resubmit(ctx, a.Log, a.Store, a.Relay, id)
	switch {
	case errors.Is(err, items.ErrNotFound):
		return fmt.Errorf("item %s not found", id)
	case errors.Is(err, stage.ErrAlreadyCompleted):
		return fmt.Errorf("item %s is already completed", id)
	case err != nil:
		return err
	}
	_, err = fmt.Fprintf(w, "Resubmitted %s to %s\n", item.ID, item.Stage.Queue())
	return err
}

func renderJob(w io.Writer, s items.JobSummary, list []items.WorkItem) error {
	if _, err := fmt.Fprintf(w, "Job %s: %s (%d total, %d processing, %d completed, %d failed)\n",
		s.JobID, s.Status, s.Total, s.Processing, s.Completed, s.Failed); err != nil {
		return err
	}
	if len(list) == 0 {
		return nil
	}
	rows := make([][]string, 0, len(list))
	for _, it := range list {
		rows = append(rows, []string{
			it.ID,
			it.Title,
			it.Stage.String(),
			string(it.Status),
			formatDuration(it.Duration),
			truncate(it.Error, maxErrorColumn),
		})
	}
	table := renderTable(
		[]string{"Item", "Title", "Stage", "Status", "Length", "Error"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
	)
	_, err := fmt.Fprintln(w, table)
	return err
}

func writeJobJSON(w io.Writer, s items.JobSummary, list []items.WorkItem) error {
	if list == nil {
		list = []items.WorkItem{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		items.JobSummary
		Items []items.WorkItem `json:"items"`
	}{s, list})
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return d.Round(time.Second).String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
