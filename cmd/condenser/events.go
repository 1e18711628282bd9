package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/jo-hoe/condenser/internal/app"
)

func newEventsCommand(ctx *commandContext) *cobra.Command {
	var group, consumer string
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Log the pipeline events recorded in the Redis streams",
		Long: "Read the per-type event streams through a consumer group, earliest entry first,\n" +
			"and log every event until interrupted. Requires events.stream: redis.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if consumer == "" {
				consumer, _ = os.Hostname()
			}
			rootCtx, cancel := signalContext()
			defer cancel()

			a, err := ctx.open(rootCtx, app.Options{})
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()
			return a.FollowStreams(rootCtx, group, consumer)
		},
	}
	cmd.Flags().StringVar(&group, "group", "analytics", "consumer group name")
	cmd.Flags().StringVar(&consumer, "consumer", "", "consumer name within the group (default: hostname)")
	return cmd
}
