package main

import (
	"github.com/spf13/cobra"

	"github.com/jo-hoe/condenser/internal/app"
)

func newStageCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stage <name>...",
		Short: "Consume the queues of one or more stages",
		Long: "Consume the queues of the named stages until interrupted.\n" +
			"Names: discovery, download, audio-extraction, transcription, summarization or all.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := app.ParseStages(args)
			if err != nil {
				return err
			}
			rootCtx, cancel := signalContext()
			defer cancel()

			a, err := ctx.open(rootCtx, app.Options{})
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()
			err = a.RunStages(rootCtx, list)
			a.Log.Info("stages stopped")
			return err
		},
	}
}
