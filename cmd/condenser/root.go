package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jo-hoe/condenser/internal/app"
	"github.com/jo-hoe/condenser/internal/config"
)

// commandContext carries the flags shared by every subcommand and loads the config once.
type commandContext struct {
	configFlag *string
	cfg        *config.Config
	out        io.Writer
}

func newRootCommand() *cobra.Command {
	var configFlag string
	ctx := &commandContext{configFlag: &configFlag, out: os.Stdout}

	rootCmd := &cobra.Command{
		Use:           "condenser",
		Short:         "Discover, transcribe and summarize media from a channel",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			ctx.out = cmd.OutOrStdout()
			if shouldSkipConfig(cmd) {
				return nil
			}
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path (default $CONDENSER_CONFIG or config.yaml)")

	rootCmd.AddCommand(newAPICommand(ctx))
	rootCmd.AddCommand(newStageCommand(ctx))
	rootCmd.AddCommand(newAllCommand(ctx))
	rootCmd.AddCommand(newStatusCommand(ctx))
	rootCmd.AddCommand(newResubmitCommand(ctx))
	rootCmd.AddCommand(newEventsCommand(ctx))
	return rootCmd
}

// shouldSkipConfig reports commands that run without a configuration file.
func shouldSkipConfig(cmd *cobra.Command) bool {
	if cmd == cmd.Root() {
		return true
	}
	switch cmd.Name() {
	case "help", "completion", "__complete":
		return true
	}
	return cmd.Parent() != nil && cmd.Parent().Name() == "completion"
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	if c.cfg != nil {
		return c.cfg, nil
	}
	cfg, err := config.Load(*c.configFlag)
	if err != nil {
		return nil, err
	}
	c.cfg = cfg
	return cfg, nil
}

func (c *commandContext) logger() *slog.Logger {
	return newLogger(os.Stdout, c.cfg.Server.LogLevel, c.cfg.Server.LogFormat)
}

// open connects the shared handles with a logger built from the loaded config. The caller closes them.
func (c *commandContext) open(ctx context.Context, opts app.Options) (*app.App, error) {
	log := c.logger()
	slog.SetDefault(log)
	a, err := app.Open(ctx, log, c.cfg, opts)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	return a, nil
}

func newLogger(w io.Writer, level, format string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
