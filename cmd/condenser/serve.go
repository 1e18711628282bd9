package main

import (
	"context"
	"errors"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/jo-hoe/condenser/internal/app"
	"github.com/jo-hoe/condenser/internal/items"
	"github.com/jo-hoe/condenser/internal/server"
)

func newAPICommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "api",
		Short: "Serve the submission and status API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.serve(nil)
		},
	}
}

func newAllCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "all",
		Short: "Serve the API and run every stage in one process",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.serve(items.Stages())
		},
	}
}

// serve runs the API, and the given stages next to it, until a signal arrives or one of them fails.
func (c *commandContext) serve(stages []items.Stage) error {
	rootCtx, cancel := signalContext()
	defer cancel()

	a, err := c.open(rootCtx, app.Options{Hub: true})
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()
	logger := a.Log
	cfg := a.Cfg

	a.RunHub(rootCtx)
	svc := &server.Service{
		Log:    logger,
		Cfg:    cfg,
		Store:  a.Store,
		Relay:  a.Relay,
		Layout: a.Layout,
		Events: a.Events,
		Feed:   a.Hub,
	}
	sched, err := server.NewScheduler(logger, svc, cfg.Schedules)
	if err != nil {
		return err
	}
	httpSrv := server.NewHTTPServer(svc)

	errCh := make(chan error, 2)
	go func() {
		logger.Info("http server starting", "address", cfg.Server.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stagesDone := make(chan struct{})
	if len(stages) > 0 {
		go func() {
			defer close(stagesDone)
			if err := a.RunStages(rootCtx, stages); err != nil {
				errCh <- err
			}
		}()
	} else {
		close(stagesDone)
	}

	sched.Start()
	logger.Info("schedules started", "count", sched.Len())

	var runErr error
	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case runErr = <-errCh:
		logger.Error("server error", "err", runErr)
	}
	cancel()

	// Graceful shutdown
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
	defer cancelShutdown()
	sched.Stop(shutdownCtx)
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "err", err)
	}
	<-stagesDone
	logger.Info("server stopped")
	return runErr
}
