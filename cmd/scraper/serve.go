package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"lead_scraper/internal/scheduler"
	"lead_scraper/internal/server"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler and the HTTP API",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.close()

	sched, err := scheduler.NewScheduler(a.jobs, a.runner, a.cfg.Scheduler.Spec, a.cfg.Scheduler.Tick, a.logger)
	if err != nil {
		return err
	}

	if a.cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := server.New(a.cfg.Server.Addr, server.Deps{
		Jobs:     a.jobs,
		Results:  a.results,
		Accounts: a.accounts,
		Usage:    a.ledger,
		Slots:    a.limiter,
		Runs:     a.runner,
		DB:       a.db,
	}, a.logger)

	a.logger.Info("starting lead scraper",
		"schedule", a.cfg.Scheduler.Spec,
		"workers", a.cfg.Pipeline.Workers,
		"addr", a.cfg.Server.Addr,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := sched.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()

	// Background runs keep their own timeout; let them record their outcome.
	a.logger.Info("waiting for in-flight runs")
	a.runner.Wait()

	return err
}
