package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/chatpulse/chatpulse/internal/analytics"
	"github.com/chatpulse/chatpulse/internal/auth"
	"github.com/chatpulse/chatpulse/internal/scheduler"
	"github.com/chatpulse/chatpulse/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server and the statistics scheduler",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, log, store, cleanup, err := bootstrap()
	if err != nil {
		return err
	}
	defer cleanup()

	loc, err := cfg.Import.Location()
	if err != nil {
		return fmt.Errorf("invalid timezone: %w", err)
	}
	start, end, err := cfg.Analytics.Window(loc)
	if err != nil {
		return fmt.Errorf("invalid analytics window: %w", err)
	}

	analyticsService := analytics.NewService(store, analytics.Range{Start: start, End: end}, loc, log)
	otp := auth.NewHTTPProvider(cfg.Auth.ProviderBaseURL, cfg.Auth.ProviderSecret, cfg.Auth.ProviderTimeout, log)
	tokens := auth.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	httpService := server.NewService(cfg, store, analyticsService, otp, tokens, log)

	sched, err := scheduler.New(log, &cfg.Scheduler, scheduler.NewTaskRegistry(analyticsService))
	if err != nil {
		return err
	}
	if err := sched.Start(); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return httpService.Start(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		return sched.Stop()
	})

	log.Info("ChatPulse started")
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Service stopped due to error", "error", err)
		return err
	}

	log.Info("ChatPulse stopped gracefully")
	return nil
}
