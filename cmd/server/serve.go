package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"medgate/internal/platform/config"
	"medgate/internal/platform/httpserver"
	"medgate/internal/platform/kafka"
	"medgate/internal/platform/logger"
)

func serveCmd(load func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return runServer(cmd.Context(), cfg, load)
		},
	}
}

func runServer(parent context.Context, cfg *config.Config, load func() (*config.Config, error)) error {
	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	in, err := openInfra(ctx, cfg)
	if err != nil {
		return err
	}
	defer in.close()

	if in.kafka != nil {
		if err := kafka.EnsureTopics(ctx, in.kafka, cfg.Kafka); err != nil {
			return err
		}
	}

	a, err := buildApp(cfg, load, in, log)
	if err != nil {
		return fmt.Errorf("assemble gateway: %w", err)
	}

	srv := httpserver.New(cfg.Server, a.router, log)
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.security.Run(ctx)
	})

	// Expired counters and idle 401 windows are evicted on a timer.
	g.Go(func() error {
		a.counters.RunJanitor(ctx, cfg.Gateway.JanitorInterval)
		return nil
	})
	g.Go(func() error {
		a.monitor.RunJanitor(ctx, cfg.Gateway.JanitorInterval)
		return nil
	})

	g.Go(func() error {
		log.Info("starting medgate",
			"addr", cfg.Server.Addr,
			"env", cfg.Env,
			"version", cfg.Server.Version,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	// SIGHUP reloads the security config and the permission matrix.
	g.Go(func() error {
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-hup:
				a.snapshots.Invalidate()
				a.matrices.Invalidate()
				log.Info("security config and permission matrix invalidated")
			}
		}
	})

	return g.Wait()
}
