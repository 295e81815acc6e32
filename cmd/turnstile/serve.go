package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Rorqualx/turnstile-solver-go/internal/config"
	"github.com/Rorqualx/turnstile-solver-go/internal/dashboard"
	"github.com/Rorqualx/turnstile-solver-go/internal/localserver"
	"github.com/Rorqualx/turnstile-solver-go/internal/metrics"
	"github.com/Rorqualx/turnstile-solver-go/pkg/version"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(cfg *config.Config) *cobra.Command {
	var tui bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local solving server until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), cfg, tui)
		},
	}
	cmd.Flags().StringVar(&cfg.Host, "host", cfg.Host, "listen host")
	cmd.Flags().IntVar(&cfg.Port, "port", cfg.Port, "listen port")
	cmd.Flags().BoolVar(&tui, "tui", false, "show the live session dashboard")
	return cmd
}

func serve(parent context.Context, cfg *config.Config, tui bool) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().
		Str("version", version.Full()).
		Str("go_version", version.GoVersion()).
		Msg("Starting turnstile local solving server")

	srv := localserver.New(localserver.ConfigFrom(cfg), nil)
	if err := srv.Start(); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		select {
		case <-ctx.Done():
		case <-srv.Done():
			if err := srv.Err(); err != nil {
				return err
			}
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if cfg.PrometheusEnabled {
		startMetrics(ctx, g, cfg.PrometheusPort)
	}

	if tui {
		g.Go(func() error {
			if err := dashboard.Run(ctx, srv, time.Second); err != nil {
				return err
			}
			// Quitting the dashboard stops the server.
			stop()
			return nil
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info().Msg("Shutdown complete")
	return nil
}

// startMetrics serves /metrics on its own port until ctx is done.
func startMetrics(ctx context.Context, g *errgroup.Group, port int) {
	metrics.SetBuildInfo(version.Full(), version.GoVersion())

	stopCh := make(chan struct{})
	go metrics.StartMemoryCollector(10*time.Second, stopCh)

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		log.Info().Int("port", port).Msg("Prometheus metrics server started")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		close(stopCh)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
}
