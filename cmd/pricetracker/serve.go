package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"pricetracker/internal/sink/redissink"
	"pricetracker/internal/tracker"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the tracker and its HTTP read API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			if addr == "" {
				addr = ":" + cfg.Server.Port
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			t, err := tracker.FromConfig(cfg, logger)
			if err != nil {
				return err
			}
			if err := t.Start(ctx); err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := t.Close(shutdownCtx); err != nil {
					logger.Warn().Err(err).Msg("tracker shutdown")
				}
			}()

			g, gctx := errgroup.WithContext(ctx)

			if cfg.Redis.Enabled {
				client, err := redissink.Dial(ctx, cfg.Redis)
				if err != nil {
					return err
				}
				defer client.Close()
				mirror := redissink.New(client, cfg.Redis, redissink.WithLogger(logger.With().Str("component", "redis").Logger()))
				sub := t.Subscribe()
				g.Go(func() error { return mirror.Run(gctx, sub) })
				logger.Info().Str("addr", cfg.Redis.Addr).Msg("mirroring prices to redis")
			}

			srv := &http.Server{
				Addr:              addr,
				Handler:           newHandler(t, cfg.Server.RequestTimeout, logger),
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       15 * time.Second,
				WriteTimeout:      20 * time.Second,
				IdleTimeout:       60 * time.Second,
				// Event streams end with the process, not with Shutdown's grace period.
				BaseContext: func(net.Listener) context.Context { return gctx },
			}
			g.Go(func() error {
				logger.Info().Str("addr", addr).Msg("server listening")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})

			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default :server.port)")
	return cmd
}
