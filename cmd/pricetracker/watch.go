package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"pricetracker/internal/broadcast"
	"pricetracker/internal/price"
	"pricetracker/internal/tracker"
)

func newWatchCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Run the tracker and print its events until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			t, err := tracker.FromConfig(cfg, logger)
			if err != nil {
				return err
			}
			// Subscribe before Start so the first cycle is not missed.
			sub := t.SubscribeEvents()
			if err := t.Start(ctx); err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = t.Close(shutdownCtx)
			}()

			return printEvents(ctx, cmd.OutOrStdout(), sub, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print one JSON event per line")
	return cmd
}

// printEvents writes events from sub to w until ctx ends or the hub closes.
func printEvents(ctx context.Context, w io.Writer, sub *broadcast.Subscription[price.Event], asJSON bool) error {
	defer sub.Close()
	enc := json.NewEncoder(w)
	for {
		ev, err := sub.Recv(ctx)
		var lagged *broadcast.LaggedError
		switch {
		case errors.As(err, &lagged):
			fmt.Fprintf(w, "... %d events dropped\n", lagged.Missed)
			continue
		case errors.Is(err, broadcast.ErrClosed), ctx.Err() != nil:
			return nil
		case err != nil:
			return err
		}
		if asJSON {
			if err := enc.Encode(ev); err != nil {
				return err
			}
			continue
		}
		fmt.Fprintf(w, "%s  %s\n", ev.Timestamp.Local().Format(time.TimeOnly), ev)
	}
}
