package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newRunCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Watch connectivity and sync in the foreground",
		Long: `Watch connectivity and sync in the foreground.

The outbox is drained whenever the remote API becomes reachable, as
reported by the status file (OFFSYNC_REACHABILITY_FILE) or the health
probe (OFFSYNC_PROBE_URL). Metrics are served on OFFSYNC_METRICS_ADDR
when set. Stops on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			parentCtx := cmd.Context()
			if parentCtx == nil {
				parentCtx = context.Background()
			}
			ctx, cancel := context.WithCancel(parentCtx)
			defer cancel()

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigChan)

			go func() {
				select {
				case sig := <-sigChan:
					slog.Info("received signal, shutting down", "signal", sig)
					cancel()
				case <-ctx.Done():
				}
			}()

			a, err := openApp(ctx, opts)
			if err != nil {
				return err
			}
			defer closeApp(a)

			sources := a.Sources()
			if len(sources) == 0 && !opts.Online {
				slog.Warn("no reachability source configured; staying offline until restarted with --online")
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Sync core running. Press Ctrl-C to stop.")

			if err := a.Run(ctx); err != nil {
				return WrapExitError(ExitFailure, "sync core stopped", err)
			}
			return nil
		},
	}
}
