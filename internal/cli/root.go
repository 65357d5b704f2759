// Package cli implements the offsync command line.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/Francklinok/EasyRent-sub004/internal/app"
	"github.com/Francklinok/EasyRent-sub004/internal/config"
	"github.com/Francklinok/EasyRent-sub004/internal/connectivity"
	"github.com/Francklinok/EasyRent-sub004/internal/logging"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
	DataDir string
	Online  bool

	// AppOptions are passed to app.Open (for testing).
	AppOptions []app.Option
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "offsync",
		Short: "Offline-first sync core for listings and messages",
		Long: `offsync keeps listings and messages usable without a network.

Every change is written to the local database first and replayed against
the remote API, in order, once the device is back online.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.DataDir, "data-dir", "", "data directory (overrides OFFSYNC_DATA_DIR)")
	cmd.PersistentFlags().BoolVar(&opts.Online, "online", false, "assume the remote API is reachable")

	cmd.AddCommand(newStatusCommand(opts))
	cmd.AddCommand(newDrainCommand(opts))
	cmd.AddCommand(newReconcileCommand(opts))
	cmd.AddCommand(newOutboxCommand(opts))
	cmd.AddCommand(newPropertyCommand(opts))
	cmd.AddCommand(newMessageCommand(opts))
	cmd.AddCommand(newReachabilityCommand(opts))
	cmd.AddCommand(newRunCommand(opts))

	return cmd
}

// openApp loads the configuration and opens the sync core. The returned
// app starts offline unless --online is set or the reachability file says
// otherwise.
func openApp(ctx context.Context, opts *RootOptions) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	if opts.DataDir != "" {
		cfg.DataDir = opts.DataDir
	}
	if opts.Verbose {
		cfg.LogLevel = "debug"
	}

	logger := logging.New(logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		File:   cfg.LogFile,
		Output: os.Stderr,
	})
	slog.SetDefault(logger)

	a, err := app.Open(ctx, cfg, logger, opts.AppOptions...)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open sync core", err)
	}

	online := opts.Online
	if !online && cfg.ReachabilityFile != "" {
		online = connectivity.ReadStatusFile(cfg.ReachabilityFile)
	}
	if online {
		a.Monitor.SetReachable(true)
	}
	return a, nil
}

func closeApp(a *app.App) {
	if err := a.Close(); err != nil {
		slog.Error("error closing sync core", "error", err)
	}
}
