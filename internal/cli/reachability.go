package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Francklinok/EasyRent-sub004/internal/config"
	"github.com/Francklinok/EasyRent-sub004/internal/connectivity"
)

func newReachabilityCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reachability",
		Short: "Read or write the reachability status file",
		Long: `Read or write the reachability status file.

The host platform reports network changes by rewriting this file; a
running "offsync run" watches it and drains the outbox when it flips to
online.`,
	}
	cmd.AddCommand(newReachabilitySetCommand(opts))
	cmd.AddCommand(newReachabilityGetCommand(opts))
	return cmd
}

func statusFilePath(flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	cfg, err := config.Load()
	if err != nil {
		return "", WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	if cfg.ReachabilityFile == "" {
		return "", NewExitError(ExitCommandError, "no status file: set OFFSYNC_REACHABILITY_FILE or pass --file")
	}
	return cfg.ReachabilityFile, nil
}

func newReachabilitySetCommand(opts *RootOptions) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:       "set <online|offline>",
		Short:     "Record whether the remote API is reachable",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"online", "offline"},
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newOutput(cmd, opts)
			path, err := statusFilePath(file)
			if err != nil {
				return err
			}
			reachable := args[0] == "online"
			if err := connectivity.WriteStatusFile(path, reachable); err != nil {
				return out.Error(err)
			}
			return out.Success(map[string]any{"file": path, "reachable": reachable}, func(w io.Writer) {
				fmt.Fprintf(w, "%s: %s\n", path, args[0])
			})
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "status file (defaults to OFFSYNC_REACHABILITY_FILE)")
	return cmd
}

func newReachabilityGetCommand(opts *RootOptions) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "get",
		Short: "Print the recorded reachability",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newOutput(cmd, opts)
			path, err := statusFilePath(file)
			if err != nil {
				return err
			}
			reachable := connectivity.ReadStatusFile(path)
			return out.Success(map[string]any{"file": path, "reachable": reachable}, func(w io.Writer) {
				state := "offline"
				if reachable {
					state = "online"
				}
				fmt.Fprintf(w, "%s: %s\n", path, state)
			})
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "status file (defaults to OFFSYNC_REACHABILITY_FILE)")
	return cmd
}
