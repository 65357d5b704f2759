package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Francklinok/EasyRent-sub004/internal/models"
	syncengine "github.com/Francklinok/EasyRent-sub004/internal/sync"
)

func newDrainCommand(opts *RootOptions) *cobra.Command {
	var entityType string

	cmd := &cobra.Command{
		Use:   "drain",
		Short: "Replay queued operations against the remote API",
		Long: `Replay queued operations against the remote API.

Operations for one entity type are sent strictly in order; a transport
failure stops that type until the next drain. Rejected operations are
marked failed and never retried.

Example:
  offsync drain --online
  offsync drain --online --type message --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newOutput(cmd, opts)
			a, err := openApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer closeApp(a)

			// Going online at open starts a background drain; let it finish
			// and fold its counts into this run's report.
			a.Engine.Wait()
			prior := a.Engine.LastReport()

			report, err := a.Engine.Drain(cmd.Context(), models.EntityType(entityType))
			if err != nil {
				return out.Error(err)
			}
			if prior != nil {
				report = combine(*prior, report)
			}
			return out.Success(report, func(w io.Writer) {
				fmt.Fprintf(w, "Synced %d, failed %d, deferred %d, pending %d (%s)\n",
					report.Synced, report.Failed, report.Deferred, report.Pending, report.Duration)
				for t, er := range report.PerEntity {
					if er.Blocked {
						fmt.Fprintf(w, "  %s: blocked on a transport failure\n", t)
					}
				}
			})
		},
	}

	cmd.Flags().StringVar(&entityType, "type", "", "only drain this entity type")
	return cmd
}

func newReconcileCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Queue operations for pending records that have none",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newOutput(cmd, opts)
			a, err := openApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer closeApp(a)

			n, err := a.Engine.Reconcile(cmd.Context())
			if err != nil {
				return out.Error(err)
			}
			return out.Success(map[string]int{"enqueued": n}, func(w io.Writer) {
				fmt.Fprintf(w, "Enqueued %d operation(s)\n", n)
			})
		},
	}
}

func combine(prior, latest syncengine.Report) syncengine.Report {
	latest.Synced += prior.Synced
	latest.Failed += prior.Failed
	latest.Deferred += prior.Deferred
	latest.Passes += prior.Passes
	latest.Duration += prior.Duration
	if latest.PerEntity == nil {
		latest.PerEntity = make(map[models.EntityType]*syncengine.EntityReport)
	}
	for t, er := range prior.PerEntity {
		cur, ok := latest.PerEntity[t]
		if !ok {
			latest.PerEntity[t] = er
			continue
		}
		cur.Synced += er.Synced
		cur.Failed += er.Failed
		cur.Deferred += er.Deferred
	}
	return latest
}
