package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Francklinok/EasyRent-sub004/internal/models"
	"github.com/Francklinok/EasyRent-sub004/internal/outbox"
)

func newOutboxCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outbox",
		Short: "Inspect the outbox",
	}
	cmd.AddCommand(newOutboxListCommand(opts))
	return cmd
}

func newOutboxListCommand(opts *RootOptions) *cobra.Command {
	var (
		status     string
		entityType string
		localID    string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List operations in replay order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newOutput(cmd, opts)
			a, err := openApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer closeApp(a)

			ops, err := a.Outbox.List(cmd.Context(), outbox.ListOptions{
				Status:     models.OperationStatus(status),
				EntityType: models.EntityType(entityType),
				LocalID:    localID,
				Limit:      limit,
			})
			if err != nil {
				return out.Error(err)
			}
			return out.Success(ops, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tKIND\tENTITY\tLOCAL ID\tSTATUS\tATTEMPTS\tUPDATED\tLAST ERROR")
				for _, op := range ops {
					fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
						op.ID, op.Kind, op.EntityType, op.LocalID, op.Status, op.Attempts,
						time.UnixMilli(op.UpdatedAt).Format(time.DateTime), op.LastError)
				}
				tw.Flush()
			})
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "filter by status (queued|in_flight|done|failed_permanent)")
	cmd.Flags().StringVar(&entityType, "type", "", "filter by entity type")
	cmd.Flags().StringVar(&localID, "id", "", "filter by record local id")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of operations")
	return cmd
}
