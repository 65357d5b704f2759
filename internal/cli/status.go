package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Francklinok/EasyRent-sub004/internal/attachment"
	"github.com/Francklinok/EasyRent-sub004/internal/models"
	"github.com/Francklinok/EasyRent-sub004/internal/outbox"
	"github.com/Francklinok/EasyRent-sub004/internal/store"
)

// StatusReport is the output of the status command.
type StatusReport struct {
	DataDir       string                            `json:"data_dir"`
	SchemaVersion uint                              `json:"schema_version"`
	Connected     bool                              `json:"connected"`
	Outbox        outbox.Counts                     `json:"outbox"`
	Records       map[models.EntityType]RecordStats `json:"records"`
	Cache         *attachment.Stats                 `json:"cache"`
}

// RecordStats counts an entity type's records by sync status.
type RecordStats struct {
	Synced  int `json:"synced"`
	Pending int `json:"pending"`
	Error   int `json:"error"`
}

func newStatusCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show outbox and record sync state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newOutput(cmd, opts)
			a, err := openApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer closeApp(a)

			ctx := cmd.Context()
			report := StatusReport{
				DataDir:   a.Config.DataDir,
				Connected: a.Monitor.IsConnected(),
				Records:   make(map[models.EntityType]RecordStats),
			}
			if v, _, err := a.DB.SchemaVersion(); err == nil {
				report.SchemaVersion = v
			}
			if report.Outbox, err = a.Outbox.Counts(ctx); err != nil {
				return out.Error(err)
			}
			for _, t := range models.EntityTypes() {
				var rs RecordStats
				for status, n := range map[models.SyncStatus]*int{
					models.SyncStatusSynced:  &rs.Synced,
					models.SyncStatusPending: &rs.Pending,
					models.SyncStatusError:   &rs.Error,
				} {
					if *n, err = a.Store.Count(ctx, t, store.Status(status)); err != nil {
						return out.Error(err)
					}
				}
				report.Records[t] = rs
			}
			if report.Cache, err = a.Attachments.Cache().Stats(); err != nil {
				return out.Error(err)
			}

			return out.Success(report, func(w io.Writer) {
				fmt.Fprintf(w, "Data dir:   %s (schema v%d)\n", report.DataDir, report.SchemaVersion)
				fmt.Fprintf(w, "Connected:  %t\n", report.Connected)
				fmt.Fprintf(w, "Outbox:     %d queued, %d in flight, %d done, %d failed\n",
					report.Outbox.Queued, report.Outbox.InFlight, report.Outbox.Done, report.Outbox.FailedPermanent)
				for _, t := range models.EntityTypes() {
					rs := report.Records[t]
					fmt.Fprintf(w, "%-20s %d synced, %d pending, %d error\n", string(t)+":", rs.Synced, rs.Pending, rs.Error)
				}
				fmt.Fprintf(w, "Cache:      %d files, %d bytes\n", report.Cache.TotalFiles, report.Cache.TotalSize)
			})
		},
	}
}
