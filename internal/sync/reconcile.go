package sync

import (
	"context"
	"log/slog"

	"github.com/Francklinok/EasyRent-sub004/internal/db"
	"github.com/Francklinok/EasyRent-sub004/internal/models"
	"github.com/Francklinok/EasyRent-sub004/internal/outbox"
	"github.com/Francklinok/EasyRent-sub004/internal/store"
)

// Recover prepares the queue after a restart: operations a crash left in
// flight are queued again with their original idempotency keys, and pending
// records without any outstanding operation get one.
func (e *Engine) Recover(ctx context.Context) error {
	n, err := e.outbox.RecoverInFlight(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		e.logger.Info("requeued in-flight operations", slog.Int("count", n))
	}
	_, err = e.Reconcile(ctx)
	return err
}

// Reconcile enqueues the operation each orphaned pending record needs and
// returns how many it enqueued. A pending record is orphaned when a crash
// or a failed enqueue left it without a queued operation.
func (e *Engine) Reconcile(ctx context.Context) (int, error) {
	var enqueued int
	for _, t := range models.EntityTypes() {
		recs, err := e.store.Query(ctx, t, store.Status(models.SyncStatusPending))
		if err != nil {
			return enqueued, err
		}
		for _, rec := range recs {
			ok, err := e.reconcileRecord(ctx, t, rec)
			if err != nil {
				return enqueued, err
			}
			if ok {
				enqueued++
			}
		}
	}
	if enqueued > 0 {
		e.logger.Info("reconciled orphaned pending records", slog.Int("count", enqueued))
	}
	return enqueued, nil
}

func (e *Engine) reconcileRecord(ctx context.Context, t models.EntityType, rec models.Record) (bool, error) {
	var enqueued bool
	err := e.db.RunInTx(ctx, func(tx *db.Tx) error {
		ob := e.outbox.WithTx(tx)
		outstanding, err := ob.HasOutstanding(ctx, t, rec.ID, 0)
		if err != nil || outstanding {
			return err
		}

		var draft outbox.Draft
		switch {
		case models.Entities[t].IsAttachment():
			att := models.AttachmentFromRecord(rec)
			if att.Uploaded() {
				return e.markSynced(ctx, tx, t, rec.ID)
			}
			draft = outbox.UploadDraft(t, att)
		case rec.Deleted && !rec.HasServerID():
			return e.store.WithTx(tx).HardDelete(ctx, t, rec.ID)
		case rec.Deleted:
			draft = outbox.DeleteDraft(t, rec.ID)
		case !rec.HasServerID():
			draft = outbox.CreateDraft(t, rec.ID, rec.Fields)
		default:
			draft = outbox.UpdateDraft(t, rec.ID, rec.Fields)
		}

		if _, err := ob.Enqueue(ctx, draft); err != nil {
			return err
		}
		enqueued = true
		return nil
	})
	return enqueued, err
}

func (e *Engine) markSynced(ctx context.Context, tx *db.Tx, t models.EntityType, id string) error {
	status := models.SyncStatusSynced
	_, err := e.store.WithTx(tx).Update(ctx, t, id, store.Patch{SyncStatus: &status})
	return err
}
