// Package services is the entity-facing façade over the sync core. Every
// mutation is written locally first and then either applied remotely
// right away or left in the outbox, depending on connectivity.
package services

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/Francklinok/EasyRent-sub004/internal/attachment"
	"github.com/Francklinok/EasyRent-sub004/internal/db"
	"github.com/Francklinok/EasyRent-sub004/internal/errors"
	"github.com/Francklinok/EasyRent-sub004/internal/logging"
	"github.com/Francklinok/EasyRent-sub004/internal/metrics"
	"github.com/Francklinok/EasyRent-sub004/internal/models"
	"github.com/Francklinok/EasyRent-sub004/internal/outbox"
	"github.com/Francklinok/EasyRent-sub004/internal/remote"
	"github.com/Francklinok/EasyRent-sub004/internal/store"
	"github.com/Francklinok/EasyRent-sub004/internal/uuid"
)

// Connectivity is the reachability query the services need.
type Connectivity interface {
	IsConnected() bool
}

// Context holds the collaborators shared by the entity services. Several
// independent contexts may exist side by side.
type Context struct {
	DB           *db.DB
	Store        *store.Store
	Outbox       *outbox.Queue
	Remote       remote.API
	Connectivity Connectivity
	Attachments  *attachment.Pipeline
	// Syncer, when set, is kicked after a mutation is queued while
	// connected so it does not wait for the next transition.
	Syncer attachment.Syncer
	Logger *slog.Logger
	// Timeout bounds direct remote calls. Zero means 15s.
	Timeout time.Duration
	Now     func() time.Time
}

func (c *Context) logger() *slog.Logger {
	return logging.OrDiscard(c.Logger)
}

func (c *Context) timeout() time.Duration {
	if c.Timeout <= 0 {
		return 15 * time.Second
	}
	return c.Timeout
}

func (c *Context) now() int64 {
	if c.Now != nil {
		return c.Now().UnixMilli()
	}
	return time.Now().UnixMilli()
}

func (c *Context) online() bool {
	return c.Connectivity != nil && c.Connectivity.IsConnected() && c.Remote != nil
}

// change is one local mutation and the remote operation that mirrors it.
type change struct {
	entityType models.EntityType
	// localID is empty for creates.
	localID string
	fields  models.Fields
	delete  bool
	// draft builds the operation for the written record. It is not called
	// when the record turns out to need a fresh Create instead.
	draft func(rec models.Record) outbox.Draft
}

// apply writes c locally and resolves its remote outcome. The record is
// returned as last written.
func (c *Context) apply(ctx context.Context, ch change) (models.Record, Outcome, error) {
	var (
		rec    models.Record
		draft  outbox.Draft
		direct int64
		out    Outcome
	)

	err := c.DB.RunInTx(ctx, func(tx *db.Tx) error {
		st := c.Store.WithTx(tx)
		ob := c.Outbox.WithTx(tx)

		var (
			err         error
			outstanding bool
		)
		pending := models.SyncStatusPending
		if ch.localID == "" {
			rec, err = st.Create(ctx, ch.entityType, ch.fields, pending)
			if err != nil {
				return err
			}
			draft = outbox.CreateDraft(ch.entityType, rec.ID, rec.Fields)
		} else {
			current, err := st.Get(ctx, ch.entityType, ch.localID)
			if err != nil {
				return err
			}
			if current.Deleted {
				return errors.NotFound(string(ch.entityType), ch.localID)
			}
			outstanding, err = ob.HasOutstanding(ctx, ch.entityType, ch.localID, 0)
			if err != nil {
				return err
			}

			if ch.delete && !current.HasServerID() && !outstanding {
				// Never reached the remote service; nothing to undo there.
				if err := c.dropChildUploads(ctx, tx, ch.entityType, ch.localID); err != nil {
					return err
				}
				if err := st.HardDelete(ctx, ch.entityType, ch.localID); err != nil {
					return err
				}
				rec = current
				rec.Deleted = true
				out = Applied{}
				return nil
			}

			patch := store.Patch{Fields: ch.fields, SyncStatus: &pending, ClearError: true}
			if ch.delete {
				deleted := true
				patch.Deleted = &deleted
			}
			rec, err = st.Update(ctx, ch.entityType, ch.localID, patch)
			if err != nil {
				return err
			}

			if current.SyncStatus == models.SyncStatusError && !current.HasServerID() && !outstanding {
				// The original create was rejected: resubmit the whole
				// record under a new key.
				draft = outbox.CreateDraft(ch.entityType, rec.ID, rec.Fields)
				draft.IdempotencyKey = uuid.New()
			} else {
				draft = ch.draft(rec)
			}
		}
		if draft.IdempotencyKey == "" {
			draft.IdempotencyKey = uuid.New()
		}

		op, err := ob.Enqueue(ctx, draft)
		if err != nil {
			return err
		}
		draft.IdempotencyKey = op.IdempotencyKey
		if c.online() && !outstanding {
			// Claimed before the call so later mutations of the record
			// queue behind it instead of racing it.
			direct = op.ID
			return ob.MarkInFlight(ctx, op.ID)
		}
		out = Queued{OperationID: op.ID}
		return nil
	})
	if err != nil {
		return models.Record{}, nil, err
	}

	kick := false
	if direct != 0 {
		rec, out, err = c.send(ctx, rec, direct, draft)
		if err != nil {
			return models.Record{}, nil, err
		}
		// Operations queued while the call was out wait on the drain.
		counts, err := c.Outbox.Counts(context.WithoutCancel(ctx))
		if err != nil {
			return models.Record{}, nil, err
		}
		kick = counts.Queued > 0
	}

	metrics.MutationOutcomes.WithLabelValues(out.String(), string(ch.entityType)).Inc()
	if _, queued := out.(Queued); queued {
		kick = true
	}
	if kick && c.Syncer != nil && c.online() {
		c.Syncer.Kick(context.WithoutCancel(ctx))
	}
	return rec, out, nil
}

// dropChildUploads fails the queued uploads of a parent that is about to be
// removed before it ever synced.
func (c *Context) dropChildUploads(ctx context.Context, tx *db.Tx, parent models.EntityType, parentID string) error {
	attType, err := models.AttachmentTypeFor(parent)
	if err != nil {
		return nil
	}
	atts, err := c.Store.WithTx(tx).ListAttachments(ctx, parent, parentID)
	if err != nil {
		return err
	}
	ob := c.Outbox.WithTx(tx)
	for _, att := range atts {
		n, err := ob.FailOutstanding(ctx, attType, att.ID, "parent "+parentID+" was deleted before it synced")
		if err != nil {
			return err
		}
		if n > 0 {
			c.logger().Info("dropped uploads of deleted parent",
				slog.String("attachment_id", att.ID), slog.Int("operations", n))
		}
	}
	return nil
}

// send attempts the in-flight operation opID right away. A transport
// failure requeues it under the same idempotency key.
func (c *Context) send(ctx context.Context, rec models.Record, opID int64, draft outbox.Draft) (models.Record, Outcome, error) {
	log := c.logger().With(
		slog.String("entity_type", string(rec.EntityType)),
		slog.String("local_id", rec.ID),
		slog.String("kind", string(draft.Kind)),
	)

	req := remote.Request{
		Method:         draft.Method,
		Path:           draft.Endpoint,
		IdempotencyKey: draft.IdempotencyKey,
	}
	if rec.HasServerID() {
		req.Path = strings.ReplaceAll(draft.Endpoint, models.ServerIDPlaceholder, rec.ServerID)
	}
	if draft.Kind != models.OpDelete {
		req.Body = draft.Payload
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout())
	resp, callErr := c.Remote.Send(callCtx, req)
	cancel()

	bctx := context.WithoutCancel(ctx)
	if callErr != nil {
		if re, ok := remote.AsRejected(callErr); ok {
			log.Warn("mutation rejected", slog.String("reason", re.Message))
			var updated models.Record
			err := c.DB.RunInTx(bctx, func(tx *db.Tx) error {
				if err := c.Outbox.WithTx(tx).MarkFailedPermanent(bctx, opID, re.Message); err != nil {
					return err
				}
				status := models.SyncStatusError
				var err error
				updated, err = c.Store.WithTx(tx).Update(bctx, rec.EntityType, rec.ID, store.Patch{
					SyncStatus:   &status,
					ErrorMessage: &re.Message,
				})
				return err
			})
			if err != nil {
				return models.Record{}, nil, err
			}
			return updated, Rejected{Reason: re.Message}, nil
		}

		log.Info("remote unavailable, queueing mutation", slog.Any("error", callErr))
		if err := c.Outbox.Requeue(bctx, opID, callErr.Error()); err != nil {
			return models.Record{}, nil, err
		}
		return rec, Queued{OperationID: opID}, nil
	}

	var (
		updated models.Record
		out     Outcome
	)
	err := c.DB.RunInTx(bctx, func(tx *db.Tx) error {
		st := c.Store.WithTx(tx)
		ob := c.Outbox.WithTx(tx)
		if err := ob.MarkDone(bctx, opID); err != nil {
			return err
		}
		if draft.Kind == models.OpDelete {
			out = Applied{ServerID: rec.ServerID}
			updated = rec
			return st.HardDelete(bctx, rec.EntityType, rec.ID)
		}

		outstanding, err := ob.HasOutstanding(bctx, rec.EntityType, rec.ID, opID)
		if err != nil {
			return err
		}
		status := models.SyncStatusSynced
		if outstanding {
			status = models.SyncStatusPending
		}
		now := c.now()
		patch := store.Patch{SyncStatus: &status, LastSyncAt: &now, ClearError: true}
		serverID := rec.ServerID
		out = Applied{ServerID: serverID}
		if draft.Kind == models.OpCreate {
			if resp.ID == "" {
				reason := "create acknowledged without an id"
				status = models.SyncStatusError
				patch.ErrorMessage = &reason
				patch.ClearError = false
				out = Rejected{Reason: reason}
			} else {
				serverID = resp.ID
				patch.ServerID = &serverID
				out = Applied{ServerID: serverID}
			}
		}
		updated, err = st.Update(bctx, rec.EntityType, rec.ID, patch)
		return err
	})
	if err != nil {
		return models.Record{}, nil, err
	}
	log.Debug("mutation applied", slog.String("server_id", updated.ServerID))
	return updated, out, nil
}

// validation maps a domain validation failure to INVALID_INPUT.
func validation(err error) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(errors.ErrInvalid, err.Error(), err)
}
